package broker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	return New(zerolog.Nop())
}

// countOpenFDs is the resource-leak check for allocation failure paths.
func countOpenFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(entries)
}

func TestAllocate(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)
	defer b.Finalize(sess)

	assert.NotEmpty(t, sess.ID)
	assert.True(t, strings.HasPrefix(sess.SlavePath, "/dev/pts/"), "slave path %q", sess.SlavePath)
	assert.Equal(t, StateAllocated, sess.State())
	assert.Same(t, sess, b.Sessions().Get(sess.ID))

	// The slave must be openable once granted and unlocked.
	slave, err := os.OpenFile(sess.SlavePath, os.O_RDWR, 0)
	require.NoError(t, err)
	slave.Close()
}

func TestAllocateDistinctSlaves(t *testing.T) {
	b := newTestBroker(t)

	first, err := b.Allocate()
	require.NoError(t, err)
	defer b.Finalize(first)

	second, err := b.Allocate()
	require.NoError(t, err)
	defer b.Finalize(second)

	assert.NotEqual(t, first.SlavePath, second.SlavePath)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, b.Sessions().Count())
}

func TestAllocateOpenFailure(t *testing.T) {
	b := newTestBroker(t)
	b.ptmxPath = filepath.Join(t.TempDir(), "missing")

	before := countOpenFDs(t)
	sess, err := b.Allocate()
	assert.Nil(t, sess)
	require.ErrorIs(t, err, ErrAllocationFailed)
	assert.Equal(t, before, countOpenFDs(t))
	assert.Equal(t, 0, b.Sessions().Count())
}

func TestAllocateGrantFailure(t *testing.T) {
	b := newTestBroker(t)
	// A regular file accepts the open but rejects the pty ioctls, so the
	// handshake fails at the grant step.
	plain := filepath.Join(t.TempDir(), "not-a-ptmx")
	require.NoError(t, os.WriteFile(plain, nil, 0600))
	b.ptmxPath = plain

	before := countOpenFDs(t)
	sess, err := b.Allocate()
	assert.Nil(t, sess)
	require.ErrorIs(t, err, ErrAllocationFailed)
	assert.Contains(t, err.Error(), "grant")
	assert.Equal(t, before, countOpenFDs(t), "master handle leaked")
	assert.Equal(t, 0, b.Sessions().Count())
}

func TestAllocateUnlockFailure(t *testing.T) {
	b := newTestBroker(t)
	b.unlock = func(fd int) error {
		return errors.New("forced unlock failure")
	}

	before := countOpenFDs(t)
	sess, err := b.Allocate()
	assert.Nil(t, sess)
	require.ErrorIs(t, err, ErrAllocationFailed)
	assert.Contains(t, err.Error(), "unlock")
	assert.Equal(t, before, countOpenFDs(t), "master handle leaked")
	assert.Equal(t, 0, b.Sessions().Count())
}
