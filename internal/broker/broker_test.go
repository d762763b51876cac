package broker

import (
	"bytes"
	"context"
	"io"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEndEcho(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	pid, err := b.Launch(sess, "/bin/echo", []string{"hello"}, nil)
	require.NoError(t, err)
	assert.Greater(t, pid, 0)
	assert.Equal(t, StateLaunched, sess.State())
	assert.Equal(t, pid, sess.Pid())

	var out bytes.Buffer
	outcome := b.Relay(context.Background(), sess, blockedReader(t), &out)

	assert.Equal(t, CauseMasterClosed, outcome.Cause)
	assert.NoError(t, outcome.Err)
	// The pty line discipline maps \n to \r\n on output.
	assert.Contains(t, out.String(), "hello")

	status, err := b.Finalize(sess)
	require.NoError(t, err)
	assert.False(t, status.NeverStarted)
	assert.False(t, status.Signaled)
	assert.Equal(t, 0, status.Code)
	assert.Equal(t, StateTerminated, sess.State())
	assert.Nil(t, b.Sessions().Get(sess.ID))
}

func TestRoundTripThroughChild(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	// The child reads one line from its terminal, echoes it back and
	// exits, ending the relay from the master side.
	_, err = b.Launch(sess, "/bin/sh", []string{"-c", "read line; echo got:$line"}, nil)
	require.NoError(t, err)

	in, inW := io.Pipe()
	t.Cleanup(func() { inW.Close() })
	go inW.Write([]byte("ping\n"))

	var out bytes.Buffer
	outcome := b.Relay(context.Background(), sess, in, &out)
	assert.Equal(t, CauseMasterClosed, outcome.Cause)
	assert.Contains(t, out.String(), "got:ping")

	status, err := b.Finalize(sess)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Code)
}

func TestExternalCloseFirst(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	_, err = b.Launch(sess, "/bin/cat", nil, nil)
	require.NoError(t, err)

	in, inW := io.Pipe()
	go func() {
		inW.Write([]byte("hi\n"))
		inW.Close()
	}()

	outcome := b.Relay(context.Background(), sess, in, io.Discard)
	assert.Equal(t, CauseExternalClosed, outcome.Cause)

	// The child may still be running; finalize hangs up its terminal,
	// letting it exit, and must still collect the status.
	status, err := b.Finalize(sess)
	require.NoError(t, err)
	assert.True(t, status.Signaled)
	assert.Equal(t, syscall.SIGHUP, status.Signal)
}

func TestRelayCancellation(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	_, err = b.Launch(sess, "/bin/cat", nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := b.Relay(ctx, sess, blockedReader(t), io.Discard)
	assert.Equal(t, CauseCanceled, outcome.Cause)
	assert.ErrorIs(t, outcome.Err, ErrRelayIO)

	status, err := b.Finalize(sess)
	require.NoError(t, err)
	assert.True(t, status.Signaled)
}

func TestLaunchExitCode(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	_, err = b.Launch(sess, "/bin/sh", []string{"-c", "exit 3"}, nil)
	require.NoError(t, err)

	outcome := b.Relay(context.Background(), sess, blockedReader(t), io.Discard)
	assert.Equal(t, CauseMasterClosed, outcome.Cause)

	status, err := b.Finalize(sess)
	require.NoError(t, err)
	assert.False(t, status.Signaled)
	assert.Equal(t, 3, status.Code)
}

func TestLaunchReplacesEnvironment(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	_, err = b.Launch(sess, "/bin/sh", []string{"-c", "echo marker=$BROKER_MARKER"},
		[]string{"BROKER_MARKER=isolated", "PATH=/bin:/usr/bin"})
	require.NoError(t, err)

	var out bytes.Buffer
	b.Relay(context.Background(), sess, blockedReader(t), &out)
	assert.Contains(t, out.String(), "marker=isolated")

	_, err = b.Finalize(sess)
	require.NoError(t, err)
}

func TestLaunchUnexecutable(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	_, err = b.Launch(sess, "/nonexistent/program", nil, nil)
	require.ErrorIs(t, err, ErrLaunchFailed)
	assert.Equal(t, StateAllocated, sess.State())
	assert.Equal(t, 0, sess.Pid())

	// Finalize must report that the child never started, distinguishable
	// from any successful exit.
	status, err := b.Finalize(sess)
	require.NoError(t, err)
	assert.True(t, status.NeverStarted)
}

func TestLaunchRequiresAllocatedState(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)
	defer b.Finalize(sess)

	_, err = b.Launch(sess, "/bin/true", nil, nil)
	require.NoError(t, err)

	_, err = b.Launch(sess, "/bin/true", nil, nil)
	require.ErrorIs(t, err, ErrLaunchFailed)
}

func TestLaunchConcurrentSingleWinner(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	// Only one of the racing launches may assign the child process id.
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Launch(sess, "/bin/true", nil, nil)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, launchErr := range errs {
		if launchErr == nil {
			successes++
		} else {
			assert.ErrorIs(t, launchErr, ErrLaunchFailed)
		}
	}
	assert.Equal(t, 1, successes)

	b.Relay(context.Background(), sess, blockedReader(t), io.Discard)
	_, err = b.Finalize(sess)
	require.NoError(t, err)
}

func TestFinalizeNeverStarted(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	status, err := b.Finalize(sess)
	require.NoError(t, err)
	assert.True(t, status.NeverStarted)
	assert.Equal(t, StateTerminated, sess.State())
	assert.Equal(t, 0, b.Sessions().Count())
}

func TestDoubleFinalize(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	_, err = b.Launch(sess, "/bin/true", nil, nil)
	require.NoError(t, err)
	b.Relay(context.Background(), sess, blockedReader(t), io.Discard)

	_, err = b.Finalize(sess)
	require.NoError(t, err)

	_, err = b.Finalize(sess)
	require.ErrorIs(t, err, ErrReap)
}

func TestSignalForwarding(t *testing.T) {
	b := newTestBroker(t)

	sess, err := b.Allocate()
	require.NoError(t, err)

	_, err = b.Launch(sess, "/bin/cat", nil, nil)
	require.NoError(t, err)

	require.NoError(t, sess.Signal(syscall.SIGTERM))

	outcome := b.Relay(context.Background(), sess, blockedReader(t), io.Discard)
	assert.Equal(t, CauseMasterClosed, outcome.Cause)

	status, err := b.Finalize(sess)
	require.NoError(t, err)
	assert.True(t, status.Signaled)
	assert.Equal(t, syscall.SIGTERM, status.Signal)
}

func TestExitStatusString(t *testing.T) {
	assert.Equal(t, "never started", ExitStatus{NeverStarted: true}.String())
	assert.Equal(t, "exited (2)", ExitStatus{Code: 2}.String())
	assert.Contains(t, ExitStatus{Signaled: true, Signal: syscall.SIGTERM}.String(), "signaled")
}
