package broker

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	// PtmxPathEnv overrides the multiplexer device path, see ptmx(4).
	PtmxPathEnv     = "PTYBROKER_PTMX_PATH"
	defaultPtmxPath = "/dev/ptmx"
)

// Broker allocates PTY sessions and drives them through launch, relay and
// reaping. One Broker hosts any number of concurrent sessions; each session
// gets its own relay loop.
type Broker struct {
	log      zerolog.Logger
	sessions *Manager
	ptmxPath string

	// Grant/unlock handshake, split so failures stay distinguishable.
	grant  func(fd int) (int, error)
	unlock func(fd int) error
}

// New returns a Broker logging through log.
func New(log zerolog.Logger) *Broker {
	ptmxPath := os.Getenv(PtmxPathEnv)
	if ptmxPath == "" {
		ptmxPath = defaultPtmxPath
	}
	return &Broker{
		log:      log,
		sessions: NewManager(),
		ptmxPath: ptmxPath,
		grant: func(fd int) (int, error) {
			return unix.IoctlGetInt(fd, unix.TIOCGPTN)
		},
		unlock: func(fd int) error {
			return unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0)
		},
	}
}

// Sessions exposes the broker's session registry.
func (b *Broker) Sessions() *Manager {
	return b.sessions
}

// Allocate opens a fresh master/slave terminal pair and registers a Session
// for it. The master must not become the broker's controlling terminal, so
// the multiplexer is opened with O_NOCTTY. The slave is usable only after
// the grant and unlock steps both succeed; on any failure the master is
// closed and nothing survives.
func (b *Broker) Allocate() (*Session, error) {
	master, err := os.OpenFile(b.ptmxPath, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrAllocationFailed, b.ptmxPath, err)
	}

	ptn, err := b.grant(int(master.Fd()))
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("%w: grant slave access: %w", ErrAllocationFailed, err)
	}

	if err := b.unlock(int(master.Fd())); err != nil {
		master.Close()
		return nil, fmt.Errorf("%w: unlock slave: %w", ErrAllocationFailed, err)
	}

	sess := &Session{
		ID:        uuid.New().String(),
		SlavePath: fmt.Sprintf("/dev/pts/%d", ptn),
		master:    master,
		state:     StateAllocated,
	}
	b.sessions.Add(sess.ID, sess)

	b.log.Debug().
		Str("session", sess.ID).
		Str("slave", sess.SlavePath).
		Msg("allocated pty pair")
	return sess, nil
}
