package broker

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	ptylib "github.com/creack/pty"
)

// State tracks a session through its lifecycle.
type State int

const (
	StateAllocated State = iota
	StateLaunched
	StateRelaying
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAllocated:
		return "allocated"
	case StateLaunched:
		return "launched"
	case StateRelaying:
		return "relaying"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is one allocated PTY pair plus the child process hosted on it.
// The broker owns the master handle; the slave path names the paired device
// and stays valid until the session is finalized.
type Session struct {
	ID        string
	SlavePath string

	mu        sync.Mutex
	master    *os.File
	cmd       *exec.Cmd
	state     State
	launching bool
	reaped    bool
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pid returns the child process id, or 0 before a successful launch.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Resize sets the terminal size on the master side.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master == nil {
		return io.ErrClosedPipe
	}
	return ptylib.Setsize(s.master, &ptylib.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Signal forwards sig to the child process. Forceful termination of a child
// that will not exit on its own is the caller's responsibility, via this.
func (s *Session) Signal(sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return os.ErrProcessDone
	}
	return s.cmd.Process.Signal(sig)
}

// closeMaster releases the master handle, and with it the kernel pty slot.
// Safe to call more than once.
func (s *Session) closeMaster() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master == nil {
		return nil
	}
	err := s.master.Close()
	s.master = nil
	return err
}

func (s *Session) masterFile() *os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
