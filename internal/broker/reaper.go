package broker

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// ExitStatus is how a session's child ended. Exactly one of the three
// shapes holds: never started, normal exit with Code, or termination by
// Signal.
type ExitStatus struct {
	NeverStarted bool
	Code         int
	Signaled     bool
	Signal       syscall.Signal
}

func (e ExitStatus) String() string {
	switch {
	case e.NeverStarted:
		return "never started"
	case e.Signaled:
		return fmt.Sprintf("signaled (%s)", e.Signal)
	default:
		return fmt.Sprintf("exited (%d)", e.Code)
	}
}

// Finalize closes the master handle, releasing the allocated terminal pair,
// then collects the exit status of the session's own child. It never reaps
// an unrelated process. If no child was ever launched it is a no-op
// returning a never-started status. The session is removed from the
// registry and marked terminated on every successful return.
func (b *Broker) Finalize(sess *Session) (ExitStatus, error) {
	// Closing the master hangs up the slave side, so a child still blocked
	// on its terminal sees EOF/SIGHUP and can exit.
	if err := sess.closeMaster(); err != nil {
		b.log.Warn().Str("session", sess.ID).Err(err).Msg("closing master")
	}

	sess.mu.Lock()
	cmd := sess.cmd
	alreadyReaped := sess.reaped
	sess.mu.Unlock()

	if cmd == nil {
		sess.setState(StateTerminated)
		b.sessions.Remove(sess.ID)
		return ExitStatus{NeverStarted: true}, nil
	}
	if alreadyReaped {
		return ExitStatus{}, fmt.Errorf("%w: session %s already finalized", ErrReap, sess.ID)
	}

	status, err := waitStatus(cmd)
	if err != nil {
		return ExitStatus{}, fmt.Errorf("%w: session %s: %w", ErrReap, sess.ID, err)
	}

	sess.mu.Lock()
	sess.reaped = true
	sess.state = StateTerminated
	sess.mu.Unlock()
	b.sessions.Remove(sess.ID)

	b.log.Info().
		Str("session", sess.ID).
		Stringer("status", status).
		Msg("session finalized")
	return status, nil
}

// waitStatus blocks until cmd terminates and maps its wait status to an
// ExitStatus, distinguishing normal exit from signal termination.
func waitStatus(cmd *exec.Cmd) (ExitStatus, error) {
	err := cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return ExitStatus{}, err
		}
	}

	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitStatus{Code: cmd.ProcessState.ExitCode()}, nil
	}
	if ws.Signaled() {
		return ExitStatus{Signaled: true, Signal: ws.Signal()}, nil
	}
	return ExitStatus{Code: ws.ExitStatus()}, nil
}
