package broker

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Launch spawns program in a new session with the slave device as its
// controlling terminal and all three standard streams bound to it. The
// child-side setup (setsid, controlling-tty bind, stream rewire) happens
// between fork and exec inside the new process; Launch returns the child
// pid as soon as the spawn succeeds and never waits for those steps.
//
// A nil env inherits the broker's environment; a non-nil env replaces it
// entirely. Failures past the point of no return (a controlling-tty bind or
// exec that fails inside the child) are observable only through the exit
// status collected by Finalize.
func (b *Broker) Launch(sess *Session, program string, args []string, env []string) (int, error) {
	// The launching flag stays held across the spawn so concurrent Launch
	// calls on one session cannot both pass the state check; the child
	// process id is assigned at most once.
	sess.mu.Lock()
	if sess.state != StateAllocated || sess.launching {
		st := sess.state
		sess.mu.Unlock()
		return 0, fmt.Errorf("%w: session %s not ready to launch (state %s)", ErrLaunchFailed, sess.ID, st)
	}
	sess.launching = true
	sess.mu.Unlock()

	abort := func() {
		sess.mu.Lock()
		sess.launching = false
		sess.mu.Unlock()
	}

	// The slave must not become the controlling terminal through this open;
	// that happens in the child, after setsid, via the Setctty request.
	slave, err := os.OpenFile(sess.SlavePath, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		abort()
		return 0, fmt.Errorf("%w: open slave %s: %w", ErrLaunchFailed, sess.SlavePath, err)
	}
	defer slave.Close()

	cmd := exec.Command(program, args...)
	cmd.Env = env
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true, // child detaches into a fresh session
		Setctty: true, // then acquires the slave as controlling terminal
		Ctty:    0,    // via its stdin descriptor
	}

	if err := cmd.Start(); err != nil {
		abort()
		return 0, fmt.Errorf("%w: spawn %s: %w", ErrLaunchFailed, program, err)
	}

	sess.mu.Lock()
	sess.cmd = cmd
	sess.state = StateLaunched
	sess.launching = false
	sess.mu.Unlock()

	b.log.Info().
		Str("session", sess.ID).
		Str("program", program).
		Int("pid", cmd.Process.Pid).
		Msg("launched child on slave")
	return cmd.Process.Pid, nil
}
