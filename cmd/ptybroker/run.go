package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ptylib "github.com/creack/pty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/PiranhaCodes/ptybroker/internal/broker"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- program [args...]",
	Short: "Run one program on a fresh PTY attached to this terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, err := setup(false)
		if err != nil {
			return err
		}
		defer log.Close()

		b := broker.New(log.Logger)
		sess, err := b.Allocate()
		if err != nil {
			return err
		}

		if _, err := b.Launch(sess, args[0], args[1:], nil); err != nil {
			b.Finalize(sess)
			return err
		}

		restore := func() {}
		stdinFd := int(os.Stdin.Fd())
		if term.IsTerminal(stdinFd) {
			oldState, err := term.MakeRaw(stdinFd)
			if err != nil {
				return fmt.Errorf("failed to enable raw mode: %w", err)
			}
			restore = func() { term.Restore(stdinFd, oldState) }
			defer restore()

			resizeToTerminal(sess)
			winch := make(chan os.Signal, 1)
			signal.Notify(winch, syscall.SIGWINCH)
			defer signal.Stop(winch)
			go func() {
				for range winch {
					resizeToTerminal(sess)
				}
			}()
		}

		b.Relay(context.Background(), sess, os.Stdin, os.Stdout)

		status, err := b.Finalize(sess)
		if err != nil {
			return err
		}
		restore()
		if status.Signaled {
			os.Exit(128 + int(status.Signal))
		}
		os.Exit(status.Code)
		return nil
	},
}

// resizeToTerminal mirrors the invoking terminal's size onto the session.
func resizeToTerminal(sess *broker.Session) {
	rows, cols, err := ptylib.Getsize(os.Stdin)
	if err != nil {
		return
	}
	sess.Resize(cols, rows)
}
