package api

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/PiranhaCodes/ptybroker/internal/broker"
)

// hosted is one daemon-side session: the broker session plus the external
// endpoints the daemon wires it to. Input arrives through the write action
// into a pipe; output is relayed into a per-session FIFO and a log file.
type hosted struct {
	sess     *broker.Session
	pid      int
	stdinW   *io.PipeWriter
	fifoPath string

	done      chan struct{}
	status    broker.ExitStatus
	statusErr error

	closeOnce sync.Once
}

// sink fans relay output into the FIFO and the log file. Sink failures are
// logged and swallowed so a stuck FIFO reader never tears down the session.
type sink struct {
	id   string
	fifo *os.File
	file *os.File
	log  zerolog.Logger
}

func (w *sink) Write(p []byte) (int, error) {
	if w.fifo != nil {
		if _, err := w.fifo.Write(p); err != nil {
			w.log.Debug().Str("session", w.id).Err(err).Msg("fifo write dropped")
		}
	}
	if w.file != nil {
		if _, err := w.file.Write(p); err != nil {
			w.log.Warn().Str("session", w.id).Err(err).Msg("log write failed")
		}
	}
	return len(p), nil
}

func (w *sink) Close() {
	if w.fifo != nil {
		w.fifo.Close()
	}
	if w.file != nil {
		w.file.Close()
	}
}

// host allocates, launches and relays one session, returning once the
// child is running. The relay and the finalize run in the background; done
// is closed when the exit status has been collected.
func (s *Server) host(program string, args, env []string) (*hosted, error) {
	sess, err := s.broker.Allocate()
	if err != nil {
		return nil, err
	}

	pid, err := s.broker.Launch(sess, program, args, env)
	if err != nil {
		// Release the pair; the child never started.
		s.broker.Finalize(sess)
		return nil, err
	}

	out, fifoPath, err := s.openSinks(sess.ID)
	if err != nil {
		sess.Signal(syscall.SIGKILL)
		s.broker.Finalize(sess)
		return nil, err
	}

	stdinR, stdinW := io.Pipe()
	h := &hosted{
		sess:     sess,
		pid:      pid,
		stdinW:   stdinW,
		fifoPath: fifoPath,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		s.broker.Relay(context.Background(), sess, stdinR, out)
		status, err := s.broker.Finalize(sess)
		if err != nil {
			s.log.Error().Str("session", sess.ID).Err(err).Msg("finalize failed")
			h.statusErr = err
		}
		h.status = status
		h.closeStdin()
		out.Close()
		if h.fifoPath != "" {
			if err := os.Remove(h.fifoPath); err != nil && !os.IsNotExist(err) {
				s.log.Warn().Str("session", sess.ID).Err(err).Msg("removing fifo")
			}
		}
		// Clients that never wait must not pile up exited entries; keep
		// the entry around only long enough for a late wait.
		time.AfterFunc(s.exitedRetention, func() {
			s.mu.Lock()
			if s.sessMap[sess.ID] == h {
				delete(s.sessMap, sess.ID)
			}
			s.mu.Unlock()
		})
	}()

	return h, nil
}

// openSinks creates the per-session output FIFO and log file. The FIFO is
// opened read-write so writes succeed before any consumer attaches.
func (s *Server) openSinks(id string) (*sink, string, error) {
	out := &sink{id: id, log: s.log}
	fifoPath := ""

	if s.sessionsDir != "" {
		if err := os.MkdirAll(s.sessionsDir, 0755); err != nil {
			return nil, "", err
		}
		fifoPath = filepath.Join(s.sessionsDir, id+".out")
		if err := os.Remove(fifoPath); err != nil && !os.IsNotExist(err) {
			return nil, "", err
		}
		if err := syscall.Mkfifo(fifoPath, 0666); err != nil {
			return nil, "", err
		}
		fifo, err := os.OpenFile(fifoPath, os.O_RDWR|syscall.O_NONBLOCK, 0)
		if err != nil {
			os.Remove(fifoPath)
			return nil, "", err
		}
		out.fifo = fifo
	}

	if s.logDir != "" {
		if err := os.MkdirAll(s.logDir, 0755); err != nil {
			out.Close()
			if fifoPath != "" {
				os.Remove(fifoPath)
			}
			return nil, "", err
		}
		file, err := os.OpenFile(filepath.Join(s.logDir, id+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			out.Close()
			if fifoPath != "" {
				os.Remove(fifoPath)
			}
			return nil, "", err
		}
		out.file = file
	}

	return out, fifoPath, nil
}

// closeStdin ends the external input side of the relay.
func (h *hosted) closeStdin() {
	h.closeOnce.Do(func() {
		h.stdinW.Close()
	})
}

func (h *hosted) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
