// Package api exposes the broker over a UNIX socket with a JSON
// request/response protocol.
package api

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/PiranhaCodes/ptybroker/internal/broker"
)

// Server handles UNIX socket connections and hosts broker sessions.
type Server struct {
	socketPath  string
	sessionsDir string
	logDir      string
	shell       string

	killGrace       time.Duration
	exitedRetention time.Duration

	broker   *broker.Broker
	log      zerolog.Logger
	listener net.Listener
	stopChan chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	sessMap map[string]*hosted
}

// Options configures a Server.
type Options struct {
	SocketPath  string
	SessionsDir string
	LogDir      string
	Shell       string // empty means auto-detect per spawn

	// KillGrace is how long a child gets after SIGTERM before SIGKILL.
	KillGrace time.Duration
	// ExitedRetention is how long an exited session stays listable for a
	// late wait before the registry drops it.
	ExitedRetention time.Duration
}

const (
	defaultKillGrace       = 3 * time.Second
	defaultExitedRetention = time.Minute
)

// NewServer creates a new server instance around b.
func NewServer(b *broker.Broker, log zerolog.Logger, opts Options) *Server {
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	if opts.ExitedRetention <= 0 {
		opts.ExitedRetention = defaultExitedRetention
	}
	return &Server{
		socketPath:      opts.SocketPath,
		sessionsDir:     opts.SessionsDir,
		logDir:          opts.LogDir,
		shell:           opts.Shell,
		killGrace:       opts.KillGrace,
		exitedRetention: opts.ExitedRetention,
		broker:          b,
		log:             log,
		stopChan:        make(chan struct{}),
		sessMap:         make(map[string]*hosted),
	}
}

// Start begins accepting connections. It blocks until Stop is called or the
// listener fails.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}

	s.listener = listener
	s.log.Info().Str("socket", s.socketPath).Msg("server listening")

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listener and ends every hosted session: each child gets
// SIGTERM and its external input is closed so the relay winds down. A child
// still alive after the grace period is killed outright, so shutdown never
// hangs on a signal-ignoring process. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(s.stop)
}

func (s *Server) stop() {
	close(s.stopChan)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.RLock()
	hostedSessions := make([]*hosted, 0, len(s.sessMap))
	for _, h := range s.sessMap {
		hostedSessions = append(hostedSessions, h)
	}
	s.mu.RUnlock()

	for _, h := range hostedSessions {
		if !h.exited() {
			h.sess.Signal(syscall.SIGTERM)
		}
		h.closeStdin()
	}

	deadline := time.Now().Add(s.killGrace)
	for _, h := range hostedSessions {
		select {
		case <-h.done:
			continue
		case <-time.After(time.Until(deadline)):
		}
		s.log.Warn().Str("session", h.sess.ID).Int("pid", h.pid).Msg("child outlived sigterm grace, killing")
		h.sess.Signal(syscall.SIGKILL)
		<-h.done
	}
	s.log.Info().Msg("server stopped")
}

// handleConn serves requests until the client hangs up. One connection may
// carry any number of request/response exchanges.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			if err != io.EOF {
				encoder.Encode(Response{Ok: false, Err: "invalid request: " + err.Error()})
			}
			return
		}
		s.dispatch(req, encoder)
	}
}

func (s *Server) dispatch(req Request, encoder *json.Encoder) {
	switch req.Action {
	case "spawn":
		s.handleSpawn(req.Data, encoder)
	case "write":
		s.handleWrite(req.Data, encoder)
	case "resize":
		s.handleResize(req.Data, encoder)
	case "signal":
		s.handleSignal(req.Data, encoder)
	case "wait":
		s.handleWait(req.Data, encoder)
	case "kill":
		s.handleKill(req.Data, encoder)
	case "list":
		s.handleList(encoder)
	default:
		encoder.Encode(Response{Ok: false, Err: "unknown action: " + req.Action})
	}
}

func (s *Server) handleSpawn(data json.RawMessage, encoder *json.Encoder) {
	var req SpawnRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			encoder.Encode(Response{Ok: false, Err: "invalid spawn request: " + err.Error()})
			return
		}
	}

	program := req.Program
	if program == "" {
		detected, err := broker.DefaultProgram(s.shell)
		if err != nil {
			encoder.Encode(Response{Ok: false, Err: err.Error()})
			return
		}
		program = detected
	}

	h, err := s.host(program, req.Args, req.Env)
	if err != nil {
		encoder.Encode(Response{Ok: false, Err: err.Error()})
		return
	}

	s.mu.Lock()
	s.sessMap[h.sess.ID] = h
	s.mu.Unlock()

	encoder.Encode(Response{
		Ok: true,
		Data: SpawnResponse{
			ID:        h.sess.ID,
			Pid:       h.pid,
			SlavePath: h.sess.SlavePath,
		},
	})
}

func (s *Server) handleWrite(data json.RawMessage, encoder *json.Encoder) {
	var req WriteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		encoder.Encode(Response{Ok: false, Err: "invalid write request: " + err.Error()})
		return
	}

	h := s.lookup(req.ID, encoder)
	if h == nil {
		return
	}

	if _, err := h.stdinW.Write([]byte(req.Data)); err != nil {
		encoder.Encode(Response{Ok: false, Err: err.Error()})
		return
	}
	encoder.Encode(Response{Ok: true})
}

func (s *Server) handleResize(data json.RawMessage, encoder *json.Encoder) {
	var req ResizeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		encoder.Encode(Response{Ok: false, Err: "invalid resize request: " + err.Error()})
		return
	}

	if req.Cols <= 0 || req.Rows <= 0 {
		encoder.Encode(Response{Ok: false, Err: "cols and rows must be positive"})
		return
	}

	h := s.lookup(req.ID, encoder)
	if h == nil {
		return
	}

	if err := h.sess.Resize(req.Cols, req.Rows); err != nil {
		encoder.Encode(Response{Ok: false, Err: err.Error()})
		return
	}
	encoder.Encode(Response{Ok: true})
}

func (s *Server) handleSignal(data json.RawMessage, encoder *json.Encoder) {
	var req SignalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		encoder.Encode(Response{Ok: false, Err: "invalid signal request: " + err.Error()})
		return
	}

	h := s.lookup(req.ID, encoder)
	if h == nil {
		return
	}

	if err := h.sess.Signal(syscall.Signal(req.Signal)); err != nil {
		encoder.Encode(Response{Ok: false, Err: err.Error()})
		return
	}
	encoder.Encode(Response{Ok: true})
}

func (s *Server) handleWait(data json.RawMessage, encoder *json.Encoder) {
	var req WaitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		encoder.Encode(Response{Ok: false, Err: "invalid wait request: " + err.Error()})
		return
	}

	h := s.lookup(req.ID, encoder)
	if h == nil {
		return
	}

	<-h.done

	s.mu.Lock()
	delete(s.sessMap, req.ID)
	s.mu.Unlock()

	if h.statusErr != nil {
		encoder.Encode(Response{Ok: false, Err: "finalize failed: " + h.statusErr.Error()})
		return
	}

	encoder.Encode(Response{
		Ok: true,
		Data: WaitResponse{
			ID:           req.ID,
			NeverStarted: h.status.NeverStarted,
			ExitCode:     h.status.Code,
			Signaled:     h.status.Signaled,
			Signal:       int(h.status.Signal),
		},
	})
}

func (s *Server) handleKill(data json.RawMessage, encoder *json.Encoder) {
	var req KillRequest
	if err := json.Unmarshal(data, &req); err != nil {
		encoder.Encode(Response{Ok: false, Err: "invalid kill request: " + err.Error()})
		return
	}

	h := s.lookup(req.ID, encoder)
	if h == nil {
		return
	}

	if !h.exited() {
		if err := h.sess.Signal(syscall.SIGTERM); err != nil {
			s.log.Debug().Str("session", req.ID).Err(err).Msg("sigterm on kill")
		}
		go func() {
			select {
			case <-h.done:
			case <-time.After(s.killGrace):
				s.log.Warn().Str("session", req.ID).Msg("child outlived sigterm grace, killing")
				h.sess.Signal(syscall.SIGKILL)
			}
		}()
	}
	h.closeStdin()
	encoder.Encode(Response{Ok: true})
}

func (s *Server) handleList(encoder *json.Encoder) {
	s.mu.RLock()
	infos := make([]SessionInfo, 0, len(s.sessMap))
	for id, h := range s.sessMap {
		state := "active"
		if h.exited() {
			state = "exited"
		}
		infos = append(infos, SessionInfo{
			ID:    id,
			Pid:   h.pid,
			State: state,
		})
	}
	s.mu.RUnlock()

	encoder.Encode(Response{
		Ok: true,
		Data: ListResponse{
			Sessions: infos,
			Count:    len(infos),
		},
	})
}

// lookup fetches a hosted session, answering the not-found error itself.
func (s *Server) lookup(id string, encoder *json.Encoder) *hosted {
	if id == "" {
		encoder.Encode(Response{Ok: false, Err: "session ID is required"})
		return nil
	}
	s.mu.RLock()
	h := s.sessMap[id]
	s.mu.RUnlock()
	if h == nil {
		encoder.Encode(Response{Ok: false, Err: "session not found"})
		return nil
	}
	return h
}
