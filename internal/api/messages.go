package api

import "encoding/json"

// Request represents an incoming request over the UNIX socket.
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Response represents a response to a request.
type Response struct {
	Ok   bool        `json:"ok"`
	Err  string      `json:"err,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// SpawnRequest is the data for a spawn action. An empty Program selects the
// configured or auto-detected shell. A nil Env inherits the broker's
// environment; a non-nil Env replaces it entirely.
type SpawnRequest struct {
	Program string   `json:"program,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// SpawnResponse is the data returned from a spawn action.
type SpawnResponse struct {
	ID        string `json:"id"`
	Pid       int    `json:"pid"`
	SlavePath string `json:"slave_path"`
}

// WriteRequest is the data for a write action.
type WriteRequest struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// ResizeRequest is the data for a resize action.
type ResizeRequest struct {
	ID   string `json:"id"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// SignalRequest is the data for a signal action. Signal is a number, e.g.
// 15 for SIGTERM.
type SignalRequest struct {
	ID     string `json:"id"`
	Signal int    `json:"signal"`
}

// WaitRequest is the data for a wait action. The response is not sent until
// the session's child has been reaped.
type WaitRequest struct {
	ID string `json:"id"`
}

// WaitResponse carries the reaped exit status. Exactly one of NeverStarted,
// Signaled, or a normal ExitCode applies.
type WaitResponse struct {
	ID           string `json:"id"`
	NeverStarted bool   `json:"never_started,omitempty"`
	ExitCode     int    `json:"exit_code"`
	Signaled     bool   `json:"signaled,omitempty"`
	Signal       int    `json:"signal,omitempty"`
}

// KillRequest is the data for a kill action.
type KillRequest struct {
	ID string `json:"id"`
}

// ListResponse is the data returned from a list action.
type ListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Count    int           `json:"count"`
}

// SessionInfo contains information about a hosted session.
type SessionInfo struct {
	ID    string `json:"id"`
	Pid   int    `json:"pid"`
	State string `json:"state"` // "active" or "exited"
}
