// Manual smoke client for a running ptybroker daemon: spawns a shell
// session, feeds it a few commands, tails the session FIFO, then kills the
// session and reports its exit status.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/PiranhaCodes/ptybroker/internal/api"
	"github.com/PiranhaCodes/ptybroker/internal/config"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("[TestClient] Failed to load config: %v", err)
	}

	conn, err := net.Dial("unix", cfg.SocketPath)
	if err != nil {
		log.Fatalf("[TestClient] Failed to connect to %s: %v", cfg.SocketPath, err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	var spawned api.SpawnResponse
	if err := do(enc, dec, "spawn", api.SpawnRequest{}, &spawned); err != nil {
		log.Fatalf("[TestClient] Spawn failed: %v", err)
	}
	log.Printf("[TestClient] Spawned session %s (pid %d, slave %s)",
		spawned.ID, spawned.Pid, spawned.SlavePath)

	fifoPath := filepath.Join(cfg.SessionsDir, spawned.ID+".out")
	time.Sleep(200 * time.Millisecond)
	fifo, err := os.OpenFile(fifoPath, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		log.Fatalf("[TestClient] Failed to open FIFO %s: %v", fifoPath, err)
	}
	defer fifo.Close()

	go tailFIFO(fifo)

	commands := []string{
		"echo 'Hello from PTY!'\n",
		"pwd\n",
		"echo 'Test complete'\n",
	}
	for _, command := range commands {
		log.Printf("[TestClient] Sending: %q", command)
		if err := do(enc, dec, "write", api.WriteRequest{ID: spawned.ID, Data: command}, nil); err != nil {
			log.Printf("[TestClient] Write failed: %v", err)
		}
		time.Sleep(300 * time.Millisecond)
	}
	time.Sleep(time.Second)

	var listed api.ListResponse
	if err := do(enc, dec, "list", nil, &listed); err != nil {
		log.Printf("[TestClient] List failed: %v", err)
	} else {
		log.Printf("[TestClient] Active sessions: %d", listed.Count)
		for _, sess := range listed.Sessions {
			log.Printf("  - %s pid=%d (%s)", sess.ID, sess.Pid, sess.State)
		}
	}

	log.Printf("[TestClient] Killing session %s", spawned.ID)
	if err := do(enc, dec, "kill", api.KillRequest{ID: spawned.ID}, nil); err != nil {
		log.Fatalf("[TestClient] Kill failed: %v", err)
	}

	var waited api.WaitResponse
	if err := do(enc, dec, "wait", api.WaitRequest{ID: spawned.ID}, &waited); err != nil {
		log.Fatalf("[TestClient] Wait failed: %v", err)
	}
	switch {
	case waited.NeverStarted:
		log.Printf("[TestClient] Session never started")
	case waited.Signaled:
		log.Printf("[TestClient] Session terminated by signal %d", waited.Signal)
	default:
		log.Printf("[TestClient] Session exited with code %d", waited.ExitCode)
	}
}

// do sends one request and decodes the response data into out, if non-nil.
func do(enc *json.Encoder, dec *json.Decoder, action string, data, out interface{}) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}
	if err := enc.Encode(api.Request{Action: action, Data: raw}); err != nil {
		return err
	}

	var resp struct {
		Ok   bool            `json:"ok"`
		Err  string          `json:"err"`
		Data json.RawMessage `json:"data"`
	}
	if err := dec.Decode(&resp); err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("%s failed: %s", action, resp.Err)
	}
	if out != nil && len(resp.Data) > 0 {
		return json.Unmarshal(resp.Data, out)
	}
	return nil
}

func tailFIFO(fifo *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := fifo.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err != nil {
			if err == io.EOF || os.IsTimeout(err) {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			if pathErr, ok := err.(*os.PathError); ok && pathErr.Err == syscall.EAGAIN {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			log.Printf("[TestClient] FIFO read error: %v", err)
			return
		}
	}
}
