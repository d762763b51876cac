package broker

import (
	"context"
	"fmt"
	"io"
)

// relayBufSize bounds one readiness chunk.
const relayBufSize = 4096

// RelayCause says why a relay loop ended.
type RelayCause int

const (
	// CauseExternalClosed: the external input reached end-of-stream or
	// errored, or the external output rejected a write.
	CauseExternalClosed RelayCause = iota
	// CauseMasterClosed: the child's terminal session ended (child exited
	// or the slave side was released).
	CauseMasterClosed
	// CauseCanceled: the relay's context was canceled.
	CauseCanceled
)

func (c RelayCause) String() string {
	switch c {
	case CauseExternalClosed:
		return "external closed"
	case CauseMasterClosed:
		return "master closed"
	case CauseCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RelayOutcome reports how a relay loop ended. End-of-stream on either side
// is a designed outcome and leaves Err nil; Err is set only for relay
// machinery failures, wrapped with ErrRelayIO.
type RelayOutcome struct {
	Cause RelayCause
	Err   error
}

// readEvent is one readiness event from a pump: a chunk, an end-of-stream,
// or a read error. A pump sends at most one event with err != nil and then
// stops.
type readEvent struct {
	data []byte
	err  error
}

// pump reads bounded chunks from r and delivers them on the returned
// channel. It blocks between chunks until the relay loop has taken the
// previous one, so each readiness event is fully drained before the next.
// A closed stop channel releases a pump whose event will never be taken.
func pump(r io.Reader, stop <-chan struct{}) <-chan readEvent {
	ch := make(chan readEvent)
	go func() {
		defer close(ch)
		buf := make([]byte, relayBufSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case ch <- readEvent{data: data}:
				case <-stop:
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					select {
					case ch <- readEvent{err: err}:
					case <-stop:
					}
				}
				return
			}
		}
	}()
	return ch
}

// writeFull writes p to w in full, retrying partial writes until every byte
// is sent or the writer errors.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// Relay copies bytes between the external endpoints and the session's
// master handle until one side reaches end-of-stream, a side errors, or ctx
// is canceled. The select below is the loop's sole suspension point; bytes
// within one direction are forwarded in the order read.
//
// The first end-of-stream ends the whole relay; no draining of the other
// direction is attempted afterwards. The master handle is never touched
// again once the loop has ended.
func (b *Broker) Relay(ctx context.Context, sess *Session, externalIn io.Reader, externalOut io.Writer) RelayOutcome {
	master := sess.masterFile()
	if master == nil {
		return RelayOutcome{
			Cause: CauseMasterClosed,
			Err:   fmt.Errorf("%w: session %s has no master handle", ErrRelayIO, sess.ID),
		}
	}
	sess.setState(StateRelaying)

	outcome := relayLoop(ctx, master, externalIn, externalOut)

	if outcome.Err != nil {
		b.log.Warn().Str("session", sess.ID).Err(outcome.Err).Msg("relay ended")
	} else {
		b.log.Debug().Str("session", sess.ID).Stringer("cause", outcome.Cause).Msg("relay ended")
	}
	return outcome
}

func relayLoop(ctx context.Context, master io.ReadWriter, externalIn io.Reader, externalOut io.Writer) RelayOutcome {
	stop := make(chan struct{})
	defer close(stop)

	extCh := pump(externalIn, stop)
	masterCh := pump(master, stop)

	for {
		select {
		case <-ctx.Done():
			return RelayOutcome{Cause: CauseCanceled, Err: fmt.Errorf("%w: %w", ErrRelayIO, ctx.Err())}

		case ev, ok := <-extCh:
			if !ok || ev.err != nil {
				// Read errors on a side are that side's end-of-stream.
				return RelayOutcome{Cause: CauseExternalClosed}
			}
			if err := writeFull(master, ev.data); err != nil {
				return RelayOutcome{Cause: CauseMasterClosed}
			}

		case ev, ok := <-masterCh:
			if !ok || ev.err != nil {
				return RelayOutcome{Cause: CauseMasterClosed}
			}
			if err := writeFull(externalOut, ev.data); err != nil {
				return RelayOutcome{Cause: CauseExternalClosed}
			}
		}
	}
}
