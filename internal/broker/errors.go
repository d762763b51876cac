package broker

import "errors"

// Sentinel error classes. Callers match them with errors.Is; the wrapped
// chain carries the underlying syscall or exec error.
var (
	// ErrAllocationFailed covers the ptmx open and the grant/unlock
	// handshake. Not retryable without a fresh Allocate call.
	ErrAllocationFailed = errors.New("pty allocation failed")

	// ErrLaunchFailed covers spawn failures reported synchronously by the
	// parent. Child-side failures past the point of no return surface only
	// through the exit status collected by Finalize.
	ErrLaunchFailed = errors.New("session launch failed")

	// ErrRelayIO marks a relay machinery failure, as opposed to a designed
	// end-of-stream on either side.
	ErrRelayIO = errors.New("relay i/o failure")

	// ErrReap is returned when waiting on a child that was already reaped
	// or when the session has already been finalized.
	ErrReap = errors.New("reap failed")
)
