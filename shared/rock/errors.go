package rock

import "errors"

// Sentinel errors for the Rock transport's error taxonomy. Callers use
// errors.Is against these; wrapped context (peer address, cmd, sn) is
// added with %w at the call site.
var (
	// ErrNotConnected is returned for requests issued on a connection that
	// is not in the CONNECTED state, and used to complete every in-flight
	// request when a connection tears down.
	ErrNotConnected = errors.New("rock: not connected")

	// ErrTimeout is returned when a request's deadline elapses before a
	// matching response arrives.
	ErrTimeout = errors.New("rock: request timeout")

	// ErrCancelled is returned when the caller's context is cancelled
	// before a response arrives.
	ErrCancelled = errors.New("rock: request cancelled")

	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// the configured cap.
	ErrFrameTooLarge = errors.New("rock: frame too large")

	// ErrProtocolViolation is returned when a frame's declared length is
	// smaller than the fixed header for its type, or the type tag is
	// unrecognised.
	ErrProtocolViolation = errors.New("rock: protocol violation")

	// ErrQueueFull is returned when a connection's outbound write queue
	// is at capacity; the caller should treat this as a transport error,
	// not block.
	ErrQueueFull = errors.New("rock: write queue full")

	// ErrClosed is the teardown cause recorded when Close is called on a
	// connection. Requests and notifies attempted after that return
	// ErrNotConnected, not ErrClosed.
	ErrClosed = errors.New("rock: connection closed")
)
