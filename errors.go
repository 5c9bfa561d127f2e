package redismpx

import "fmt"

// Sentinel errors surfaced to callers. Compare with errors.Is, not ==, since
// ConnectionError wraps the underlying transport error.
var (
	// ErrInactiveSubscription is returned by PromiseSubscription.NewPromise
	// when the inner pattern subscription is not currently active (no
	// PSUBSCRIBE ack has been observed in the current generation).
	ErrInactiveSubscription = fmt.Errorf("redismpx: subscription is not active")

	// ErrSubscriptionClosed is returned by WaitForActivation,
	// WaitForNewPromise and Promise.Await when the owning subscription, or
	// the Multiplexer itself, has been closed.
	ErrSubscriptionClosed = fmt.Errorf("redismpx: subscription closed")

	// ErrTimedOut is the terminal outcome of a Promise whose timeout
	// elapsed before a matching message arrived.
	ErrTimedOut = fmt.Errorf("redismpx: promise timed out")

	// ErrCancelled is the terminal outcome of a Promise cancelled by a
	// disconnect, a subscription close, or explicit caller cancellation.
	ErrCancelled = fmt.Errorf("redismpx: promise cancelled")
)

// ConnectionError wraps a failure reported by the Listener: any I/O or
// protocol error on the shared Redis connection. It is always recoverable by
// the Multiplexer's own reconnect loop; on_disconnect callbacks receive one of
// these purely for diagnostics.
type ConnectionError struct {
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("redismpx: connection error: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

func newConnectionError(cause error) *ConnectionError {
	return &ConnectionError{Cause: cause}
}
