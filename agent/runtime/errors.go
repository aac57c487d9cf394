package runtime

import "errors"

// Error taxonomy per SPEC_FULL.md §7. Only configuration and tool-argument
// parse errors are returned to the ProcessThreadStreaming spawner; every
// other failure is demoted to an in-band Message variant.
var (
	// ErrShutdown names a requested shutdown. The loop reports shutdown with
	// an assistant notification and never returns this error.
	ErrShutdown = errors.New("runtime: shutdown requested")

	// ErrToolArgumentParse marks a fatal, non-recoverable failure to parse a
	// tool call's accumulated arguments as JSON.
	ErrToolArgumentParse = errors.New("runtime: tool argument parse error")

	// ErrTransportPermanent names a non-transient transport failure.
	// streamWithRetry surfaces such a failure immediately without retry and
	// returns it as is, not wrapped in this sentinel.
	ErrTransportPermanent = errors.New("runtime: permanent transport error")
)

// TransientError wraps a transport failure considered retryable: timeout,
// connect, or a generic request failure (see SPEC_FULL.md §7 TransportTransient).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "runtime: transient transport error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried by the transport-call
// backoff loop (agent/runtime/retry.go).
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
