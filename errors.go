package toolscope

import (
	"errors"
	"fmt"
)

// Sentinel errors; match them with errors.Is.
var (
	ErrToolNotFound = errors.New("tool not found")
	ErrTimeout      = errors.New("tool execution timeout")
	ErrValidation   = errors.New("validation failed")
	ErrShutdown     = errors.New("engine is shutting down")
	// ErrDisposed is returned by every Dispatcher method after Cleanup.
	ErrDisposed = errors.New("dispatcher has been disposed")
	// ErrIsolation marks a request context that failed its consistency check or a run id
	// that does not belong to the dispatcher it was sent to.
	ErrIsolation   = errors.New("request isolation violation")
	ErrNilHandler  = errors.New("tool handler must not be nil")
	errNilFailure  = errors.New("engine reported failure without an error")
	errEmptyToolID = errors.New("tool name must not be empty")
)

// ClientError is a failure caused by the caller's arguments. Its message is safe to return to
// the model so it can correct the call. Err may carry a sentinel such as ErrValidation.
type ClientError struct {
	Reason string
	// Retryable is set by tool authors for transient failures worth repeating unchanged.
	Retryable bool
	Err       error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("invalid tool input: %s", e.Reason)
}

func (e *ClientError) Unwrap() error { return e.Err }

// SystemError is an internal failure such as a panic or an unavailable backend. Error hides
// the cause; use errors.Unwrap or errors.As to inspect it in logs.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string {
	return "internal system error during tool execution"
}

func (e *SystemError) Unwrap() error { return e.Err }

// IsClientError reports whether err has a *ClientError in its chain.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// IsSystemError reports whether err has a *SystemError in its chain.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}

// notFoundError is the not-found failure attached to a Result. cause is ErrToolNotFound for an
// unknown tool and ErrIsolation for a run id that belongs to another request.
type notFoundError struct {
	tool  string
	cause error
}

func (e *notFoundError) Error() string { return fmt.Sprintf("tool %q not found", e.tool) }
func (e *notFoundError) Unwrap() error { return e.cause }

// wrapJSONParseError reports undecodable arguments as a ClientError.
func wrapJSONParseError(err error) error {
	return &ClientError{Reason: "json parse error: " + err.Error()}
}

// panicError carries a recovered panic value inside a SystemError.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
