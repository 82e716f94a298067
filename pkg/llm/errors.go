package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyOutput is returned when the backend answered but produced no text
var ErrEmptyOutput = errors.New("the model returned empty output")

// TransportError reports a failed exchange with a backend: unreachable
// server, non-2xx status, malformed body, failed or timed-out process.
type TransportError struct {
	Backend    string
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed with status %d: %v", e.Backend, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err wraps a *TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func transportError(backend, op string, status int, err error) error {
	return &TransportError{Backend: backend, Op: op, StatusCode: status, Err: err}
}

// errCallTimeout is the cause attached to a backend's own per-call deadline
var errCallTimeout = errors.New("backend call timed out")

// withCallTimeout bounds one backend call by d. A non-positive d leaves ctx
// unbounded.
func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, d, errCallTimeout)
}

// callTimedOut reports whether ctx ended because the per-call deadline set by
// withCallTimeout fired, as opposed to the caller canceling or its own
// deadline passing.
func callTimedOut(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errCallTimeout)
}

// callError labels a failed call. Only the backend's own deadline becomes a
// timeout message; a done caller context is kept in the chain so
// errors.Is(err, context.Canceled) still holds.
func callError(callCtx context.Context, timeout time.Duration, err error) error {
	if callTimedOut(callCtx) {
		return fmt.Errorf("timed out after %v", timeout)
	}
	if ctxErr := callCtx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
