package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("timeout")

// ValidationError rejects a request before any index access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// UpstreamError reports an unavailable collaborator: the index, the embedding
// service or the reranker. It is never retried here.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// TimeoutError reports a collaborator call that exceeded its bound.
type TimeoutError struct {
	Op    string
	Bound time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Bound)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Is reports ErrTimeout as a match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// classify wraps err from an upstream call made under a bound-limited context.
func classify(ctx context.Context, op string, bound time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Bound: bound, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Bound: bound, Err: err}
	}
	return &UpstreamError{Op: op, Err: err}
}

// withTimeout runs fn under a context bounded by bound. A non-positive bound
// leaves ctx unchanged.
func withTimeout(ctx context.Context, op string, bound time.Duration, fn func(ctx context.Context) error) error {
	if bound <= 0 {
		return classify(ctx, op, bound, fn(ctx))
	}
	cctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()
	return classify(cctx, op, bound, fn(cctx))
}
