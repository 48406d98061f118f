package failz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error provides rich context about a pipeline execution failure: the
// underlying error, the path of strategy names it bubbled up through, how
// long the execution had run, and whether the failure was a timeout or a
// cancellation. Strategies that wrap a downstream failure (rather than
// reacting to and replacing it) prepend their own Name to Path as the
// error propagates outward — this is the "call-stack snapshot" the
// Outcome's Failure variant carries.
type Error struct {
	Timestamp time.Time
	Err       error
	Path      []Name
	Duration  time.Duration
	Timeout   bool
	Canceled  bool
}

// Error implements the error interface, rendering the strategy path and
// the underlying cause.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	path := strings.Join(e.Path, " -> ")
	if path == "" {
		path = "unknown"
	}

	switch {
	case e.Timeout:
		return fmt.Sprintf("%s timed out after %v: %v", path, e.Duration, e.Err)
	case e.Canceled:
		return fmt.Sprintf("%s canceled after %v: %v", path, e.Duration, e.Err)
	default:
		return fmt.Sprintf("%s failed after %v: %v", path, e.Duration, e.Err)
	}
}

// Unwrap returns the underlying error, supporting errors.Is/errors.As
// against the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTimeout reports whether this error was caused by a timeout, whether
// explicitly flagged or surfaced as context.DeadlineExceeded.
func (e *Error) IsTimeout() bool {
	if e == nil {
		return false
	}
	return e.Timeout || errors.Is(e.Err, context.DeadlineExceeded)
}

// IsCanceled reports whether this error was caused by cancellation, either
// explicitly flagged or surfaced as context.Canceled.
func (e *Error) IsCanceled() bool {
	if e == nil {
		return false
	}
	return e.Canceled || errors.Is(e.Err, context.Canceled)
}

// wrapError prepends name to an existing *Error's Path, or builds a fresh
// *Error if err is not already one — the same "errors.As then prepend, or
// wrap fresh" pattern every strategy that delegates downstream follows
// when it needs to annotate a failure with its own position.
func wrapError(name Name, err error, start time.Time) *Error {
	var existing *Error
	if errors.As(err, &existing) {
		existing.Path = append([]Name{name}, existing.Path...)
		return existing
	}
	return &Error{
		Timestamp: time.Now(),
		Err:       err,
		Path:      []Name{name},
		Duration:  time.Since(start),
		Timeout:   errors.Is(err, context.DeadlineExceeded),
		Canceled:  errors.Is(err, context.Canceled),
	}
}
