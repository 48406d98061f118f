package failz

import (
	"fmt"
	"runtime/debug"
	"time"
)

// PanicError wraps a recovered panic so it can travel through an Outcome
// like any other failure instead of crashing the calling goroutine.
type PanicError struct {
	Name      Name
	Message   string
	Stack     string
	Timestamp time.Time
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic: %s", e.Name, e.Message)
}

// sanitizePanicMessage renders a recovered panic value as a string. Errors
// and stringers are rendered via their own formatting; anything else falls
// back to a generic %v so a non-string panic value never crashes the
// recovery path itself.
func sanitizePanicMessage(r interface{}) string {
	switch v := r.(type) {
	case error:
		return v.Error()
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", r)
	}
}

// recoverFromPanic converts a recovered panic into a Failure outcome
// wrapping a *PanicError, stored in *result. It is called via defer at the top of every
// strategy's Execute method, in the same place the corresponding
// connector would call it, so a user callback that panics always
// surfaces as an ordinary failure rather than unwinding the pipeline.
func recoverFromPanic[T any](result *Outcome[T], name Name) {
	if r := recover(); r != nil {
		*result = Fail[T](&PanicError{
			Name:      name,
			Message:   sanitizePanicMessage(r),
			Stack:     string(debug.Stack()),
			Timestamp: time.Now(),
		})
	}
}
