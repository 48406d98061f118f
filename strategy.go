package failz

import "github.com/zoobzio/clockz"

// Callback is the unit of work a Pipeline wraps: a user operation, or the
// "next" delegate one strategy passes to the strategy beneath it. It
// receives the shared Context rather than a data value, because a
// resilience pipeline wraps repeatable *operations* (an operation may run
// zero, one, or many times across a retry loop or a hedged race) rather
// than transforming a single value through fixed stages.
type Callback[T any] func(rc *Context) (T, error)

// Strategy wraps a downstream Callback, observing (and optionally
// transforming) the Outcome it produces. Strategies compose by
// delegation: Execute receives the already-composed "next" callback
// representing everything beneath it in the Pipeline, and may invoke it
// zero or more times.
//
// Unlike a data-pipeline connector — which holds a reference to the stage
// it wraps — a Strategy holds no reference to "next" between calls: the
// Pipeline supplies it fresh on every Execute, folding the ordered
// strategy list into nested closures at call time. This mirrors how a
// Polly-style policy executor composes policies around a caller-supplied
// function, rather than wiring a fixed chain of stages ahead of time.
type Strategy[T any] interface {
	// Execute runs this strategy's logic around next, returning the
	// Outcome this strategy (not necessarily next) produced.
	Execute(rc *Context, next Callback[T]) Outcome[T]

	// Name returns this strategy's instance name, used in error paths,
	// span tags, and signal fields.
	Name() Name

	// Close releases any observability resources (tracer spans, hook
	// listeners) this strategy owns. Close is idempotent.
	Close() error
}

// clockOrReal returns clock if non-nil, else clockz.RealClock — the
// nil-coalescing every constructor applies to its Options' Clock field.
func clockOrReal(clock clockz.Clock) clockz.Clock {
	if clock == nil {
		return clockz.RealClock
	}
	return clock
}
