package failz

import (
	"context"
	"errors"
	"sync"
)

// Pipeline holds an ordered, immutable list of strategies wrapping a
// single logical operation. Strategies execute outermost-first: index 0
// wraps everything beneath it; the last strategy wraps the user callback
// directly. Pipelines are safe to share between concurrent executions —
// Execute and ExecuteAndCapture build a fresh chain of closures on every
// call rather than mutating any shared state.
type Pipeline[T any] struct {
	name       Name
	strategies []Strategy[T]
	closeOnce  sync.Once
	closeErr   error
}

// NewPipeline builds a Pipeline directly from an ordered strategy list.
// Most callers prefer NewBuilder's fluent AddXxx methods instead.
func NewPipeline[T any](name Name, strategies ...Strategy[T]) *Pipeline[T] {
	ordered := make([]Strategy[T], len(strategies))
	copy(ordered, strategies)
	return &Pipeline[T]{name: name, strategies: ordered}
}

// Name returns this pipeline's instance name.
func (p *Pipeline[T]) Name() Name { return p.name }

// Len returns the number of strategies in this pipeline.
func (p *Pipeline[T]) Len() int { return len(p.strategies) }

// Names returns the ordered list of strategy names, outermost first.
func (p *Pipeline[T]) Names() []Name {
	names := make([]Name, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name()
	}
	return names
}

// compose folds the strategy list right-to-left into a single Callback:
// the innermost strategy wraps cb directly, and each strategy moving
// outward wraps the previous result. This is the at-call-time composition
// the pipeline uses instead of binding a fixed "processor" into each
// strategy at construction time.
func (p *Pipeline[T]) compose(cb Callback[T]) func(rc *Context) Outcome[T] {
	next := func(rc *Context) Outcome[T] {
		v, err := cb(rc)
		if err != nil {
			return Fail[T](err)
		}
		return Succeed(v)
	}
	for i := len(p.strategies) - 1; i >= 0; i-- {
		strategy := p.strategies[i]
		inner := next
		next = func(rc *Context) Outcome[T] {
			return strategy.Execute(rc, func(rc *Context) (T, error) {
				return inner(rc).Unwrap()
			})
		}
	}
	return next
}

// ExecuteAndCapture runs the pipeline around cb and always returns an
// Outcome — it never raises from strategy logic, including the user
// callback's own errors.
func (p *Pipeline[T]) ExecuteAndCapture(ctx context.Context, cb Callback[T]) Outcome[T] {
	return p.ExecuteAndCaptureWithContext(NewContext(ctx, ""), cb)
}

// ExecuteAndCaptureWithContext is ExecuteAndCapture for a caller-supplied
// *Context (e.g. one carrying an operation key, or shared across related
// executions for their property bag).
func (p *Pipeline[T]) ExecuteAndCaptureWithContext(rc *Context, cb Callback[T]) (result Outcome[T]) {
	defer recoverFromPanic(&result, p.name)

	if rc.Cancelled() {
		return Fail[T](&OperationCancelledError{Name: p.name})
	}

	chain := p.compose(cb)
	return chain(rc)
}

// Execute runs the pipeline around cb and returns the success value, or
// the failure's error.
func (p *Pipeline[T]) Execute(ctx context.Context, cb Callback[T]) (T, error) {
	return p.ExecuteAndCapture(ctx, cb).Unwrap()
}

// ExecuteWithContext is Execute for a caller-supplied *Context.
func (p *Pipeline[T]) ExecuteWithContext(rc *Context, cb Callback[T]) (T, error) {
	return p.ExecuteAndCaptureWithContext(rc, cb).Unwrap()
}

// Close shuts down every strategy's observability resources. Close is
// idempotent.
func (p *Pipeline[T]) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		for i := len(p.strategies) - 1; i >= 0; i-- {
			if err := p.strategies[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

// Builder assembles a Pipeline via fluent, order-preserving AddXxx calls.
type Builder[T any] struct {
	name       Name
	strategies []Strategy[T]
}

// NewBuilder starts a new Builder for a pipeline named name.
func NewBuilder[T any](name Name) *Builder[T] {
	return &Builder[T]{name: name}
}

// Add appends an arbitrary user-defined Strategy to the pipeline.
func (b *Builder[T]) Add(strategy Strategy[T]) *Builder[T] {
	b.strategies = append(b.strategies, strategy)
	return b
}

// AddRetry appends a Retry strategy built from opts.
func (b *Builder[T]) AddRetry(name Name, opts RetryOptions[T]) *Builder[T] {
	return b.Add(NewRetry[T](name, opts))
}

// AddCircuitBreaker appends a CircuitBreaker strategy built from opts.
func (b *Builder[T]) AddCircuitBreaker(name Name, opts CircuitBreakerOptions[T]) *Builder[T] {
	return b.Add(NewCircuitBreaker[T](name, opts))
}

// AddTimeout appends a Timeout strategy built from opts.
func (b *Builder[T]) AddTimeout(name Name, opts TimeoutOptions) *Builder[T] {
	return b.Add(NewTimeout[T](name, opts))
}

// AddFallback appends a Fallback strategy built from opts.
func (b *Builder[T]) AddFallback(name Name, opts FallbackOptions[T]) *Builder[T] {
	return b.Add(NewFallback[T](name, opts))
}

// AddRateLimiter appends a RateLimiter strategy built from opts, selecting
// one of the four variants per opts.Variant.
func (b *Builder[T]) AddRateLimiter(name Name, opts RateLimiterOptions) *Builder[T] {
	return b.Add(NewRateLimiter[T](name, opts))
}

// AddHedging appends a Hedging strategy built from opts.
func (b *Builder[T]) AddHedging(name Name, opts HedgingOptions[T]) *Builder[T] {
	return b.Add(NewHedging[T](name, opts))
}

// AddCache appends a Cache strategy built from opts.
func (b *Builder[T]) AddCache(name Name, opts CacheOptions[T]) *Builder[T] {
	return b.Add(NewCache[T](name, opts))
}

// Build finalizes the Builder into an immutable Pipeline.
func (b *Builder[T]) Build() *Pipeline[T] {
	return NewPipeline[T](b.name, b.strategies...)
}
