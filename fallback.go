package failz

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Fallback strategy.
const (
	FallbackProcessedTotal = metricz.Key("fallback.processed.total")
	FallbackActivatedTotal = metricz.Key("fallback.activated.total")
	FallbackRecoveredTotal = metricz.Key("fallback.recovered.total")
	FallbackExhaustedTotal = metricz.Key("fallback.exhausted.total")

	FallbackSpan = tracez.Key("fallback.execute")

	FallbackTagName      = tracez.Tag("name")
	FallbackTagActivated = tracez.Tag("activated")
	FallbackTagSuccess   = tracez.Tag("success")

	FallbackEventActivated = hookz.Key("fallback.activated")
	FallbackEventRecovered = hookz.Key("fallback.recovered")
	FallbackEventExhausted = hookz.Key("fallback.exhausted")
)

// FallbackEvent is emitted via hookz when the fallback action is invoked,
// when it recovers the operation, or when it too fails.
type FallbackEvent struct {
	Name      Name
	Cause     error
	Err       error
	Recovered bool
	Timestamp time.Time
}

// FallbackAction produces a replacement value when the primary callback's
// outcome is one ShouldHandle flags. cause is the triggering failure.
type FallbackAction[T any] func(rc *Context, cause error) (T, error)

// FallbackOptions configures a Fallback strategy.
type FallbackOptions[T any] struct {
	// Action computes the replacement outcome once the primary callback's
	// failure is one ShouldHandle flags. Required.
	Action FallbackAction[T]
	// ShouldHandle decides which primary failures trigger Action. Defaults
	// to triggering on every Failure outcome.
	ShouldHandle func(Outcome[T]) bool
}

// Fallback runs the downstream callback and, if its outcome is one
// ShouldHandle flags, switches to a single alternative Action instead of
// retrying the same operation. If Action itself errors, that error is
// returned — it is not retried or chained further, keeping Fallback a
// single degradation step rather than an open-ended chain.
type Fallback[T any] struct {
	name    Name
	opts    FallbackOptions[T]
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[FallbackEvent]
}

// NewFallback constructs a Fallback strategy from opts. opts.Action must
// be non-nil.
func NewFallback[T any](name Name, opts FallbackOptions[T]) *Fallback[T] {
	if opts.Action == nil {
		panic("NewFallback requires a non-nil Action")
	}
	if opts.ShouldHandle == nil {
		opts.ShouldHandle = func(o Outcome[T]) bool { return o.IsFailure() }
	}

	registry := metricz.New()
	registry.Counter(FallbackProcessedTotal)
	registry.Counter(FallbackActivatedTotal)
	registry.Counter(FallbackRecoveredTotal)
	registry.Counter(FallbackExhaustedTotal)

	return &Fallback[T]{
		name:    name,
		opts:    opts,
		metrics: registry,
		tracer:  tracez.New(),
		hooks:   hookz.New[FallbackEvent](),
	}
}

// OnActivated registers a handler fired when the primary callback fails
// and Action is about to run.
func (f *Fallback[T]) OnActivated(handler func(context.Context, FallbackEvent) error) error {
	_, err := f.hooks.Hook(FallbackEventActivated, handler)
	return err
}

// OnRecovered registers a handler fired when Action succeeds.
func (f *Fallback[T]) OnRecovered(handler func(context.Context, FallbackEvent) error) error {
	_, err := f.hooks.Hook(FallbackEventRecovered, handler)
	return err
}

// OnExhausted registers a handler fired when Action itself fails.
func (f *Fallback[T]) OnExhausted(handler func(context.Context, FallbackEvent) error) error {
	_, err := f.hooks.Hook(FallbackEventExhausted, handler)
	return err
}

// Execute implements Strategy.
func (f *Fallback[T]) Execute(rc *Context, next Callback[T]) (result Outcome[T]) {
	defer recoverFromPanic(&result, f.name)

	ctx, span := f.tracer.StartSpan(rc.Context(), FallbackSpan)
	span.SetTag(FallbackTagName, f.name)
	defer span.Finish()

	start := time.Now()
	f.metrics.Counter(FallbackProcessedTotal).Inc()

	value, err := next(rc)
	var outcome Outcome[T]
	if err != nil {
		outcome = Fail[T](err)
	} else {
		outcome = Succeed(value)
	}

	if !f.opts.ShouldHandle(outcome) {
		span.SetTag(FallbackTagActivated, "false")
		if err != nil {
			return Fail[T](wrapError(f.name, err, start))
		}
		return outcome
	}

	span.SetTag(FallbackTagActivated, "true")
	f.metrics.Counter(FallbackActivatedTotal).Inc()
	capitan.Warn(ctx, SignalFallbackActivated, FieldName.Field(f.name), FieldError.Field(outcome.Err().Error()))
	if f.hooks.ListenerCount(FallbackEventActivated) > 0 {
		_ = f.hooks.Emit(ctx, FallbackEventActivated, FallbackEvent{ //nolint:errcheck
			Name: f.name, Cause: outcome.Err(), Timestamp: time.Now(),
		})
	}

	fallbackValue, fallbackErr := f.opts.Action(rc, outcome.Err())
	if fallbackErr == nil {
		span.SetTag(FallbackTagSuccess, "true")
		f.metrics.Counter(FallbackRecoveredTotal).Inc()
		capitan.Info(ctx, SignalFallbackRecovered, FieldName.Field(f.name))
		if f.hooks.ListenerCount(FallbackEventRecovered) > 0 {
			_ = f.hooks.Emit(ctx, FallbackEventRecovered, FallbackEvent{ //nolint:errcheck
				Name: f.name, Cause: outcome.Err(), Recovered: true, Timestamp: time.Now(),
			})
		}
		return Succeed(fallbackValue)
	}

	span.SetTag(FallbackTagSuccess, "false")
	f.metrics.Counter(FallbackExhaustedTotal).Inc()
	capitan.Error(ctx, SignalFallbackExhausted, FieldName.Field(f.name), FieldError.Field(fallbackErr.Error()))
	if f.hooks.ListenerCount(FallbackEventExhausted) > 0 {
		_ = f.hooks.Emit(ctx, FallbackEventExhausted, FallbackEvent{ //nolint:errcheck
			Name: f.name, Cause: outcome.Err(), Err: fallbackErr, Timestamp: time.Now(),
		})
	}
	return Fail[T](wrapError(f.name, fallbackErr, start))
}

// Name implements Strategy.
func (f *Fallback[T]) Name() Name { return f.name }

// Metrics returns this strategy's metrics registry.
func (f *Fallback[T]) Metrics() *metricz.Registry { return f.metrics }

// Tracer returns this strategy's tracer.
func (f *Fallback[T]) Tracer() *tracez.Tracer { return f.tracer }

// Close releases this strategy's observability resources.
func (f *Fallback[T]) Close() error {
	f.tracer.Close()
	f.hooks.Close()
	return nil
}
