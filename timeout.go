package failz

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Timeout strategy.
const (
	TimeoutProcessedTotal = metricz.Key("timeout.processed.total")
	TimeoutSuccessesTotal = metricz.Key("timeout.successes.total")
	TimeoutTimeoutsTotal  = metricz.Key("timeout.timeouts.total")
	TimeoutDurationMs     = metricz.Key("timeout.duration.ms")

	TimeoutProcessSpan = tracez.Key("timeout.process")

	TimeoutTagDuration = tracez.Tag("duration")
	TimeoutTagSuccess  = tracez.Tag("success")
	TimeoutTagTimedOut = tracez.Tag("timed_out")

	TimeoutEventTimeout     = hookz.Key("timeout.timeout")
	TimeoutEventNearTimeout = hookz.Key("timeout.near_timeout")
)

// nearTimeoutThreshold is the fraction of the configured duration an
// operation must use before a near-timeout event fires.
const nearTimeoutThreshold = 0.8

// TimeoutEvent is emitted via hookz when an operation times out or comes
// close to it.
type TimeoutEvent struct {
	Name        Name
	Duration    time.Duration
	Elapsed     time.Duration
	TimedOut    bool
	NearTimeout bool
	PercentUsed float64
	Timestamp   time.Time
}

// TimeoutOptions configures a Timeout strategy.
type TimeoutOptions struct {
	// Duration is the fixed time limit. Ignored if DurationGenerator is set.
	Duration time.Duration
	// DurationGenerator, if set, computes the limit per execution from the
	// shared Context — e.g. shrinking the budget on later retry attempts.
	DurationGenerator func(rc *Context) time.Duration
	// Clock overrides time.Now/context deadline scheduling for
	// deterministic tests.
	Clock clockz.Clock
}

// Timeout enforces a time limit on the downstream callback. If the limit
// elapses first, the callback's Context is cancelled cooperatively (the
// goroutine running it is not killed, only signaled) and a
// TimeoutRejectedError is returned; callbacks that ignore cancellation may
// continue running in the background after Execute has already returned.
type Timeout[T any] struct {
	name    Name
	opts    TimeoutOptions
	clock   clockz.Clock
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[TimeoutEvent]
}

// NewTimeout constructs a Timeout strategy from opts.
func NewTimeout[T any](name Name, opts TimeoutOptions) *Timeout[T] {
	registry := metricz.New()
	registry.Counter(TimeoutProcessedTotal)
	registry.Counter(TimeoutSuccessesTotal)
	registry.Counter(TimeoutTimeoutsTotal)
	registry.Gauge(TimeoutDurationMs)

	return &Timeout[T]{
		name:    name,
		opts:    opts,
		clock:   clockOrReal(opts.Clock),
		metrics: registry,
		tracer:  tracez.New(),
		hooks:   hookz.New[TimeoutEvent](),
	}
}

// OnTimeout registers a handler fired when an operation times out.
func (t *Timeout[T]) OnTimeout(handler func(context.Context, TimeoutEvent) error) error {
	_, err := t.hooks.Hook(TimeoutEventTimeout, handler)
	return err
}

// OnNearTimeout registers a handler fired when an operation completes but
// used more than 80% of its timeout budget.
func (t *Timeout[T]) OnNearTimeout(handler func(context.Context, TimeoutEvent) error) error {
	_, err := t.hooks.Hook(TimeoutEventNearTimeout, handler)
	return err
}

// Execute implements Strategy.
func (t *Timeout[T]) Execute(rc *Context, next Callback[T]) (result Outcome[T]) {
	defer recoverFromPanic(&result, t.name)

	duration := t.opts.Duration
	if t.opts.DurationGenerator != nil {
		duration = t.opts.DurationGenerator(rc)
	}

	t.metrics.Counter(TimeoutProcessedTotal).Inc()
	start := t.clock.Now()

	ctx, span := t.tracer.StartSpan(rc.Context(), TimeoutProcessSpan)
	span.SetTag(TimeoutTagDuration, duration.String())
	defer func() {
		t.metrics.Gauge(TimeoutDurationMs).Set(float64(t.clock.Since(start).Milliseconds()))
		span.Finish()
	}()

	if duration <= 0 {
		// No budget configured: delegate directly without starting a timer
		// or racing a goroutine against one.
		value, err := next(rc)
		if err != nil {
			span.SetTag(TimeoutTagSuccess, "false")
			return Fail[T](wrapError(t.name, err, start))
		}
		span.SetTag(TimeoutTagSuccess, "true")
		t.metrics.Counter(TimeoutSuccessesTotal).Inc()
		return Succeed(value)
	}

	deadlineCtx, cancel := t.clock.WithTimeout(ctx, duration)
	defer cancel()

	childRC := &Context{
		ctx:          deadlineCtx,
		cancel:       cancel,
		operationKey: rc.OperationKey(),
		properties:   rc.Properties(),
	}

	type out struct {
		value T
		err   error
	}
	resultCh := make(chan out, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				panicErr := &PanicError{
					Name:      t.name,
					Message:   sanitizePanicMessage(r),
					Stack:     string(debug.Stack()),
					Timestamp: time.Now(),
				}
				select {
				case resultCh <- out{value: zero, err: panicErr}:
				case <-deadlineCtx.Done():
				}
			}
		}()
		value, err := next(childRC)
		select {
		case resultCh <- out{value: value, err: err}:
		case <-deadlineCtx.Done():
		}
	}()

	select {
	case res := <-resultCh:
		elapsed := t.clock.Since(start)
		if res.err != nil {
			span.SetTag(TimeoutTagSuccess, "false")
			return Fail[T](wrapError(t.name, res.err, start))
		}

		span.SetTag(TimeoutTagSuccess, "true")
		t.metrics.Counter(TimeoutSuccessesTotal).Inc()

		percentUsed := float64(elapsed) / float64(duration) * 100
		if percentUsed > nearTimeoutThreshold*100 {
			_ = t.hooks.Emit(ctx, TimeoutEventNearTimeout, TimeoutEvent{ //nolint:errcheck
				Name: t.name, Duration: duration, Elapsed: elapsed,
				NearTimeout: true, PercentUsed: percentUsed, Timestamp: t.clock.Now(),
			})
		}
		return Succeed(res.value)

	case <-deadlineCtx.Done():
		childRC.Cancel()
		span.SetTag(TimeoutTagSuccess, "false")
		span.SetTag(TimeoutTagTimedOut, "true")
		t.metrics.Counter(TimeoutTimeoutsTotal).Inc()

		_ = t.hooks.Emit(ctx, TimeoutEventTimeout, TimeoutEvent{ //nolint:errcheck
			Name: t.name, Duration: duration, Elapsed: t.clock.Since(start),
			TimedOut: true, PercentUsed: 100, Timestamp: t.clock.Now(),
		})

		if errors.Is(deadlineCtx.Err(), context.DeadlineExceeded) {
			return Fail[T](wrapError(t.name, &TimeoutRejectedError{Name: t.name, Timeout: duration.String()}, start))
		}
		return Fail[T](wrapError(t.name, &OperationCancelledError{Name: t.name}, start))
	}
}

// Name implements Strategy.
func (t *Timeout[T]) Name() Name { return t.name }

// Metrics returns this strategy's metrics registry.
func (t *Timeout[T]) Metrics() *metricz.Registry { return t.metrics }

// Tracer returns this strategy's tracer.
func (t *Timeout[T]) Tracer() *tracez.Tracer { return t.tracer }

// Close releases this strategy's observability resources.
func (t *Timeout[T]) Close() error {
	t.tracer.Close()
	t.hooks.Close()
	return nil
}
