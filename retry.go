package failz

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Backoff selects how Retry computes the delay between attempts.
type Backoff int

const (
	// BackoffConstant uses BaseDelay unchanged for every attempt.
	BackoffConstant Backoff = iota
	// BackoffLinear uses BaseDelay * (attempt+1).
	BackoffLinear
	// BackoffExponential uses BaseDelay * 2^attempt.
	BackoffExponential
)

// Metric keys for the Retry strategy.
const (
	RetryAttemptsTotal  = metricz.Key("retry.attempts.total")
	RetrySuccessesTotal = metricz.Key("retry.successes.total")
	RetryFailuresTotal  = metricz.Key("retry.failures.total")
	RetryAttemptCurrent = metricz.Key("retry.attempt.current")
)

// Span and tag keys for the Retry strategy.
const (
	RetrySpan = tracez.Key("retry.execute")

	RetryTagName     = tracez.Tag("name")
	RetryTagAttempts = tracez.Tag("attempts")
	RetryTagSuccess  = tracez.Tag("success")
)

// RetryEventKey is the hookz key the Retry strategy emits attempt events
// under.
const RetryEventKey = hookz.Key("retry.attempt")

// RetryEvent describes a single retry attempt, delivered to handlers
// registered via Retry.OnAttempt.
type RetryEvent[T any] struct {
	Name        Name
	Attempt     int
	MaxAttempts int
	Outcome     Outcome[T]
	Delay       time.Duration
	Timestamp   time.Time
}

// RetryOptions configures a Retry strategy.
type RetryOptions[T any] struct {
	// MaxAttempts is the number of retries after the first attempt; 0
	// means no retries (the callback runs exactly once).
	MaxAttempts int
	// BaseDelay is the starting delay the Backoff policy scales from.
	BaseDelay time.Duration
	// Backoff selects constant, linear, or exponential delay growth.
	Backoff Backoff
	// UseJitter, when true, replaces the computed delay with a uniformly
	// random value in [0, delay].
	UseJitter bool
	// MaxDelay clamps the computed delay; zero means unclamped.
	MaxDelay time.Duration
	// ShouldHandle decides whether a Failure outcome should be retried.
	// Defaults to handling every failure.
	ShouldHandle func(Outcome[T]) bool
	// DelayGenerator, if set, overrides the Backoff computation entirely.
	// Returning ok=false aborts the retry loop immediately.
	DelayGenerator func(attempt int, outcome Outcome[T], rc *Context) (delay time.Duration, ok bool)
	// Clock overrides time.Now/time.After for deterministic tests.
	Clock clockz.Clock
}

// Retry loops the downstream callback up to MaxAttempts+1 times, applying
// backoff with optional jitter between attempts, stopping early on
// success or on a failure ShouldHandle rejects.
type Retry[T any] struct {
	name    Name
	opts    RetryOptions[T]
	clock   clockz.Clock
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[RetryEvent[T]]
}

// NewRetry constructs a Retry strategy from opts.
func NewRetry[T any](name Name, opts RetryOptions[T]) *Retry[T] {
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.ShouldHandle == nil {
		opts.ShouldHandle = func(o Outcome[T]) bool { return o.IsFailure() }
	}

	registry := metricz.New()
	registry.Counter(RetryAttemptsTotal)
	registry.Counter(RetrySuccessesTotal)
	registry.Counter(RetryFailuresTotal)
	registry.Gauge(RetryAttemptCurrent)

	return &Retry[T]{
		name:    name,
		opts:    opts,
		clock:   clockOrReal(opts.Clock),
		metrics: registry,
		tracer:  tracez.New(),
		hooks:   hookz.New[RetryEvent[T]](),
	}
}

// OnAttempt registers a handler fired after every attempt (success or
// failure).
func (r *Retry[T]) OnAttempt(handler func(context.Context, RetryEvent[T]) error) error {
	_, err := r.hooks.Hook(RetryEventKey, handler)
	return err
}

// computeDelay applies Backoff + MaxDelay clamp + jitter to attempt.
func (r *Retry[T]) computeDelay(attempt int) time.Duration {
	base := r.opts.BaseDelay
	var delay time.Duration
	switch r.opts.Backoff {
	case BackoffLinear:
		delay = base * time.Duration(attempt+1)
	case BackoffExponential:
		delay = base * time.Duration(uint64(1)<<uint(attempt)) //nolint:gosec // attempt is bounded by MaxAttempts
	default:
		delay = base
	}
	if r.opts.MaxDelay > 0 && delay > r.opts.MaxDelay {
		delay = r.opts.MaxDelay
	}
	if r.opts.UseJitter && delay > 0 {
		delay = time.Duration(rand.Int63n(int64(delay) + 1)) //nolint:gosec // jitter doesn't need cryptographic randomness
	}
	return delay
}

// Execute implements Strategy.
func (r *Retry[T]) Execute(rc *Context, next Callback[T]) (result Outcome[T]) {
	defer recoverFromPanic(&result, r.name)

	ctx, span := r.tracer.StartSpan(rc.Context(), RetrySpan)
	span.SetTag(RetryTagName, r.name)
	defer span.Finish()

	start := r.clock.Now()

	for attempt := 0; ; attempt++ {
		if rc.Cancelled() {
			return Fail[T](wrapError(r.name, &OperationCancelledError{Name: r.name}, start))
		}

		r.metrics.Gauge(RetryAttemptCurrent).Set(float64(attempt))
		r.metrics.Counter(RetryAttemptsTotal).Inc()

		value, err := next(rc)
		var outcome Outcome[T]
		if err == nil {
			outcome = Succeed(value)
		} else {
			outcome = Fail[T](err)
		}

		if r.hooks.ListenerCount(RetryEventKey) > 0 {
			_ = r.hooks.Emit(ctx, RetryEventKey, RetryEvent[T]{ //nolint:errcheck
				Name: r.name, Attempt: attempt, MaxAttempts: r.opts.MaxAttempts,
				Outcome: outcome, Timestamp: r.clock.Now(),
			})
		}

		if outcome.IsSuccess() {
			span.SetTag(RetryTagSuccess, "true")
			span.SetTag(RetryTagAttempts, fmt.Sprintf("%d", attempt+1))
			r.metrics.Counter(RetrySuccessesTotal).Inc()
			r.metrics.Gauge(RetryAttemptCurrent).Set(0)
			if attempt > 0 {
				capitan.Info(ctx, SignalRetrySucceeded,
					FieldName.Field(r.name), FieldAttempt.Field(attempt))
			}
			return outcome
		}

		if !r.opts.ShouldHandle(outcome) || attempt >= r.opts.MaxAttempts {
			span.SetTag(RetryTagSuccess, "false")
			span.SetTag(RetryTagAttempts, fmt.Sprintf("%d", attempt+1))
			r.metrics.Counter(RetryFailuresTotal).Inc()
			r.metrics.Gauge(RetryAttemptCurrent).Set(0)
			capitan.Warn(ctx, SignalRetryExhausted,
				FieldName.Field(r.name), FieldAttempt.Field(attempt), FieldError.Field(err.Error()))
			return Fail[T](wrapError(r.name, err, start))
		}

		var delay time.Duration
		if r.opts.DelayGenerator != nil {
			d, ok := r.opts.DelayGenerator(attempt, outcome, rc)
			if !ok {
				r.metrics.Counter(RetryFailuresTotal).Inc()
				r.metrics.Gauge(RetryAttemptCurrent).Set(0)
				return Fail[T](wrapError(r.name, err, start))
			}
			delay = d
		} else {
			delay = r.computeDelay(attempt)
		}

		capitan.Info(ctx, SignalRetryAttempt,
			FieldName.Field(r.name), FieldAttempt.Field(attempt+1),
			FieldMaxAttempts.Field(r.opts.MaxAttempts), FieldDelay.Field(delay.Seconds()))

		if delay > 0 {
			select {
			case <-r.clock.After(delay):
			case <-rc.Context().Done():
				r.metrics.Gauge(RetryAttemptCurrent).Set(0)
				return Fail[T](wrapError(r.name, rc.Context().Err(), start))
			}
		}

		rc.incrementAttempt()
	}
}

// Name implements Strategy.
func (r *Retry[T]) Name() Name { return r.name }

// Metrics returns this strategy's metrics registry.
func (r *Retry[T]) Metrics() *metricz.Registry { return r.metrics }

// Tracer returns this strategy's tracer.
func (r *Retry[T]) Tracer() *tracez.Tracer { return r.tracer }

// Close releases this strategy's observability resources.
func (r *Retry[T]) Close() error {
	r.tracer.Close()
	r.hooks.Close()
	return nil
}
