package failz

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

const (
	HedgingLaunchedTotal = metricz.Key("hedging.launched.total")
	HedgingWinnerTotal   = metricz.Key("hedging.winner.total")
)

const (
	HedgingSpan = tracez.Key("hedging.execute")

	HedgingTagName    = tracez.Tag("name")
	HedgingTagAttempt = tracez.Tag("winning_attempt")
)

const HedgingEventKey = hookz.Key("hedging.launch")

// HedgingEvent reports that another hedged attempt is about to launch
// because the previous wait elapsed without a good outcome.
type HedgingEvent struct {
	Name      Name
	Attempt   int
	Elapsed   time.Duration
	Timestamp time.Time
}

// HedgingOptions configures a Hedging strategy.
type HedgingOptions[T any] struct {
	// MaxHedgedAttempts is the number of additional attempts launched
	// beyond the primary (attempt 0), so at most 1+MaxHedgedAttempts
	// attempts run concurrently.
	MaxHedgedAttempts int
	// Delay is how long the strategy waits after launching an attempt
	// before launching the next one, absent a good outcome.
	Delay time.Duration
	// ActionGenerator produces the callback each attempt index runs;
	// defaults to invoking the primary callback for every attempt.
	ActionGenerator func(attempt int) Callback[T]
	// ShouldHandle reports whether an outcome is "bad" and should keep
	// hedging going; defaults to IsFailure. A Success for which
	// ShouldHandle returns true is still considered bad, allowing
	// hedging to trigger on unsatisfactory successes, not just errors.
	ShouldHandle func(Outcome[T]) bool
	// Clock overrides time.After for deterministic tests.
	Clock clockz.Clock
}

// Hedging launches a primary attempt and, absent a good outcome within
// Delay, launches additional parallel attempts up to MaxHedgedAttempts,
// returning the first good outcome and cancelling the rest.
type Hedging[T any] struct {
	name  Name
	opts  HedgingOptions[T]
	clock clockz.Clock

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[HedgingEvent]
}

// NewHedging constructs a Hedging strategy.
func NewHedging[T any](name Name, opts HedgingOptions[T]) *Hedging[T] {
	if opts.ShouldHandle == nil {
		opts.ShouldHandle = func(o Outcome[T]) bool { return o.IsFailure() }
	}

	registry := metricz.New()
	registry.Counter(HedgingLaunchedTotal)
	registry.Counter(HedgingWinnerTotal)

	return &Hedging[T]{
		name:    name,
		opts:    opts,
		clock:   clockOrReal(opts.Clock),
		metrics: registry,
		tracer:  tracez.New(),
		hooks:   hookz.New[HedgingEvent](),
	}
}

// OnHedging registers a handler fired whenever an additional attempt is
// about to launch.
func (h *Hedging[T]) OnHedging(handler func(context.Context, HedgingEvent) error) error {
	_, err := h.hooks.Hook(HedgingEventKey, handler)
	return err
}

type hedgeResult[T any] struct {
	attempt int
	outcome Outcome[T]
}

// Execute implements Strategy.
func (h *Hedging[T]) Execute(rc *Context, next Callback[T]) (result Outcome[T]) {
	defer recoverFromPanic(&result, h.name)

	ctx, span := h.tracer.StartSpan(rc.Context(), HedgingSpan)
	span.SetTag(HedgingTagName, h.name)
	defer span.Finish()

	action := h.opts.ActionGenerator
	if action == nil {
		action = func(int) Callback[T] { return next }
	}

	attemptCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	resultCh := make(chan hedgeResult[T], h.opts.MaxHedgedAttempts+1)
	launch := func(attempt int) {
		h.metrics.Counter(HedgingLaunchedTotal).Inc()
		childRC := &Context{
			ctx:          attemptCtx,
			cancel:       cancelAll,
			operationKey: rc.OperationKey(),
			properties:   rc.Properties(),
		}
		cb := action(attempt)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					panicErr := &PanicError{
						Name:      h.name,
						Message:   sanitizePanicMessage(r),
						Stack:     string(debug.Stack()),
						Timestamp: time.Now(),
					}
					select {
					case resultCh <- hedgeResult[T]{attempt: attempt, outcome: Fail[T](panicErr)}:
					case <-attemptCtx.Done():
					}
				}
			}()
			value, err := cb(childRC)
			var outcome Outcome[T]
			if err != nil {
				outcome = Fail[T](err)
			} else {
				outcome = Succeed(value)
			}
			select {
			case resultCh <- hedgeResult[T]{attempt: attempt, outcome: outcome}:
			case <-attemptCtx.Done():
			}
		}()
	}

	launch(0)
	launched := 1
	pending := 1
	var lastBad hedgeResult[T]

	var timer <-chan time.Time
	if launched <= h.opts.MaxHedgedAttempts {
		timer = h.clock.After(h.opts.Delay)
	}

	for {
		select {
		case res := <-resultCh:
			pending--
			if !h.opts.ShouldHandle(res.outcome) {
				cancelAll()
				span.SetTag(HedgingTagAttempt, fmt.Sprintf("%d", res.attempt))
				h.metrics.Counter(HedgingWinnerTotal).Inc()
				capitan.Info(ctx, SignalHedgingWinner, FieldName.Field(h.name), FieldAttempt.Field(res.attempt))
				return res.outcome
			}
			lastBad = res
			if pending == 0 && launched > h.opts.MaxHedgedAttempts {
				return lastBad.outcome
			}
		case <-timer:
			elapsed := h.opts.Delay
			capitan.Info(ctx, SignalHedgingLaunched, FieldName.Field(h.name), FieldAttempt.Field(launched))
			h.hooks.Emit(ctx, HedgingEventKey, HedgingEvent{Name: h.name, Attempt: launched, Elapsed: elapsed, Timestamp: time.Now()})
			launch(launched)
			launched++
			pending++
			timer = nil
			if launched <= h.opts.MaxHedgedAttempts {
				timer = h.clock.After(h.opts.Delay)
			}
		case <-rc.Context().Done():
			if pending < launched {
				return lastBad.outcome
			}
			return Fail[T](wrapError(h.name, &OperationCancelledError{Name: h.name}, time.Now()))
		}
	}
}

// Name implements Strategy.
func (h *Hedging[T]) Name() Name { return h.name }

// Metrics returns this strategy's metrics registry.
func (h *Hedging[T]) Metrics() *metricz.Registry { return h.metrics }

// Tracer returns this strategy's tracer.
func (h *Hedging[T]) Tracer() *tracez.Tracer { return h.tracer }

// Close releases this strategy's observability resources.
func (h *Hedging[T]) Close() error {
	h.tracer.Close()
	h.hooks.Close()
	return nil
}
