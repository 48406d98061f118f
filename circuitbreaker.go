package failz

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metric keys for the CircuitBreaker strategy.
const (
	CircuitBreakerRequestsTotal  = metricz.Key("circuitbreaker.requests.total")
	CircuitBreakerRejectedTotal = metricz.Key("circuitbreaker.rejected.total")
	CircuitBreakerStateGauge    = metricz.Key("circuitbreaker.state")
)

// Span and tag keys for the CircuitBreaker strategy.
const (
	CircuitBreakerSpan = tracez.Key("circuitbreaker.execute")

	CircuitBreakerTagName  = tracez.Tag("name")
	CircuitBreakerTagState = tracez.Tag("state")
)

// circuitBreakerSafetyFactor bounds the ring buffer's capacity as a
// multiple of MinimumThroughput, per the design notes: large enough that
// a burst of traffic within one sampling duration never forces a sample
// out before it ages out on its own.
const circuitBreakerSafetyFactor = 10

// CircuitBreakerOptions configures a CircuitBreaker strategy.
type CircuitBreakerOptions[T any] struct {
	// SamplingDuration is how far back the failure ratio looks; records
	// older than now-SamplingDuration are pruned on every access and never
	// count toward the ratio. Defaults to 30s.
	SamplingDuration time.Duration
	// MinimumThroughput is the number of samples, after pruning, the
	// window must contain before a failure ratio is evaluated; below this
	// count the circuit never opens no matter how many failures occurred.
	// Defaults to 10.
	MinimumThroughput int
	// FailureRatio is the fraction (0, 1] of failing samples within
	// SamplingDuration, at or above MinimumThroughput samples, that trips
	// the circuit open. Defaults to 0.5.
	FailureRatio float64
	// BreakDuration is how long the circuit stays Open before a single
	// probe request is allowed through in HalfOpen. Defaults to 5s.
	BreakDuration time.Duration
	// ShouldHandle decides whether a given outcome counts as a failure
	// for window purposes. Defaults to treating every Failure outcome as
	// a failure.
	ShouldHandle func(Outcome[T]) bool
	// Clock overrides time.Now for deterministic tests.
	Clock clockz.Clock
}

// circuitRecord is one execution's outcome, timestamped so it can be
// pruned once it falls outside SamplingDuration.
type circuitRecord struct {
	succeeded bool
	timestamp time.Time
}

// CircuitBreaker prevents cascading failures by evaluating a sliding
// window of recent outcomes rather than a consecutive-failure streak: once
// MinimumThroughput samples have accumulated and the failure ratio within
// the window reaches FailureRatio, the circuit opens and rejects requests
// without invoking the downstream callback. After BreakDuration elapses it
// admits a single HalfOpen probe; the probe's outcome alone decides
// whether the circuit closes (resetting the window) or reopens.
//
// A circuit can also be manually forced into Isolated state via Isolate,
// rejecting every request until Reset is called — useful for draining
// traffic from a dependency an operator knows is down, independent of
// what the window would otherwise decide.
//
// CircuitBreaker is stateful: construct it once per protected operation
// and reuse it, the same way every other failz strategy is built once and
// shared across executions.
type CircuitBreaker[T any] struct {
	name  Name
	opts  CircuitBreakerOptions[T]
	clock clockz.Clock

	mu            sync.Mutex
	state         CircuitState
	generation    int
	records       []circuitRecord
	writeIdx      int
	filled        int
	lastOpened    time.Time
	probeInFlight bool

	metrics *metricz.Registry
	tracer  *tracez.Tracer
}

// NewCircuitBreaker constructs a CircuitBreaker strategy from opts.
func NewCircuitBreaker[T any](name Name, opts CircuitBreakerOptions[T]) *CircuitBreaker[T] {
	if opts.SamplingDuration <= 0 {
		opts.SamplingDuration = 30 * time.Second
	}
	if opts.MinimumThroughput <= 0 {
		opts.MinimumThroughput = 10
	}
	if opts.FailureRatio <= 0 {
		opts.FailureRatio = 0.5
	}
	if opts.BreakDuration <= 0 {
		opts.BreakDuration = 5 * time.Second
	}
	if opts.ShouldHandle == nil {
		opts.ShouldHandle = func(o Outcome[T]) bool { return o.IsFailure() }
	}

	registry := metricz.New()
	registry.Counter(CircuitBreakerRequestsTotal)
	registry.Counter(CircuitBreakerRejectedTotal)
	registry.Gauge(CircuitBreakerStateGauge)

	return &CircuitBreaker[T]{
		name:    name,
		opts:    opts,
		clock:   clockOrReal(opts.Clock),
		state:   StateClosed,
		records: make([]circuitRecord, opts.MinimumThroughput*circuitBreakerSafetyFactor),
		metrics: registry,
		tracer:  tracez.New(),
	}
}

// record pushes a timestamped sample into the ring buffer, evicting the
// oldest sample by position once the buffer is full. Caller must hold cb.mu.
func (cb *CircuitBreaker[T]) record(succeeded bool, ts time.Time) {
	cb.records[cb.writeIdx] = circuitRecord{succeeded: succeeded, timestamp: ts}
	if cb.filled < len(cb.records) {
		cb.filled++
	}
	cb.writeIdx = (cb.writeIdx + 1) % len(cb.records)
}

// counts prunes every record older than now-SamplingDuration and returns
// the failure and total counts among what remains. Caller must hold cb.mu.
func (cb *CircuitBreaker[T]) counts(now time.Time) (failures, total int) {
	cutoff := now.Add(-cb.opts.SamplingDuration)
	for i := 0; i < cb.filled; i++ {
		r := cb.records[i]
		if r.timestamp.Before(cutoff) {
			continue
		}
		total++
		if !r.succeeded {
			failures++
		}
	}
	return failures, total
}

// resetWindow clears accumulated samples, used whenever the circuit
// returns to Closed. Caller must hold cb.mu.
func (cb *CircuitBreaker[T]) resetWindow() {
	cb.filled = 0
	cb.writeIdx = 0
}

// Execute implements Strategy.
func (cb *CircuitBreaker[T]) Execute(rc *Context, next Callback[T]) (result Outcome[T]) {
	defer recoverFromPanic(&result, cb.name)

	ctx, span := cb.tracer.StartSpan(rc.Context(), CircuitBreakerSpan)
	span.SetTag(CircuitBreakerTagName, cb.name)
	defer span.Finish()

	cb.metrics.Counter(CircuitBreakerRequestsTotal).Inc()

	cb.mu.Lock()

	if cb.state == StateIsolated {
		cb.mu.Unlock()
		span.SetTag(CircuitBreakerTagState, string(StateIsolated))
		cb.metrics.Counter(CircuitBreakerRejectedTotal).Inc()
		capitan.Error(ctx, SignalCircuitBreakerRejected,
			FieldName.Field(cb.name), FieldState.Field(string(StateIsolated)))
		return Fail[T](&CircuitBreakerRejectedError{Name: cb.name, State: StateIsolated})
	}

	if cb.state == StateOpen && cb.clock.Since(cb.lastOpened) > cb.opts.BreakDuration {
		cb.state = StateHalfOpen
		cb.generation++
		capitan.Warn(ctx, SignalCircuitBreakerHalfOpen,
			FieldName.Field(cb.name), FieldState.Field(string(StateHalfOpen)), FieldGeneration.Field(cb.generation))
	}

	state := cb.state
	generation := cb.generation

	if state == StateOpen {
		cb.mu.Unlock()
		span.SetTag(CircuitBreakerTagState, string(StateOpen))
		cb.metrics.Counter(CircuitBreakerRejectedTotal).Inc()
		capitan.Error(ctx, SignalCircuitBreakerRejected,
			FieldName.Field(cb.name), FieldState.Field(string(StateOpen)))
		return Fail[T](&CircuitBreakerRejectedError{Name: cb.name, State: StateOpen})
	}

	if state == StateHalfOpen {
		if cb.probeInFlight {
			cb.mu.Unlock()
			span.SetTag(CircuitBreakerTagState, string(StateHalfOpen))
			cb.metrics.Counter(CircuitBreakerRejectedTotal).Inc()
			capitan.Error(ctx, SignalCircuitBreakerRejected,
				FieldName.Field(cb.name), FieldState.Field(string(StateHalfOpen)))
			return Fail[T](&CircuitBreakerRejectedError{Name: cb.name, State: StateHalfOpen})
		}
		cb.probeInFlight = true
	}
	cb.mu.Unlock()

	start := cb.clock.Now()
	value, err := next(rc)

	cb.mu.Lock()
	if state == StateHalfOpen {
		cb.probeInFlight = false
	}
	if cb.generation != generation {
		cb.mu.Unlock()
		if err != nil {
			return Fail[T](wrapError(cb.name, err, start))
		}
		return Succeed(value)
	}

	var outcome Outcome[T]
	if err != nil {
		outcome = Fail[T](err)
	} else {
		outcome = Succeed(value)
	}
	isFailure := cb.opts.ShouldHandle(outcome)

	switch state {
	case StateHalfOpen:
		if isFailure {
			cb.state = StateOpen
			cb.lastOpened = cb.clock.Now()
			cb.generation++
			cb.mu.Unlock()
			capitan.Error(ctx, SignalCircuitBreakerOpened,
				FieldName.Field(cb.name), FieldState.Field(string(StateOpen)))
		} else {
			cb.state = StateClosed
			cb.resetWindow()
			cb.mu.Unlock()
			capitan.Info(ctx, SignalCircuitBreakerClosed,
				FieldName.Field(cb.name), FieldState.Field(string(StateClosed)))
		}
	default: // StateClosed
		now := cb.clock.Now()
		cb.record(!isFailure, now)
		failures, total := cb.counts(now)
		ratio := 0.0
		if total > 0 {
			ratio = float64(failures) / float64(total)
		}
		if isFailure && total >= cb.opts.MinimumThroughput && ratio >= cb.opts.FailureRatio {
			cb.state = StateOpen
			cb.lastOpened = cb.clock.Now()
			cb.generation++
			cb.mu.Unlock()
			capitan.Error(ctx, SignalCircuitBreakerOpened,
				FieldName.Field(cb.name), FieldState.Field(string(StateOpen)),
				FieldFailures.Field(failures), FieldTotal.Field(total), FieldFailureRatio.Field(ratio))
		} else {
			cb.mu.Unlock()
		}
	}

	span.SetTag(CircuitBreakerTagState, string(cb.State()))
	if err != nil {
		return Fail[T](wrapError(cb.name, err, start))
	}
	return Succeed(value)
}

// State returns the circuit's current state, accounting for the
// Open-to-HalfOpen transition that only otherwise evaluates lazily on the
// next Execute call.
func (cb *CircuitBreaker[T]) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.clock.Since(cb.lastOpened) > cb.opts.BreakDuration {
		return StateHalfOpen
	}
	return cb.state
}

// Isolate forces the circuit into Isolated state, rejecting every request
// until Reset is called, regardless of the sliding window.
func (cb *CircuitBreaker[T]) Isolate() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateIsolated
	cb.generation++
	capitan.Warn(context.Background(), SignalCircuitBreakerIsolated, FieldName.Field(cb.name))
}

// Reset manually returns the circuit to Closed, clearing the sliding
// window and exiting Isolated state if set.
func (cb *CircuitBreaker[T]) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.resetWindow()
	cb.generation++
	cb.probeInFlight = false
}

// Name implements Strategy.
func (cb *CircuitBreaker[T]) Name() Name { return cb.name }

// Metrics returns this strategy's metrics registry.
func (cb *CircuitBreaker[T]) Metrics() *metricz.Registry { return cb.metrics }

// Tracer returns this strategy's tracer.
func (cb *CircuitBreaker[T]) Tracer() *tracez.Tracer { return cb.tracer }

// Close releases this strategy's observability resources.
func (cb *CircuitBreaker[T]) Close() error {
	cb.tracer.Close()
	return nil
}
