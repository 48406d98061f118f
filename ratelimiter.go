package failz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// RateLimiterVariant selects which admission algorithm a RateLimiter
// strategy enforces.
type RateLimiterVariant int

const (
	// VariantTokenBucket allows bursts up to Burst, refilling in discrete
	// segments across Window. Grounded on a classic token bucket.
	VariantTokenBucket RateLimiterVariant = iota
	// VariantFixedWindow allows up to Burst requests per WindowSize,
	// resetting the count at fixed boundaries.
	VariantFixedWindow
	// VariantSlidingWindow allows up to Burst requests in any trailing
	// WindowSize interval, smoothing out the fixed-window boundary burst.
	VariantSlidingWindow
	// VariantConcurrency (the bulkhead variant) admits at most
	// MaxConcurrent simultaneous executions; see bulkhead.go.
	VariantConcurrency
)

// RateLimiterMode selects what happens when no slot is currently
// available.
type RateLimiterMode int

const (
	// ModeWait blocks the caller until a slot frees up or the Context is
	// cancelled.
	ModeWait RateLimiterMode = iota
	// ModeDrop rejects immediately with a RateLimiterRejectedError.
	ModeDrop
)

// Observability constants shared by every RateLimiter variant.
const (
	RateLimiterAllowedTotal  = metricz.Key("ratelimiter.allowed.total")
	RateLimiterRejectedTotal = metricz.Key("ratelimiter.rejected.total")

	RateLimiterSpan = tracez.Key("ratelimiter.execute")

	RateLimiterTagName    = tracez.Tag("name")
	RateLimiterTagAllowed = tracez.Tag("allowed")
)

// RateLimiterOptions configures a RateLimiter strategy. Only the fields
// relevant to Variant need be set; the rest are ignored.
type RateLimiterOptions struct {
	// Variant selects the admission algorithm.
	Variant RateLimiterVariant
	// Mode selects wait-for-a-slot or reject-immediately behavior for
	// VariantTokenBucket, VariantFixedWindow, and VariantSlidingWindow.
	// VariantConcurrency ignores Mode — its FIFO wait queue already
	// expresses the grant/enqueue/reject decision (see QueueLimit).
	Mode RateLimiterMode
	// Burst is the token bucket's capacity (permit_limit), or the
	// fixed/sliding window's request cap per WindowSize.
	Burst int
	// Window is the token bucket's replenishment window; together with
	// SegmentsPerWindow it is divided into discrete refill segments.
	Window time.Duration
	// SegmentsPerWindow divides Window into that many equal segments;
	// each whole segment elapsed since the last refill adds
	// Burst/SegmentsPerWindow tokens back, up to Burst. Defaults to 1 if
	// zero or negative.
	SegmentsPerWindow int
	// WindowSize is the window duration for VariantFixedWindow and
	// VariantSlidingWindow.
	WindowSize time.Duration
	// MaxConcurrent is the concurrency cap for VariantConcurrency.
	MaxConcurrent int
	// QueueLimit bounds how many callers may wait in FIFO order for
	// VariantConcurrency once MaxConcurrent is saturated; a caller beyond
	// MaxConcurrent+QueueLimit is rejected synchronously. Ignored by every
	// other variant.
	QueueLimit int
	// KeyGenerator derives the per-key limiter bucket from the shared
	// Context; defaults to rc.OperationKey(). VariantConcurrency ignores
	// keying and enforces one global cap.
	KeyGenerator func(rc *Context) string
	// Clock overrides time.Now/time.After for deterministic tests.
	Clock clockz.Clock
}

// limiterCore is the admission algorithm a RateLimiter strategy delegates
// to; each variant implements it independently (tokenbucket.go,
// bulkhead.go) or inline below (fixed/sliding window).
type limiterCore interface {
	// try attempts to admit key without blocking.
	try(key string) bool
	// wait blocks until key is admitted or ctx is done, returning the
	// error to surface on cancellation.
	wait(ctx context.Context, key string) error
	// release returns any resource held for key; a no-op for
	// non-concurrency variants.
	release(key string)
}

// RateLimiter admits or rejects calls through one of four algorithms
// selected by RateLimiterOptions.Variant. For the token-bucket and window
// variants, in ModeDrop a rejection surfaces as a RateLimiterRejectedError
// tagging which variant rejected it; in ModeWait the strategy blocks until
// admitted or the Context is cancelled. VariantConcurrency ignores Mode:
// it queues up to QueueLimit callers and rejects beyond that.
type RateLimiter[T any] struct {
	name   Name
	opts   RateLimiterOptions
	reason RateLimiterReason
	core   limiterCore

	metrics *metricz.Registry
	tracer  *tracez.Tracer
}

// NewRateLimiter constructs a RateLimiter strategy for the variant named
// in opts.Variant.
func NewRateLimiter[T any](name Name, opts RateLimiterOptions) *RateLimiter[T] {
	if opts.KeyGenerator == nil {
		opts.KeyGenerator = func(rc *Context) string { return rc.OperationKey() }
	}
	clock := clockOrReal(opts.Clock)

	var core limiterCore
	var reason RateLimiterReason
	switch opts.Variant {
	case VariantTokenBucket:
		core = newTokenBucketCore(opts.Burst, opts.Window, opts.SegmentsPerWindow, clock)
		reason = ReasonTokenBucket
	case VariantSlidingWindow:
		core = newWindowCore(opts.Burst, opts.WindowSize, clock, true)
		reason = ReasonSlidingWindow
	case VariantConcurrency:
		core = newBulkheadCore(opts.MaxConcurrent, opts.QueueLimit)
		reason = ReasonConcurrency
	default: // VariantFixedWindow
		core = newWindowCore(opts.Burst, opts.WindowSize, clock, false)
		reason = ReasonFixedWindow
	}

	registry := metricz.New()
	registry.Counter(RateLimiterAllowedTotal)
	registry.Counter(RateLimiterRejectedTotal)

	return &RateLimiter[T]{
		name:    name,
		opts:    opts,
		reason:  reason,
		core:    core,
		metrics: registry,
		tracer:  tracez.New(),
	}
}

// Execute implements Strategy.
func (r *RateLimiter[T]) Execute(rc *Context, next Callback[T]) (result Outcome[T]) {
	defer recoverFromPanic(&result, r.name)

	ctx, span := r.tracer.StartSpan(rc.Context(), RateLimiterSpan)
	span.SetTag(RateLimiterTagName, r.name)
	defer span.Finish()

	key := r.opts.KeyGenerator(rc)
	start := time.Now()

	switch {
	case r.opts.Variant == VariantConcurrency:
		// The bulkhead's grant/enqueue/reject-if-full decision already
		// expresses wait-vs-drop; Mode does not apply to this variant.
		if err := r.core.wait(rc.Context(), key); err != nil {
			span.SetTag(RateLimiterTagAllowed, "false")
			r.metrics.Counter(RateLimiterRejectedTotal).Inc()
			if errors.Is(err, errBulkheadQueueFull) {
				capitan.Error(ctx, SignalRateLimiterRejected, FieldName.Field(r.name), FieldReason.Field(string(r.reason)))
				return Fail[T](&RateLimiterRejectedError{Name: r.name, Reason: r.reason})
			}
			return Fail[T](wrapError(r.name, &OperationCancelledError{Name: r.name}, start))
		}
	case r.opts.Mode == ModeDrop:
		if !r.core.try(key) {
			span.SetTag(RateLimiterTagAllowed, "false")
			r.metrics.Counter(RateLimiterRejectedTotal).Inc()
			capitan.Error(ctx, SignalRateLimiterRejected, FieldName.Field(r.name), FieldReason.Field(string(r.reason)))
			return Fail[T](&RateLimiterRejectedError{Name: r.name, Reason: r.reason})
		}
	default:
		if err := r.core.wait(rc.Context(), key); err != nil {
			span.SetTag(RateLimiterTagAllowed, "false")
			r.metrics.Counter(RateLimiterRejectedTotal).Inc()
			return Fail[T](wrapError(r.name, &OperationCancelledError{Name: r.name}, start))
		}
	}

	span.SetTag(RateLimiterTagAllowed, "true")
	r.metrics.Counter(RateLimiterAllowedTotal).Inc()
	capitan.Info(ctx, SignalRateLimiterAllowed, FieldName.Field(r.name))

	defer r.core.release(key)

	value, err := next(rc)
	if err != nil {
		return Fail[T](wrapError(r.name, err, start))
	}
	return Succeed(value)
}

// Name implements Strategy.
func (r *RateLimiter[T]) Name() Name { return r.name }

// Metrics returns this strategy's metrics registry.
func (r *RateLimiter[T]) Metrics() *metricz.Registry { return r.metrics }

// Tracer returns this strategy's tracer.
func (r *RateLimiter[T]) Tracer() *tracez.Tracer { return r.tracer }

// Close releases this strategy's observability resources.
func (r *RateLimiter[T]) Close() error {
	r.tracer.Close()
	return nil
}

// windowBucket tracks one key's request history for the fixed and
// sliding window variants.
type windowBucket struct {
	windowStart time.Time   // fixed window: start of the current window
	count       int         // fixed window: requests admitted in the current window
	timestamps  []time.Time // sliding window: admission times still inside the trailing window
}

// windowCore implements limiterCore for both VariantFixedWindow (sliding
// false) and VariantSlidingWindow (sliding true), each admitting requests
// against a per-key counter or timestamp trail bounded by window.
type windowCore struct {
	mu      sync.Mutex
	buckets map[string]*windowBucket
	limit   int
	window  time.Duration
	clock   clockz.Clock
	sliding bool
}

func newWindowCore(limit int, window time.Duration, clock clockz.Clock, sliding bool) *windowCore {
	return &windowCore{
		buckets: make(map[string]*windowBucket),
		limit:   limit,
		window:  window,
		clock:   clock,
		sliding: sliding,
	}
}

func (w *windowCore) bucket(key string) *windowBucket {
	b, ok := w.buckets[key]
	if !ok {
		b = &windowBucket{windowStart: w.clock.Now()}
		w.buckets[key] = b
	}
	return b
}

func (w *windowCore) try(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	b := w.bucket(key)

	if w.sliding {
		cutoff := now.Add(-w.window)
		kept := b.timestamps[:0]
		for _, ts := range b.timestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		b.timestamps = kept
		if len(b.timestamps) >= w.limit {
			return false
		}
		b.timestamps = append(b.timestamps, now)
		return true
	}

	if now.Sub(b.windowStart) >= w.window {
		b.windowStart = now
		b.count = 0
	}
	if b.count >= w.limit {
		return false
	}
	b.count++
	return true
}

// nextAvailable returns how long until key will next admit, given the
// current bucket state. Caller must hold w.mu.
func (w *windowCore) nextAvailable(key string) time.Duration {
	b, ok := w.buckets[key]
	if !ok {
		return 0
	}
	if w.sliding {
		if len(b.timestamps) == 0 {
			return 0
		}
		return b.timestamps[0].Add(w.window).Sub(w.clock.Now())
	}
	return b.windowStart.Add(w.window).Sub(w.clock.Now())
}

func (w *windowCore) wait(ctx context.Context, key string) error {
	for {
		if w.try(key) {
			return nil
		}
		w.mu.Lock()
		delay := w.nextAvailable(key)
		w.mu.Unlock()
		if delay <= 0 {
			delay = time.Millisecond
		}
		select {
		case <-w.clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *windowCore) release(string) {}
