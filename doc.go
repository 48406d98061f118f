// Package failz provides a composable resilience pipeline for wrapping
// unreliable operations with retry, circuit breaker, timeout, fallback,
// rate limiting, hedging, and caching behavior.
//
// # Overview
//
// failz is built around three core ideas:
//
//   - Outcome[T]: a uniform Success/Failure envelope returned by every
//     execution.
//   - Context: per-execution state (cancellation, attempt counter,
//     operation key, a typed property bag) threaded through every
//     strategy and the user's callback.
//   - Strategy[T]: a single-method interface wrapping a downstream
//     callback; strategies compose by delegation, not inheritance.
//
// A Pipeline holds an ordered list of strategies and executes them
// outermost-first around a user-supplied Callback[T]:
//
//	pipeline := failz.NewBuilder[string]("fetch-user").
//	    AddRetry("retry", failz.RetryOptions[string]{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}).
//	    AddTimeout("timeout", failz.TimeoutOptions{Duration: 500 * time.Millisecond}).
//	    AddCircuitBreaker("breaker", failz.CircuitBreakerOptions[string]{}).
//	    Build()
//
//	result, err := pipeline.Execute(ctx, func(rc *failz.Context) (string, error) {
//	    return fetchUser(rc.Context(), id)
//	})
//
// # Strategies
//
//   - Retry: constant/linear/exponential backoff, jitter, max delay,
//     custom delay generators.
//   - CircuitBreaker: four-state machine (closed/open/half-open/isolated)
//     over a sliding failure-ratio window.
//   - Timeout: races the callback against a timer, signalling cooperative
//     cancellation.
//   - Fallback: substitutes an alternate action on a handled failure.
//   - RateLimiter: fixed window, sliding window, token bucket, and
//     concurrency-limiter (bulkhead) variants behind one interface.
//   - Hedging: launches staggered parallel attempts, returning the first
//     acceptable outcome and cancelling the rest.
//   - Cache: cache-aside over a pluggable CacheProvider.
//
// # Observability
//
// Every strategy carries the same ambient stack: structured signals via
// capitan, counters and gauges via metricz, spans via tracez, and typed
// event hooks via hookz. None of these influence control flow — a
// listener panic or a metrics registry being nil never changes what the
// pipeline returns.
//
// # Determinism in tests
//
// Every strategy that sleeps, waits, or measures elapsed time accepts a
// clockz.Clock via its Options struct's Clock field, defaulting to
// clockz.RealClock. Tests use clockz.NewFakeClock() to assert exact delay
// sequences without sleeping.
package failz
