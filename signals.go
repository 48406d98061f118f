package failz

import "github.com/zoobzio/capitan"

// Signal constants for failz strategy events.
// Signals follow the pattern: <strategy-type>.<event>.
const (
	// Retry signals.
	SignalRetryAttempt   capitan.Signal = "retry.attempt"
	SignalRetrySucceeded capitan.Signal = "retry.succeeded"
	SignalRetryExhausted capitan.Signal = "retry.exhausted"

	// CircuitBreaker signals.
	SignalCircuitBreakerOpened   capitan.Signal = "circuitbreaker.opened"
	SignalCircuitBreakerClosed   capitan.Signal = "circuitbreaker.closed"
	SignalCircuitBreakerHalfOpen capitan.Signal = "circuitbreaker.half-open"
	SignalCircuitBreakerRejected capitan.Signal = "circuitbreaker.rejected"
	SignalCircuitBreakerIsolated capitan.Signal = "circuitbreaker.isolated"

	// Timeout signals.
	SignalTimeoutTriggered   capitan.Signal = "timeout.triggered"
	SignalTimeoutNearTimeout capitan.Signal = "timeout.near-timeout"

	// Fallback signals.
	SignalFallbackActivated capitan.Signal = "fallback.activated"
	SignalFallbackRecovered capitan.Signal = "fallback.recovered"
	SignalFallbackExhausted capitan.Signal = "fallback.exhausted"

	// RateLimiter signals.
	SignalRateLimiterAllowed  capitan.Signal = "ratelimiter.allowed"
	SignalRateLimiterRejected capitan.Signal = "ratelimiter.rejected"

	// Hedging signals.
	SignalHedgingLaunched capitan.Signal = "hedging.launched"
	SignalHedgingWinner   capitan.Signal = "hedging.winner"

	// Cache signals.
	SignalCacheHit   capitan.Signal = "cache.hit"
	SignalCacheMiss  capitan.Signal = "cache.miss"
	SignalCacheSet   capitan.Signal = "cache.set"
	SignalCacheFault capitan.Signal = "cache.fault"
)

// Common field keys using capitan primitive types. All keys use primitive
// types to avoid custom struct serialization.
var (
	// Common fields.
	FieldName      = capitan.NewStringKey("name")
	FieldError     = capitan.NewStringKey("error")
	FieldTimestamp = capitan.NewFloat64Key("timestamp")
	FieldDuration  = capitan.NewFloat64Key("duration")
	FieldAttempt   = capitan.NewIntKey("attempt")

	// Retry fields.
	FieldMaxAttempts = capitan.NewIntKey("max_attempts")
	FieldDelay       = capitan.NewFloat64Key("delay")

	// CircuitBreaker fields.
	FieldState             = capitan.NewStringKey("state")
	FieldFailures          = capitan.NewIntKey("failures")
	FieldTotal             = capitan.NewIntKey("total")
	FieldFailureRatio      = capitan.NewFloat64Key("failure_ratio")
	FieldMinimumThroughput = capitan.NewIntKey("minimum_throughput")
	FieldBreakDuration     = capitan.NewFloat64Key("break_duration")
	FieldGeneration        = capitan.NewIntKey("generation")

	// Timeout fields.
	FieldTimeout = capitan.NewFloat64Key("timeout")

	// RateLimiter fields.
	FieldReason   = capitan.NewStringKey("reason")
	FieldRate     = capitan.NewFloat64Key("rate")
	FieldBurst    = capitan.NewIntKey("burst")
	FieldTokens   = capitan.NewFloat64Key("tokens")
	FieldInFlight = capitan.NewIntKey("in_flight")
	FieldQueued   = capitan.NewIntKey("queued")

	// Hedging fields.
	FieldAttemptIndex = capitan.NewIntKey("attempt_index")

	// Cache fields.
	FieldKey = capitan.NewStringKey("key")
	FieldTTL = capitan.NewFloat64Key("ttl")
)
