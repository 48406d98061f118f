package failz

import (
	"errors"
	"fmt"
)

// CircuitState enumerates the four states a CircuitBreaker can be in.
type CircuitState string

const (
	// StateClosed means calls are admitted and failures are counted.
	StateClosed CircuitState = "closed"
	// StateOpen means calls are rejected without reaching downstream.
	StateOpen CircuitState = "open"
	// StateHalfOpen means a single probe call is admitted to test recovery.
	StateHalfOpen CircuitState = "half-open"
	// StateIsolated means calls are rejected until a manual Reset.
	StateIsolated CircuitState = "isolated"
)

// RateLimiterReason enumerates which rate-limiter variant rejected a call.
type RateLimiterReason string

const (
	ReasonFixedWindow   RateLimiterReason = "fixed-window"
	ReasonSlidingWindow RateLimiterReason = "sliding-window"
	ReasonTokenBucket   RateLimiterReason = "token-bucket"
	ReasonConcurrency   RateLimiterReason = "concurrency"
)

// CircuitBreakerRejectedError is returned when a circuit breaker rejects a
// call without invoking the downstream callback, because the breaker is
// Open or Isolated, or HalfOpen with its single probe already in flight.
type CircuitBreakerRejectedError struct {
	Name  Name
	State CircuitState
}

func (e *CircuitBreakerRejectedError) Error() string {
	return fmt.Sprintf("%s: circuit breaker rejected call: state=%s", e.Name, e.State)
}

// TimeoutRejectedError is returned when a timeout strategy's deadline
// elapses before the downstream callback completes.
type TimeoutRejectedError struct {
	Name    Name
	Timeout string
}

func (e *TimeoutRejectedError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Name, e.Timeout)
}

// RateLimiterRejectedError is returned when a rate limiter rejects a call.
type RateLimiterRejectedError struct {
	Name   Name
	Reason RateLimiterReason
}

func (e *RateLimiterRejectedError) Error() string {
	return fmt.Sprintf("%s: rate limiter rejected call: reason=%s", e.Name, e.Reason)
}

// OperationCancelledError is returned when a caller-initiated or
// timeout-induced cancellation is observed cooperatively.
type OperationCancelledError struct {
	Name Name
}

func (e *OperationCancelledError) Error() string {
	return fmt.Sprintf("%s: operation cancelled", e.Name)
}

// IsCircuitBreakerRejected reports whether err is (or wraps) a
// CircuitBreakerRejectedError.
func IsCircuitBreakerRejected(err error) bool {
	var target *CircuitBreakerRejectedError
	return errors.As(err, &target)
}

// IsTimeoutRejected reports whether err is (or wraps) a TimeoutRejectedError.
func IsTimeoutRejected(err error) bool {
	var target *TimeoutRejectedError
	return errors.As(err, &target)
}

// IsRateLimiterRejected reports whether err is (or wraps) a
// RateLimiterRejectedError.
func IsRateLimiterRejected(err error) bool {
	var target *RateLimiterRejectedError
	return errors.As(err, &target)
}

// IsOperationCancelled reports whether err is (or wraps) an
// OperationCancelledError.
func IsOperationCancelled(err error) bool {
	var target *OperationCancelledError
	return errors.As(err, &target)
}
