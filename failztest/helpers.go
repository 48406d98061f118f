// Package failztest provides test utilities for failz pipelines: a
// configurable mock Callback, a chaos-injecting wrapper for soak and
// resilience tests, and assertion helpers over both.
//
// Example usage:
//
//	func TestMyPipeline(t *testing.T) {
//		mock := failztest.NewMockOperation[string](t, "mock")
//		mock.WithReturn("processed", nil)
//
//		p := failz.NewPipeline[string]("test", failz.NewRetry[string]("r", failz.RetryOptions[string]{MaxAttempts: 1}))
//		value, err := p.Execute(context.Background(), mock.Callback())
//
//		failztest.AssertInvoked(t, mock, 1)
//	}
package failztest

import (
	"context"
	"crypto/rand"
	"errors"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/failz"
)

// MockCall records one invocation of a MockOperation.
type MockCall[T any] struct {
	Attempt   int
	Timestamp time.Time
}

// MockOperation is a configurable failz.Callback for testing: it tracks
// invocation count and history, and returns caller-configured values,
// after an optional delay, or via a panic.
type MockOperation[T any] struct {
	t           *testing.T
	name        string
	callCount   int64
	returnVal   T
	returnErr   error
	delay       time.Duration
	panicMsg    string
	mu          sync.RWMutex
	callHistory []MockCall[T]
	maxHistory  int
}

// NewMockOperation creates a mock operation for testing, keeping the last
// 100 calls in history by default.
func NewMockOperation[T any](t *testing.T, name string) *MockOperation[T] {
	return &MockOperation[T]{t: t, name: name, maxHistory: 100}
}

// WithReturn configures the value and error every subsequent call returns.
func (m *MockOperation[T]) WithReturn(val T, err error) *MockOperation[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnVal = val
	m.returnErr = err
	return m
}

// WithDelay configures an artificial delay before returning, honoring the
// Context's cancellation while waiting.
func (m *MockOperation[T]) WithDelay(d time.Duration) *MockOperation[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithPanic configures the mock to panic with msg on every call.
func (m *MockOperation[T]) WithPanic(msg string) *MockOperation[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
	return m
}

// WithHistorySize caps how many calls are kept in history; 0 disables
// history tracking.
func (m *MockOperation[T]) WithHistorySize(size int) *MockOperation[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxHistory = size
	if size == 0 {
		m.callHistory = nil
	} else if len(m.callHistory) > size {
		m.callHistory = m.callHistory[len(m.callHistory)-size:]
	}
	return m
}

// Callback returns a failz.Callback[T] bound to this mock's configured
// behavior, suitable for passing to Pipeline.Execute or a Strategy directly.
func (m *MockOperation[T]) Callback() failz.Callback[T] {
	return func(rc *failz.Context) (T, error) {
		atomic.AddInt64(&m.callCount, 1)

		m.mu.Lock()
		if m.maxHistory > 0 {
			m.callHistory = append(m.callHistory, MockCall[T]{Attempt: rc.Attempt(), Timestamp: time.Now()})
			if len(m.callHistory) > m.maxHistory {
				m.callHistory = m.callHistory[1:]
			}
		}
		delay := m.delay
		returnVal := m.returnVal
		returnErr := m.returnErr
		panicMsg := m.panicMsg
		m.mu.Unlock()

		if panicMsg != "" {
			panic(panicMsg)
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-rc.Context().Done():
				var zero T
				return zero, rc.Context().Err()
			}
		}

		return returnVal, returnErr
	}
}

// CallCount returns how many times Callback() has been invoked.
func (m *MockOperation[T]) CallCount() int {
	return int(atomic.LoadInt64(&m.callCount))
}

// CallHistory returns a copy of every recorded call (subject to
// WithHistorySize's cap).
func (m *MockOperation[T]) CallHistory() []MockCall[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := make([]MockCall[T], len(m.callHistory))
	copy(history, m.callHistory)
	return history
}

// Reset clears all call tracking.
func (m *MockOperation[T]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	atomic.StoreInt64(&m.callCount, 0)
	m.callHistory = nil
}

// AssertInvoked verifies that mock's Callback was invoked exactly n times.
func AssertInvoked[T any](t *testing.T, mock *MockOperation[T], n int) {
	t.Helper()
	if got := mock.CallCount(); got != n {
		t.Errorf("expected mock %q to be invoked %d times, got %d", mock.name, n, got)
	}
}

// AssertNotInvoked verifies that mock's Callback was never invoked.
func AssertNotInvoked[T any](t *testing.T, mock *MockOperation[T]) {
	t.Helper()
	AssertInvoked(t, mock, 0)
}

// AssertInvokedBetween verifies that mock's Callback was invoked between
// min and max times, inclusive.
func AssertInvokedBetween[T any](t *testing.T, mock *MockOperation[T], minCalls, maxCalls int) {
	t.Helper()
	got := mock.CallCount()
	if got < minCalls || got > maxCalls {
		t.Errorf("expected mock %q to be invoked between %d and %d times, got %d", mock.name, minCalls, maxCalls, got)
	}
}

// WaitForInvocations blocks until mock has been invoked at least n times
// or timeout elapses, returning false on timeout.
func WaitForInvocations[T any](mock *MockOperation[T], n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if mock.CallCount() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return mock.CallCount() >= n
}

// ChaosConfig configures ChaosOperation's fault injection rates.
type ChaosConfig struct {
	FailureRate float64       // probability of returning an error (0.0-1.0)
	LatencyMin  time.Duration // minimum additional latency injected
	LatencyMax  time.Duration // maximum additional latency injected
	PanicRate   float64       // probability of panicking (0.0-1.0)
	Seed        int64         // deterministic seed; 0 picks a random one
}

// ChaosStats reports how much fault injection a ChaosOperation actually did.
type ChaosStats struct {
	TotalCalls  int64
	FailedCalls int64
	PanicCalls  int64
}

// FailureRate returns the observed fraction of calls that failed.
func (s ChaosStats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.FailedCalls) / float64(s.TotalCalls)
}

// ChaosOperation wraps a failz.Callback and randomly injects latency,
// failures, or panics around it, for exercising retry/circuit-breaker/
// fallback behavior under unreliable downstream conditions.
type ChaosOperation[T any] struct {
	wrapped     failz.Callback[T]
	failureRate float64
	latencyMin  time.Duration
	latencyMax  time.Duration
	panicRate   float64
	rng         *mathrand.Rand
	mu          sync.Mutex
	totalCalls  int64
	failedCalls int64
	panicCalls  int64
}

// NewChaosOperation wraps wrapped with the fault injection described by cfg.
func NewChaosOperation[T any](wrapped failz.Callback[T], cfg ChaosConfig) *ChaosOperation[T] {
	seed := cfg.Seed
	if seed == 0 {
		var seedBytes [8]byte
		if _, err := rand.Read(seedBytes[:]); err != nil {
			seed = time.Now().UnixNano()
		} else {
			for _, b := range seedBytes {
				seed = seed<<8 | int64(b)
			}
		}
	}
	return &ChaosOperation[T]{
		wrapped:     wrapped,
		failureRate: cfg.FailureRate,
		latencyMin:  cfg.LatencyMin,
		latencyMax:  cfg.LatencyMax,
		panicRate:   cfg.PanicRate,
		rng:         mathrand.New(mathrand.NewSource(seed)), //nolint:gosec // deterministic chaos, not security-sensitive
	}
}

// Callback returns the fault-injecting failz.Callback[T].
func (c *ChaosOperation[T]) Callback() failz.Callback[T] {
	return func(rc *failz.Context) (T, error) {
		atomic.AddInt64(&c.totalCalls, 1)

		c.mu.Lock()
		if c.rng.Float64() < c.panicRate {
			c.mu.Unlock()
			atomic.AddInt64(&c.panicCalls, 1)
			panic("chaos operation induced panic")
		}

		var latency time.Duration
		switch {
		case c.latencyMax > c.latencyMin:
			latency = c.latencyMin + time.Duration(c.rng.Int63n(int64(c.latencyMax-c.latencyMin)))
		case c.latencyMin > 0:
			latency = c.latencyMin
		}
		injectFailure := c.rng.Float64() < c.failureRate
		c.mu.Unlock()

		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-rc.Context().Done():
				var zero T
				return zero, rc.Context().Err()
			}
		}

		if injectFailure {
			atomic.AddInt64(&c.failedCalls, 1)
			var zero T
			return zero, errors.New("chaos operation induced failure")
		}

		return c.wrapped(rc)
	}
}

// Stats returns a snapshot of this ChaosOperation's fault injection counts.
func (c *ChaosOperation[T]) Stats() ChaosStats {
	return ChaosStats{
		TotalCalls:  atomic.LoadInt64(&c.totalCalls),
		FailedCalls: atomic.LoadInt64(&c.failedCalls),
		PanicCalls:  atomic.LoadInt64(&c.panicCalls),
	}
}
