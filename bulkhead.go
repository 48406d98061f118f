package failz

import (
	"context"
	"errors"
	"sync"
)

// errBulkheadQueueFull is returned by acquire when both the concurrency
// cap and the wait queue are saturated; the RateLimiter strategy maps it
// onto a synchronous RateLimiterRejectedError rather than treating it as
// a cancellation.
var errBulkheadQueueFull = errors.New("bulkhead: queue full")

// bulkheadCore implements the concurrency-limiter (bulkhead) admission
// algorithm: at most capacity simultaneous executions are admitted
// synchronously; once saturated, up to queueLimit additional callers wait
// in FIFO order for a slot to free up; beyond that, callers are rejected
// immediately. Keying is ignored — the bulkhead protects one shared
// downstream resource, not any one caller's request rate. Grounded on the
// worker-pool's semaphore channel pattern, generalized into an explicit
// FIFO wait queue with per-waiter cancellation.
type bulkheadCore struct {
	mu         sync.Mutex
	inFlight   int
	capacity   int
	queueLimit int
	waiters    []chan struct{}
}

func newBulkheadCore(capacity, queueLimit int) *bulkheadCore {
	if capacity <= 0 {
		capacity = 1
	}
	if queueLimit < 0 {
		queueLimit = 0
	}
	return &bulkheadCore{capacity: capacity, queueLimit: queueLimit}
}

// acquire implements the grant/enqueue-if-room/reject-if-full decision.
// A waiter that is still queued when ctx is cancelled removes itself from
// the queue before returning, so a cancelled wait never leaks a queue slot
// or stalls the bulkhead.
func (b *bulkheadCore) acquire(ctx context.Context, _ string) error {
	b.mu.Lock()
	if b.inFlight < b.capacity {
		b.inFlight++
		b.mu.Unlock()
		return nil
	}
	if len(b.waiters) >= b.queueLimit {
		b.mu.Unlock()
		return errBulkheadQueueFull
	}
	ch := make(chan struct{})
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		for i, w := range b.waiters {
			if w == ch {
				b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		return ctx.Err()
	}
}

// try implements limiterCore's non-blocking entry point: grant
// synchronously if capacity is free, else reject without queueing.
func (b *bulkheadCore) try(string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight < b.capacity {
		b.inFlight++
		return true
	}
	return false
}

// wait implements limiterCore's blocking entry point as the full
// grant/enqueue/reject-if-full algorithm described on acquire.
func (b *bulkheadCore) wait(ctx context.Context, key string) error {
	return b.acquire(ctx, key)
}

// release frees the caller's slot. If a waiter is queued, the slot
// transfers directly to the head of the queue (in_flight stays the same);
// otherwise in_flight is decremented.
func (b *bulkheadCore) release(string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.waiters) > 0 {
		ch := b.waiters[0]
		b.waiters = b.waiters[1:]
		close(ch)
		return
	}
	if b.inFlight > 0 {
		b.inFlight--
	}
}
