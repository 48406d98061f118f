package failz

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// tokenBucket holds one key's available tokens and refill bookkeeping.
type tokenBucket struct {
	available  int
	lastRefill time.Time
}

// tokenBucketCore implements limiterCore with a discrete segmented token
// bucket: Window is divided into SegmentsPerWindow equal segments, and
// each whole segment that has elapsed since lastRefill adds
// capacity/SegmentsPerWindow tokens back, up to capacity. Partial segments
// never contribute a fractional token — refill only advances by whole
// segments, and lastRefill only moves forward by that many whole segment
// lengths, so a caller straddling a segment boundary sees the same
// floor-discretized refill on every access.
type tokenBucketCore struct {
	mu                sync.Mutex
	buckets           map[string]*tokenBucket
	capacity          int
	window            time.Duration
	segmentsPerWindow int
	clock             clockz.Clock
}

func newTokenBucketCore(capacity int, window time.Duration, segmentsPerWindow int, clock clockz.Clock) *tokenBucketCore {
	if segmentsPerWindow <= 0 {
		segmentsPerWindow = 1
	}
	return &tokenBucketCore{
		buckets:           make(map[string]*tokenBucket),
		capacity:          capacity,
		window:            window,
		segmentsPerWindow: segmentsPerWindow,
		clock:             clock,
	}
}

func (tb *tokenBucketCore) bucket(key string) *tokenBucket {
	b, ok := tb.buckets[key]
	if !ok {
		b = &tokenBucket{available: tb.capacity, lastRefill: tb.clock.Now()}
		tb.buckets[key] = b
	}
	return b
}

// segmentDuration is the quantum a single refill step advances by.
func (tb *tokenBucketCore) segmentDuration() time.Duration {
	return tb.window / time.Duration(tb.segmentsPerWindow)
}

// refill adds capacity/SegmentsPerWindow tokens for every whole segment
// elapsed since lastRefill, advancing lastRefill by exactly that many
// whole segments. Caller must hold tb.mu.
func (tb *tokenBucketCore) refill(b *tokenBucket) {
	segment := tb.segmentDuration()
	if segment <= 0 {
		return
	}
	elapsedSegments := int(tb.clock.Now().Sub(b.lastRefill) / segment)
	if elapsedSegments <= 0 {
		return
	}
	perSegment := tb.capacity / tb.segmentsPerWindow
	b.available += elapsedSegments * perSegment
	if b.available > tb.capacity {
		b.available = tb.capacity
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(elapsedSegments) * segment)
}

func (tb *tokenBucketCore) try(key string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	b := tb.bucket(key)
	tb.refill(b)
	if b.available > 0 {
		b.available--
		return true
	}
	return false
}

// waitTime returns how long until key's bucket next advances by one
// segment. Caller must hold tb.mu and have just called tb.refill(b).
func (tb *tokenBucketCore) waitTime(b *tokenBucket) time.Duration {
	segment := tb.segmentDuration()
	if segment <= 0 {
		return time.Hour
	}
	return segment - tb.clock.Now().Sub(b.lastRefill)
}

func (tb *tokenBucketCore) wait(ctx context.Context, key string) error {
	for {
		if tb.try(key) {
			return nil
		}

		tb.mu.Lock()
		b := tb.bucket(key)
		delay := tb.waitTime(b)
		tb.mu.Unlock()

		if delay <= 0 {
			delay = time.Millisecond
		}

		select {
		case <-tb.clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (tb *tokenBucketCore) release(string) {}
