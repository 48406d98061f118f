package failz

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestRateLimiterTokenBucket(t *testing.T) {
	t.Run("allows burst then throttles until the window refills", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		rl := NewRateLimiter[int]("rl", RateLimiterOptions{
			Variant: VariantTokenBucket, Mode: ModeDrop,
			Burst: 2, Window: time.Second, SegmentsPerWindow: 1, Clock: clock,
		})
		defer rl.Close()

		run := func() Outcome[int] {
			return rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) { return 1, nil })
		}

		if !run().IsSuccess() || !run().IsSuccess() {
			t.Fatal("expected first two calls (within burst) to succeed")
		}
		outcome := run()
		if outcome.IsSuccess() {
			t.Fatal("expected third call to be rejected once burst is exhausted")
		}
		if !IsRateLimiterRejected(outcome.Err()) {
			t.Errorf("expected RateLimiterRejectedError, got %v", outcome.Err())
		}

		clock.Advance(time.Second + time.Millisecond)
		if !run().IsSuccess() {
			t.Fatal("expected tokens to refill once a full window elapses")
		}
	})

	t.Run("refill only advances on whole elapsed segments", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		rl := NewRateLimiter[int]("rl", RateLimiterOptions{
			Variant: VariantTokenBucket, Mode: ModeDrop,
			Burst: 4, Window: time.Second, SegmentsPerWindow: 4, Clock: clock,
		})
		defer rl.Close()

		run := func() Outcome[int] {
			return rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) { return 1, nil })
		}

		for i := 0; i < 4; i++ {
			if !run().IsSuccess() {
				t.Fatalf("call %d: expected initial capacity to admit", i)
			}
		}
		if run().IsSuccess() {
			t.Fatal("expected the bucket to be empty")
		}

		clock.Advance(200 * time.Millisecond) // less than one 250ms segment
		if run().IsSuccess() {
			t.Fatal("expected no refill before a full segment elapses")
		}

		clock.Advance(100 * time.Millisecond) // 300ms total: one whole segment elapsed
		if !run().IsSuccess() {
			t.Fatal("expected one segment's worth of tokens once a full segment elapses")
		}
	})
}

func TestRateLimiterFixedWindow(t *testing.T) {
	clock := clockz.NewFakeClock()
	rl := NewRateLimiter[int]("rl", RateLimiterOptions{
		Variant: VariantFixedWindow, Mode: ModeDrop, Burst: 2, WindowSize: time.Second, Clock: clock,
	})
	defer rl.Close()

	run := func() Outcome[int] {
		return rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) { return 1, nil })
	}

	if !run().IsSuccess() || !run().IsSuccess() {
		t.Fatal("expected 2 calls within window capacity to succeed")
	}
	if run().IsSuccess() {
		t.Fatal("expected 3rd call in the same window to be rejected")
	}

	clock.Advance(time.Second + time.Millisecond)
	if !run().IsSuccess() {
		t.Fatal("expected a call in the next window to succeed")
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	clock := clockz.NewFakeClock()
	rl := NewRateLimiter[int]("rl", RateLimiterOptions{
		Variant: VariantSlidingWindow, Mode: ModeDrop, Burst: 2, WindowSize: time.Second, Clock: clock,
	})
	defer rl.Close()

	run := func() Outcome[int] {
		return rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) { return 1, nil })
	}

	if !run().IsSuccess() || !run().IsSuccess() {
		t.Fatal("expected first 2 calls to succeed")
	}
	if run().IsSuccess() {
		t.Fatal("expected 3rd call to be rejected inside the trailing window")
	}

	clock.Advance(1100 * time.Millisecond)
	if !run().IsSuccess() {
		t.Fatal("expected a call to succeed once the earliest sample ages out")
	}
}

func TestRateLimiterConcurrency(t *testing.T) {
	t.Run("rejects synchronously once capacity is held and no queue room is configured", func(t *testing.T) {
		rl := NewRateLimiter[int]("rl", RateLimiterOptions{Variant: VariantConcurrency, MaxConcurrent: 1})
		defer rl.Close()

		release := make(chan struct{})
		started := make(chan struct{})
		go func() {
			rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
				close(started)
				<-release
				return 1, nil
			})
		}()
		<-started

		outcome := rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) { return 2, nil })
		if outcome.IsSuccess() {
			t.Fatal("expected rejection while the single slot is held")
		}
		if !IsRateLimiterRejected(outcome.Err()) {
			t.Errorf("expected RateLimiterRejectedError, got %v", outcome.Err())
		}
		close(release)
	})

	t.Run("queues up to QueueLimit callers in FIFO order and rejects beyond that", func(t *testing.T) {
		rl := NewRateLimiter[int]("rl", RateLimiterOptions{Variant: VariantConcurrency, MaxConcurrent: 2, QueueLimit: 1})
		defer rl.Close()

		release := make(chan struct{})
		started := make(chan struct{}, 2)
		for i := 0; i < 2; i++ {
			go func() {
				rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
					started <- struct{}{}
					<-release
					return 1, nil
				})
			}()
		}
		<-started
		<-started

		queuedStarted := make(chan struct{})
		queuedDone := make(chan Outcome[int], 1)
		go func() {
			queuedDone <- rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
				close(queuedStarted)
				return 3, nil
			})
		}()
		time.Sleep(10 * time.Millisecond) // give the waiter time to enqueue

		rejected := rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) { return 4, nil })
		if rejected.IsSuccess() {
			t.Fatal("expected the caller beyond permit_limit+queue_limit to be rejected synchronously")
		}
		if !IsRateLimiterRejected(rejected.Err()) {
			t.Errorf("expected RateLimiterRejectedError, got %v", rejected.Err())
		}

		select {
		case <-queuedStarted:
			t.Fatal("queued caller ran before a slot was released")
		default:
		}

		close(release)

		select {
		case outcome := <-queuedDone:
			if !outcome.IsSuccess() {
				t.Fatalf("expected the queued caller to eventually run, got %+v", outcome)
			}
		case <-time.After(time.Second):
			t.Fatal("queued caller never ran after a slot freed up")
		}
	})

	t.Run("a cancelled waiter removes itself from the queue instead of leaking a slot", func(t *testing.T) {
		rl := NewRateLimiter[int]("rl", RateLimiterOptions{Variant: VariantConcurrency, MaxConcurrent: 1, QueueLimit: 1})
		defer rl.Close()

		release := make(chan struct{})
		started := make(chan struct{})
		go func() {
			rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
				close(started)
				<-release
				return 1, nil
			})
		}()
		<-started

		rc := NewContext(context.Background(), "")
		waiterDone := make(chan Outcome[int], 1)
		go func() {
			waiterDone <- rl.Execute(rc, func(_ *Context) (int, error) { return 2, nil })
		}()
		time.Sleep(10 * time.Millisecond)
		rc.Cancel()

		select {
		case outcome := <-waiterDone:
			if outcome.IsSuccess() {
				t.Fatal("expected the cancelled waiter to fail")
			}
		case <-time.After(time.Second):
			t.Fatal("cancelled waiter never returned")
		}

		close(release)

		outcome := rl.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) { return 3, nil })
		if !outcome.IsSuccess() {
			t.Fatalf("expected a fresh caller to be admitted once the cancelled waiter cleared its queue slot, got %+v", outcome)
		}
	})
}

func TestRateLimiterWaitMode(t *testing.T) {
	clock := clockz.NewFakeClock()
	rl := NewRateLimiter[int]("rl", RateLimiterOptions{
		Variant: VariantTokenBucket, Mode: ModeWait,
		Burst: 1, Window: 100 * time.Millisecond, SegmentsPerWindow: 1, Clock: clock,
	})
	defer rl.Close()

	rc := NewContext(context.Background(), "")
	go func() {
		time.Sleep(5 * time.Millisecond)
		clock.Advance(200 * time.Millisecond)
	}()

	rl.Execute(rc, func(_ *Context) (int, error) { return 1, nil })
	done := make(chan Outcome[int], 1)
	go func() {
		done <- rl.Execute(rc, func(_ *Context) (int, error) { return 2, nil })
	}()

	select {
	case outcome := <-done:
		if !outcome.IsSuccess() {
			t.Fatalf("expected wait mode to eventually admit, got %+v", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait mode never admitted the second call")
	}
}

func TestRateLimiterWaitModeCancellation(t *testing.T) {
	rl := NewRateLimiter[int]("rl", RateLimiterOptions{
		Variant: VariantTokenBucket, Mode: ModeWait,
		Burst: 1, Window: time.Hour, SegmentsPerWindow: 1,
	})
	defer rl.Close()

	rc := NewContext(context.Background(), "")
	rl.Execute(rc, func(_ *Context) (int, error) { return 1, nil })

	go func() {
		time.Sleep(10 * time.Millisecond)
		rc.Cancel()
	}()

	outcome := rl.Execute(rc, func(_ *Context) (int, error) { return 2, nil })
	if outcome.IsSuccess() {
		t.Fatal("expected cancellation to end the wait")
	}
}
