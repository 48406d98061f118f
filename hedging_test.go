package failz

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestHedging(t *testing.T) {
	t.Run("returns primary result when it beats the delay", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		hg := NewHedging[int]("hg", HedgingOptions[int]{MaxHedgedAttempts: 2, Delay: time.Second, Clock: clock})
		defer hg.Close()

		var calls int32
		outcome := hg.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 7, nil
		})
		if !outcome.IsSuccess() || outcome.Value() != 7 {
			t.Fatalf("expected success(7), got %+v", outcome)
		}
		if atomic.LoadInt32(&calls) != 1 {
			t.Fatalf("expected exactly 1 call, got %d", calls)
		}
	})

	t.Run("launches a hedge after delay and returns whichever wins", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		release := make(chan struct{})
		var primaryCalls, hedgeCalls int32

		hg := NewHedging[int]("hg", HedgingOptions[int]{
			MaxHedgedAttempts: 1,
			Delay:             10 * time.Millisecond,
			Clock:             clock,
			ActionGenerator: func(attempt int) Callback[int] {
				if attempt == 0 {
					return func(_ *Context) (int, error) {
						atomic.AddInt32(&primaryCalls, 1)
						<-release
						return 1, nil
					}
				}
				return func(_ *Context) (int, error) {
					atomic.AddInt32(&hedgeCalls, 1)
					return 2, nil
				}
			},
		})
		defer hg.Close()

		done := make(chan Outcome[int], 1)
		rc := NewContext(context.Background(), "")
		go func() { done <- hg.Execute(rc, func(_ *Context) (int, error) { return 1, nil }) }()

		time.Sleep(5 * time.Millisecond)
		clock.Advance(20 * time.Millisecond)
		clock.BlockUntilReady()

		select {
		case outcome := <-done:
			if !outcome.IsSuccess() || outcome.Value() != 2 {
				t.Fatalf("expected the hedge's success(2) to win, got %+v", outcome)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("hedging never returned")
		}
		close(release)
	})

	t.Run("ShouldHandle lets an unsatisfactory success keep hedging", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		hg := NewHedging[int]("hg", HedgingOptions[int]{
			MaxHedgedAttempts: 1,
			Delay:             10 * time.Millisecond,
			Clock:             clock,
			ShouldHandle:      func(o Outcome[int]) bool { return o.IsSuccess() && o.Value() == 1 },
			ActionGenerator: func(attempt int) Callback[int] {
				if attempt == 0 {
					return func(_ *Context) (int, error) { return 1, nil }
				}
				return func(_ *Context) (int, error) { return 2, nil }
			},
		})
		defer hg.Close()

		done := make(chan Outcome[int], 1)
		rc := NewContext(context.Background(), "")
		go func() { done <- hg.Execute(rc, func(_ *Context) (int, error) { return 1, nil }) }()

		time.Sleep(5 * time.Millisecond)
		clock.Advance(20 * time.Millisecond)
		clock.BlockUntilReady()

		select {
		case outcome := <-done:
			if !outcome.IsSuccess() || outcome.Value() != 2 {
				t.Fatalf("expected the hedge's success(2) to be the accepted winner, got %+v", outcome)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("hedging never returned")
		}
	})

	t.Run("returns the last bad outcome once every attempt is exhausted", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		errA := errors.New("attempt 0 failed")
		errB := errors.New("attempt 1 failed")

		hg := NewHedging[int]("hg", HedgingOptions[int]{
			MaxHedgedAttempts: 1,
			Delay:             10 * time.Millisecond,
			Clock:             clock,
			ActionGenerator: func(attempt int) Callback[int] {
				if attempt == 0 {
					return func(_ *Context) (int, error) {
						time.Sleep(30 * time.Millisecond)
						return 0, errA
					}
				}
				return func(_ *Context) (int, error) { return 0, errB }
			},
		})
		defer hg.Close()

		done := make(chan Outcome[int], 1)
		rc := NewContext(context.Background(), "")
		go func() { done <- hg.Execute(rc, func(_ *Context) (int, error) { return 0, errA }) }()

		time.Sleep(5 * time.Millisecond)
		clock.Advance(20 * time.Millisecond)
		clock.BlockUntilReady()

		select {
		case outcome := <-done:
			if outcome.IsSuccess() {
				t.Fatal("expected failure once every attempt is bad")
			}
			if !errors.Is(outcome.Err(), errA) {
				t.Errorf("expected the last-to-complete attempt's error, got %v", outcome.Err())
			}
		case <-time.After(2 * time.Second):
			t.Fatal("hedging never returned")
		}
	})

	t.Run("a panicking attempt surfaces as a failure instead of crashing", func(t *testing.T) {
		hg := NewHedging[int]("hg", HedgingOptions[int]{MaxHedgedAttempts: 0})
		defer hg.Close()

		outcome := hg.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
			panic("boom")
		})
		if outcome.IsSuccess() {
			t.Fatal("expected the recovered panic to surface as a failure")
		}
		var panicErr *PanicError
		if !errors.As(outcome.Err(), &panicErr) {
			t.Errorf("expected a *PanicError, got %v", outcome.Err())
		}
	})

	t.Run("cancelling the parent context stops hedging", func(t *testing.T) {
		hg := NewHedging[int]("hg", HedgingOptions[int]{MaxHedgedAttempts: 1, Delay: time.Hour})
		defer hg.Close()

		rc := NewContext(context.Background(), "")
		release := make(chan struct{})
		done := make(chan Outcome[int], 1)
		go func() {
			done <- hg.Execute(rc, func(_ *Context) (int, error) {
				<-release
				return 1, nil
			})
		}()

		time.Sleep(10 * time.Millisecond)
		rc.Cancel()

		select {
		case outcome := <-done:
			if outcome.IsSuccess() {
				t.Fatal("expected cancellation to end hedging without a winner")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("hedging never returned after cancellation")
		}
		close(release)
	})
}
