package failz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTimeout(t *testing.T) {
	t.Run("completes within duration", func(t *testing.T) {
		timeout := NewTimeout[int]("t", TimeoutOptions{Duration: 50 * time.Millisecond})
		defer timeout.Close()

		outcome := timeout.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
			return 7, nil
		})
		if !outcome.IsSuccess() || outcome.Value() != 7 {
			t.Fatalf("expected success(7), got %+v", outcome)
		}
	})

	t.Run("times out slow callback", func(t *testing.T) {
		timeout := NewTimeout[int]("t", TimeoutOptions{Duration: 10 * time.Millisecond})
		defer timeout.Close()

		outcome := timeout.Execute(NewContext(context.Background(), ""), func(rc *Context) (int, error) {
			select {
			case <-time.After(time.Second):
				return 1, nil
			case <-rc.Context().Done():
				return 0, rc.Context().Err()
			}
		})

		if outcome.IsSuccess() {
			t.Fatal("expected timeout failure")
		}
		if !IsTimeoutRejected(outcome.Err()) {
			t.Errorf("expected TimeoutRejectedError, got %v", outcome.Err())
		}
	})

	t.Run("propagates downstream error unchanged", func(t *testing.T) {
		timeout := NewTimeout[int]("t", TimeoutOptions{Duration: time.Second})
		defer timeout.Close()

		sentinel := errors.New("boom")
		outcome := timeout.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
			return 0, sentinel
		})
		if outcome.IsSuccess() || !errors.Is(outcome.Err(), sentinel) {
			t.Fatalf("expected wrapped sentinel error, got %v", outcome.Err())
		}
	})

	t.Run("DurationGenerator overrides fixed Duration", func(t *testing.T) {
		timeout := NewTimeout[int]("t", TimeoutOptions{
			Duration: time.Hour,
			DurationGenerator: func(_ *Context) time.Duration {
				return 10 * time.Millisecond
			},
		})
		defer timeout.Close()

		outcome := timeout.Execute(NewContext(context.Background(), ""), func(rc *Context) (int, error) {
			<-rc.Context().Done()
			return 0, rc.Context().Err()
		})
		if outcome.IsSuccess() {
			t.Fatal("expected DurationGenerator's short deadline to trigger")
		}
	})

	t.Run("a panicking callback surfaces as a failure instead of crashing", func(t *testing.T) {
		timeout := NewTimeout[int]("t", TimeoutOptions{Duration: time.Second})
		defer timeout.Close()

		outcome := timeout.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
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

	t.Run("zero duration delegates directly without starting a timer", func(t *testing.T) {
		timeout := NewTimeout[int]("t", TimeoutOptions{})
		defer timeout.Close()

		rc := NewContext(context.Background(), "")
		outcome := timeout.Execute(rc, func(inner *Context) (int, error) {
			if inner != rc {
				t.Error("expected the callback to run against the caller's own Context, not a derived deadline Context")
			}
			return 9, nil
		})
		if !outcome.IsSuccess() || outcome.Value() != 9 {
			t.Fatalf("expected success(9), got %+v", outcome)
		}
	})

	t.Run("negative duration also delegates directly", func(t *testing.T) {
		timeout := NewTimeout[int]("t", TimeoutOptions{Duration: -time.Second})
		defer timeout.Close()

		outcome := timeout.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
			return 1, nil
		})
		if !outcome.IsSuccess() {
			t.Fatalf("expected success, got %+v", outcome)
		}
	})

	t.Run("OnNearTimeout fires above 80 percent usage", func(t *testing.T) {
		timeout := NewTimeout[int]("t", TimeoutOptions{Duration: 30 * time.Millisecond})
		defer timeout.Close()

		var mu sync.Mutex
		fired := false
		if err := timeout.OnNearTimeout(func(_ context.Context, e TimeoutEvent) error {
			mu.Lock()
			fired = true
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("OnNearTimeout: %v", err)
		}

		timeout.Execute(NewContext(context.Background(), ""), func(_ *Context) (int, error) {
			time.Sleep(26 * time.Millisecond)
			return 1, nil
		})

		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		if !fired {
			t.Error("expected near-timeout hook to fire")
		}
	})
}
