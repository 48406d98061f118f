package failz

import (
	"errors"
	"testing"
)

func callAndRecover[T any](name Name, fn func()) (result Outcome[T]) {
	defer recoverFromPanic(&result, name)
	fn()
	return Succeed(*new(T))
}

func TestRecoverFromPanicWithError(t *testing.T) {
	sentinel := errors.New("boom")
	outcome := callAndRecover[int]("op", func() { panic(sentinel) })
	if outcome.IsSuccess() {
		t.Fatal("expected a Failure outcome after a panic")
	}
	var panicErr *PanicError
	if !errors.As(outcome.Err(), &panicErr) {
		t.Fatalf("expected a *PanicError, got %v", outcome.Err())
	}
	if panicErr.Name != "op" {
		t.Errorf("expected Name %q, got %q", "op", panicErr.Name)
	}
	if panicErr.Message != sentinel.Error() {
		t.Errorf("expected Message %q, got %q", sentinel.Error(), panicErr.Message)
	}
	if panicErr.Stack == "" {
		t.Error("expected a non-empty stack trace")
	}
}

func TestRecoverFromPanicWithString(t *testing.T) {
	outcome := callAndRecover[int]("op", func() { panic("something broke") })
	var panicErr *PanicError
	if !errors.As(outcome.Err(), &panicErr) {
		t.Fatalf("expected a *PanicError, got %v", outcome.Err())
	}
	if panicErr.Message != "something broke" {
		t.Errorf("expected Message %q, got %q", "something broke", panicErr.Message)
	}
}

func TestRecoverFromPanicWithArbitraryValue(t *testing.T) {
	outcome := callAndRecover[int]("op", func() { panic(42) })
	var panicErr *PanicError
	if !errors.As(outcome.Err(), &panicErr) {
		t.Fatalf("expected a *PanicError, got %v", outcome.Err())
	}
	if panicErr.Message != "42" {
		t.Errorf("expected Message %q, got %q", "42", panicErr.Message)
	}
}

func TestRecoverFromPanicNoop(t *testing.T) {
	outcome := callAndRecover[int]("op", func() {})
	if !outcome.IsSuccess() {
		t.Fatal("expected no panic to leave the outcome untouched")
	}
}

func TestPanicErrorMessage(t *testing.T) {
	pe := &PanicError{Name: "retry", Message: "boom"}
	if pe.Error() != "retry: panic: boom" {
		t.Errorf("unexpected Error() string: %q", pe.Error())
	}
}
