package failz

import (
	"errors"
	"testing"
)

func TestOutcomeSuccess(t *testing.T) {
	o := Succeed(5)
	if !o.IsSuccess() || o.IsFailure() {
		t.Fatal("expected a Success outcome")
	}
	if o.Value() != 5 {
		t.Errorf("expected Value() == 5, got %d", o.Value())
	}
	if v, ok := o.TryValue(); !ok || v != 5 {
		t.Errorf("expected TryValue() == (5, true), got (%d, %v)", v, ok)
	}
	if err, ok := o.TryErr(); err != nil || ok {
		t.Errorf("expected TryErr() == (nil, false) on Success, got (%v, %v)", err, ok)
	}
	if got := o.ValueOr(99); got != 5 {
		t.Errorf("expected ValueOr to return the success value, got %d", got)
	}
	v, err := o.Unwrap()
	if v != 5 || err != nil {
		t.Errorf("expected Unwrap() == (5, nil), got (%d, %v)", v, err)
	}
}

func TestOutcomeFailure(t *testing.T) {
	sentinel := errors.New("boom")
	o := Fail[int](sentinel)
	if o.IsSuccess() || !o.IsFailure() {
		t.Fatal("expected a Failure outcome")
	}
	if !errors.Is(o.Err(), sentinel) {
		t.Errorf("expected Err() == sentinel, got %v", o.Err())
	}
	if v, ok := o.TryValue(); ok || v != 0 {
		t.Errorf("expected TryValue() == (0, false), got (%d, %v)", v, ok)
	}
	if err, ok := o.TryErr(); !ok || !errors.Is(err, sentinel) {
		t.Errorf("expected TryErr() == (sentinel, true), got (%v, %v)", err, ok)
	}
	if got := o.ValueOr(99); got != 99 {
		t.Errorf("expected ValueOr to return the fallback, got %d", got)
	}
	v, err := o.Unwrap()
	if v != 0 || !errors.Is(err, sentinel) {
		t.Errorf("expected Unwrap() == (0, sentinel), got (%d, %v)", v, err)
	}
}

func TestOutcomeValuePanicsOnFailure(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Value() to panic on a Failure outcome")
		}
	}()
	Fail[int](errors.New("boom")).Value()
}

func TestOutcomeErrPanicsOnSuccess(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Err() to panic on a Success outcome")
		}
	}()
	Succeed(1).Err()
}

func TestFailPanicsOnNilError(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Fail(nil) to panic")
		}
	}()
	Fail[int](nil)
}
