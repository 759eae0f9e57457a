package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFuture_ResolveOnce(t *testing.T) {
	f := NewFuture[int]()
	if !f.Resolve(1, nil) {
		t.Fatal("first Resolve() = false")
	}
	if f.Resolve(2, errors.New("late")) {
		t.Error("second Resolve() = true, want false")
	}
	v, err := f.Result()
	if f.Pending() || v != 1 || err != nil {
		t.Errorf("Result() = %d, %v, pending %v; want 1, nil, false", v, err, f.Pending())
	}
}

func TestFuture_ThenBeforeAndAfter(t *testing.T) {
	f := NewFuture[string]()
	var calls []string
	f.Then(func(v string, _ error) { calls = append(calls, "before:"+v) })
	f.Resolve("x", nil)
	f.Then(func(v string, _ error) { calls = append(calls, "after:"+v) })

	if len(calls) != 2 || calls[0] != "before:x" || calls[1] != "after:x" {
		t.Errorf("calls = %v", calls)
	}
}

func TestFuture_Wait(t *testing.T) {
	f := NewFuture[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Resolve(7, nil)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	if err != nil || v != 7 {
		t.Errorf("Wait() = %d, %v; want 7, nil", v, err)
	}
}

func TestFuture_WaitCancelled(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() err = %v, want context.Canceled", err)
	}
}

func TestResolved(t *testing.T) {
	f := Resolved(3, nil)
	select {
	case <-f.Done():
	default:
		t.Fatal("Resolved future not done")
	}
}
