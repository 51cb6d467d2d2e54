package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Base: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoFallbackRunsAfterExhaustion(t *testing.T) {
	fallbackRan := false
	errOp := errors.New("still locked")
	err := Do(context.Background(), Policy{
		Attempts: 2,
		Base:     time.Millisecond,
		Fallback: func(last error) error {
			fallbackRan = true
			if !errors.Is(last, errOp) {
				t.Fatalf("fallback got %v, want %v", last, errOp)
			}
			return nil
		},
	}, func() error { return errOp })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !fallbackRan {
		t.Fatal("fallback did not run")
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{Attempts: 5, Base: time.Second}, func() error { return errors.New("nope") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
