package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{Attempts: 3, Interval: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("not yet"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), Config{Attempts: 5, Interval: time.Millisecond}, func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("got %v, want fatal error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	inner := errors.New("still failing")
	calls := 0
	err := Do(context.Background(), Config{Attempts: 3, Interval: time.Millisecond}, func() error {
		calls++
		return Retryable(inner)
	})
	if !errors.Is(err, inner) {
		t.Fatalf("got %v, want wrapped inner error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Config{Attempts: 3, Interval: time.Minute}, func() error {
		return Retryable(errors.New("x"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), Config{Attempts: 2, Interval: time.Millisecond}, func() (string, error) {
		calls++
		if calls == 1 {
			return "", Retryable(errors.New("transient"))
		}
		return "value", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "value" {
		t.Errorf("got %q, want value", got)
	}
}
