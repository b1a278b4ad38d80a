package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Logger: NewLoggerAt(LevelError)}

	calls := 0
	err := r.Do(context.Background(), "flaky op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v; want nil", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times; want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, Logger: NewLoggerAt(LevelError)}

	err := r.Do(context.Background(), "doomed op", func() error {
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("Do() = nil; want error after exhausting attempts")
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour, Logger: NewLoggerAt(LevelError)}
	calls := 0
	err := r.Do(ctx, "cancelled op", func() error {
		calls++
		return errors.New("fail")
	})
	if err != context.Canceled {
		t.Errorf("Do() = %v; want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("fn called %d times after cancellation; want 0", calls)
	}
}
