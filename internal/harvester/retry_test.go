package harvester

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetryEventuallySucceeds(t *testing.T) {
	h := New(nil, nil, nil, nil).WithRetryPolicy(3, time.Millisecond)

	attempts := 0
	err := h.withRetry(context.Background(), "test", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	h := New(nil, nil, nil, nil).WithRetryPolicy(2, time.Millisecond)

	attempts := 0
	wantErr := errors.New("rpc down")
	err := h.withRetry(context.Background(), "test", func(context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
}

func TestWithRetryZeroRetriesMeansSingleAttempt(t *testing.T) {
	h := New(nil, nil, nil, nil).WithRetryPolicy(0, time.Millisecond)

	attempts := 0
	err := h.withRetry(context.Background(), "test", func(context.Context) error {
		attempts++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestWithRetryStopsOnContextCancel(t *testing.T) {
	h := New(nil, nil, nil, nil).WithRetryPolicy(5, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := h.withRetry(ctx, "test", func(context.Context) error {
		attempts++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected no retries after cancel, got %d attempts", attempts)
	}
}
