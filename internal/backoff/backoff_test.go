package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTemporary = errors.New("temporary error")

func fastPolicy() Policy {
	return Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}

	tests := []struct {
		attempt int
		r       float64
		want    time.Duration
	}{
		{attempt: 0, r: 0, want: 100 * time.Millisecond},
		{attempt: 1, r: 0, want: 100 * time.Millisecond},
		{attempt: 2, r: 0, want: 200 * time.Millisecond},
		{attempt: 3, r: 0, want: 400 * time.Millisecond},
		{attempt: 2, r: 1, want: 300 * time.Millisecond},
		{attempt: 5, r: 0, want: time.Second},
	}
	for _, tt := range tests {
		if got := p.delay(tt.attempt, tt.r); got != tt.want {
			t.Errorf("delay(%d, %v) = %v, want %v", tt.attempt, tt.r, got, tt.want)
		}
	}
}

func TestPolicyDelayWithinBounds(t *testing.T) {
	p := DefaultPolicy()
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		if d <= 0 || d > p.Max {
			t.Fatalf("Delay(%d) = %v, outside (0, %v]", attempt, d, p.Max)
		}
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(), 5, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errTemporary
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(), 3, func(int) error {
		calls++
		return errTemporary
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) || !errors.Is(err, errTemporary) {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(), 5, func(int) error {
		calls++
		return Permanent(errTemporary)
	})
	if !errors.Is(err, errTemporary) || errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, Policy{Initial: time.Hour, Factor: 1}, 3, func(int) error {
		calls++
		cancel()
		return errTemporary
	})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, errTemporary) {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep on cancelled ctx = %v", err)
	}
}
