package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrMaxAttemptsExhausted wraps the last error once every attempt failed.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retry calls fn up to maxAttempts times, sleeping between attempts according
// to policy. It stops early when fn succeeds, returns a Permanent error, or
// ctx is cancelled.
//
// The returned error wraps both ErrMaxAttemptsExhausted and the last error
// from fn when every attempt failed.
func Retry(ctx context.Context, policy Policy, maxAttempts int, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt < maxAttempts {
			if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
				return errors.Join(err, lastErr)
			}
		}
	}
	return errors.Join(ErrMaxAttemptsExhausted, lastErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
