package util

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times, sleeping backoff between calls.
// retryable decides whether an error is worth another attempt; nil retries
// every error. The last error is returned unchanged.
func Retry(ctx context.Context, attempts int, backoff time.Duration, retryable func(error) bool, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts || (retryable != nil && !retryable(err)) {
			return err
		}
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return err
}
