package util

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, nil, func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	start := time.Now()
	calls := 0
	err := Retry(context.Background(), 2, 10*time.Millisecond, nil, func(int) error {
		calls++
		return errors.New("down")
	})
	if err == nil || err.Error() != "down" || calls != 2 {
		t.Fatalf("got err=%v calls=%d", err, calls)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("slept after the final attempt")
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	calls := 0
	transient := func(err error) bool { return strings.Contains(err.Error(), "refused") }
	err := Retry(context.Background(), 5, time.Millisecond, transient, func(int) error {
		calls++
		return errors.New("password authentication failed")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected a single attempt, got %d (err %v)", calls, err)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 5, time.Hour, nil, func(int) error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
