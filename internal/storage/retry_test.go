package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyBacksOffExponentially(t *testing.T) {
	var slept []time.Duration
	policy := retryPolicy{
		attempts: 4,
		base:     10 * time.Millisecond,
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	calls := 0
	err := policy.do(context.Background(), "save", func() error {
		calls++
		if calls < 3 {
			return newError(TierBatch, "save", "/tmp/x", ErrWrite, errors.New("disk hiccup"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(slept) != 2 || slept[0] != 10*time.Millisecond || slept[1] != 20*time.Millisecond {
		t.Fatalf("unexpected backoff %v", slept)
	}
}

func TestRetryPolicyStopsOnPermanentErrors(t *testing.T) {
	policy := retryPolicy{attempts: 5, sleep: func(context.Context, time.Duration) error { return nil }}
	calls := 0
	err := policy.do(context.Background(), "load", func() error {
		calls++
		return newError(TierEphemeral, "load", "/tmp/x", ErrNotFound, nil)
	})
	if !errors.Is(err, ErrNotFound) || calls != 1 {
		t.Fatalf("expected single attempt with ErrNotFound, got %d calls and %v", calls, err)
	}
}

func TestRetryPolicyGivesUpAfterAttempts(t *testing.T) {
	policy := retryPolicy{attempts: 3, sleep: func(context.Context, time.Duration) error { return nil }}
	calls := 0
	err := policy.do(context.Background(), "save", func() error {
		calls++
		return newError(TierBatch, "save", "", ErrWrite, errors.New("io"))
	})
	if !errors.Is(err, ErrWrite) || calls != 3 {
		t.Fatalf("expected 3 attempts ending in ErrWrite, got %d and %v", calls, err)
	}
}
