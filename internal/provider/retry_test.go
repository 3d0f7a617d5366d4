package provider

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_RetriesTransientOnce(t *testing.T) {
	var calls atomic.Int32
	err := RetryWithBackoff(context.Background(), fastRetry(2), func() error {
		if calls.Add(1) == 1 {
			return fmt.Errorf("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on second attempt, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(2), func() error {
		calls++
		return fmt.Errorf("timeout")
	})
	if err == nil || err.Error() != "timeout" {
		t.Fatalf("expected last error 'timeout', got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_NonTransientFailsImmediately(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(3), func() error {
		calls++
		return fmt.Errorf("decode search response: invalid character")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoff_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	calls := 0
	err := RetryWithBackoff(ctx, cfg, func() error {
		calls++
		cancel()
		return fmt.Errorf("connection reset")
	})
	if !errors.Is(err, context.Canceled) && err.Error() != "connection reset" {
		t.Fatalf("unexpected error %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{&StatusError{Provider: "p", Code: 503}, true},
		{&StatusError{Provider: "p", Code: 429}, true},
		{&StatusError{Provider: "p", Code: 404}, false},
		{fmt.Errorf("wrapped: %w", &StatusError{Provider: "p", Code: 502}), true},
		{errors.New("connection refused"), true},
		{errors.New("bad request"), false},
	}
	for _, tc := range tests {
		if got := isTransientError(tc.err); got != tc.want {
			t.Fatalf("isTransientError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRetryWithBackoff_GivesUpOnLongRetryAfter(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(3), func() error {
		calls++
		return &StatusError{Provider: "anilist", Code: 429, RetryAfter: time.Minute}
	})
	var status *StatusError
	if !errors.As(err, &status) || status.Code != 429 {
		t.Fatalf("expected the 429 status error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("a retry-after beyond the max delay must stop retries, got %d calls", calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)
	tests := map[string]time.Duration{
		"":                              0,
		"7":                             7 * time.Second,
		"-3":                            0,
		"soon":                          0,
		"Wed, 14 Oct 2026 12:00:30 GMT": 30 * time.Second,
		"Wed, 14 Oct 2026 11:00:00 GMT": 0,
	}
	for raw, want := range tests {
		if got := ParseRetryAfter(raw, now); got != want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", raw, got, want)
		}
	}
}
