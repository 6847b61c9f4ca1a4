package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func serverErr() error {
	return &GalleryError{StatusCode: 503, ErrorClass: ErrorClassServer, Message: "unavailable"}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 10*time.Second {
		t.Errorf("MaxBackoff = %v, want 10s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfig_WithDefaults(t *testing.T) {
	tests := []struct {
		name   string
		config RetryConfig
		want   RetryConfig
	}{
		{
			name:   "zero value uses defaults",
			config: RetryConfig{},
			want:   DefaultRetryConfig(),
		},
		{
			name:   "explicit values kept",
			config: fastRetry,
			want:   fastRetry,
		},
		{
			name:   "max backoff raised to initial",
			config: RetryConfig{MaxAttempts: 2, InitialBackoff: time.Second, MaxBackoff: time.Millisecond, BackoffMultiplier: 3},
			want:   RetryConfig{MaxAttempts: 2, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffMultiplier: 3},
		},
		{
			name:   "shrinking multiplier replaced",
			config: RetryConfig{MaxAttempts: 1, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 0.5},
			want:   RetryConfig{MaxAttempts: 1, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 2.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.withDefaults(); got != tt.want {
				t.Errorf("withDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), fastRetry, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	// Function fails twice, then succeeds
	callCount := 0
	err := retryWithBackoff(context.Background(), fastRetry, func() error {
		callCount++
		if callCount < 3 {
			return serverErr()
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_MaxAttemptsExhausted(t *testing.T) {
	callCount := 0
	testErr := serverErr()
	err := retryWithBackoff(context.Background(), fastRetry, func() error {
		callCount++
		return testErr
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected last error in chain, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls (MaxAttempts), got %d", callCount)
	}
}

func TestRetryWithBackoff_NoRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "client error", err: &GalleryError{StatusCode: 404, ErrorClass: ErrorClassClient}},
		{name: "response error", err: &GalleryError{StatusCode: 200, ErrorClass: ErrorClassResponse}},
		{name: "unclassified error", err: errors.New("plain error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callCount := 0
			err := retryWithBackoff(context.Background(), fastRetry, func() error {
				callCount++
				return tt.err
			})

			if callCount != 1 {
				t.Errorf("Expected 1 call, got %d", callCount)
			}
			// The original error comes back unwrapped
			if err != tt.err {
				t.Errorf("Expected original error, got %v", err)
			}
		})
	}
}

func TestRetryWithBackoff_ContextCancelledAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	testErr := serverErr()
	err := retryWithBackoff(ctx, fastRetry, func() error {
		callCount++
		cancel()
		return testErr
	})

	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
	if err != testErr {
		t.Errorf("Expected the attempt's error, got %v", err)
	}
}

func TestRetryWithBackoff_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	slow := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffMultiplier: 2}

	callCount := 0
	start := time.Now()
	err := retryWithBackoff(ctx, slow, func() error {
		callCount++
		return serverErr()
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded in chain, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Backoff not interrupted, took %v", elapsed)
	}
}

func TestRetryWithBackoff_ExponentialBackoff(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    20 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 3.0,
	}

	timestamps := []time.Time{}
	_ = retryWithBackoff(context.Background(), config, func() error {
		timestamps = append(timestamps, time.Now())
		return serverErr()
	})

	if len(timestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(timestamps))
	}

	// With jitter (±20%): first in [16ms, 24ms], second in [48ms, 72ms]
	firstDelay := timestamps[1].Sub(timestamps[0])
	secondDelay := timestamps[2].Sub(timestamps[1])

	if firstDelay < 15*time.Millisecond {
		t.Errorf("First retry delay %v shorter than expected", firstDelay)
	}
	if secondDelay < 45*time.Millisecond {
		t.Errorf("Second retry delay %v shorter than expected", secondDelay)
	}
}

func TestRetryWithBackoff_HonorsRetryAfter(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		name       string
		retryAfter time.Duration
		minDelay   time.Duration
		maxDelay   time.Duration
	}{
		{name: "retry after within cap", retryAfter: 50 * time.Millisecond, minDelay: 45 * time.Millisecond, maxDelay: 90 * time.Millisecond},
		{name: "retry after capped", retryAfter: time.Hour, minDelay: 95 * time.Millisecond, maxDelay: 900 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timestamps := []time.Time{}
			_ = retryWithBackoff(context.Background(), config, func() error {
				timestamps = append(timestamps, time.Now())
				return &GalleryError{StatusCode: 429, ErrorClass: ErrorClassRateLimit, RetryAfter: tt.retryAfter}
			})

			if len(timestamps) != 2 {
				t.Fatalf("Expected 2 timestamps, got %d", len(timestamps))
			}
			delay := timestamps[1].Sub(timestamps[0])
			if delay < tt.minDelay || delay > tt.maxDelay {
				t.Errorf("retry delay %v outside [%v, %v]", delay, tt.minDelay, tt.maxDelay)
			}
		})
	}
}
