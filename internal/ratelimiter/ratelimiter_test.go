package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestNew verifies rate limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond uint
		burst             uint
		unlimited         bool
	}{
		{name: "standard rate", requestsPerSecond: 100, burst: 200},
		{name: "low rate", requestsPerSecond: 1, burst: 2},
		{name: "unlimited (zero rate)", requestsPerSecond: 0, burst: 0, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			if limiter == nil || limiter.limiter == nil {
				t.Fatal("New() returned an unusable limiter")
			}
			if limiter.Unlimited() != tt.unlimited {
				t.Errorf("Unlimited() = %v, want %v", limiter.Unlimited(), tt.unlimited)
			}
		})
	}
}

// TestAllow verifies that Allow() correctly enforces rate limits.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow() {
		t.Fatal("request should be rate-limited after burst exhausted")
	}

	time.Sleep(110 * time.Millisecond)

	if !limiter.Allow() {
		t.Fatal("request should be allowed after token replenishment")
	}
}

// TestEvery_SpacesTokens verifies that the pacer releases one token per interval.
func TestEvery_SpacesTokens(t *testing.T) {
	interval := 40 * time.Millisecond
	pacer := Every(interval)
	ctx := context.Background()

	if pacer.Interval() != interval {
		t.Fatalf("Interval() = %v, want %v", pacer.Interval(), interval)
	}

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := pacer.Wait(ctx); err != nil {
			t.Fatalf("Wait() failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	// First token is immediate, the remaining three are spaced by interval.
	if elapsed < 3*interval-10*time.Millisecond {
		t.Errorf("4 paced waits took %v, expected at least ~%v", elapsed, 3*interval)
	}
}

// TestEvery_ZeroIntervalIsUnlimited verifies that pacing can be disabled.
func TestEvery_ZeroIntervalIsUnlimited(t *testing.T) {
	pacer := Every(0)
	if !pacer.Unlimited() {
		t.Fatal("Every(0) should be unlimited")
	}

	start := time.Now()
	for i := 0; i < 1000; i++ {
		if err := pacer.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() failed: %v", err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("unlimited pacer should not block")
	}
}

// TestWait_ContextCancellation verifies that Wait() respects context cancellation.
func TestWait_ContextCancellation(t *testing.T) {
	pacer := Every(time.Hour)
	if err := pacer.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() should succeed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := pacer.Wait(ctx); err == nil {
		t.Fatal("Wait() should fail when the next token is beyond the deadline")
	}
}
