package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces work using the token bucket algorithm.
//
// It wraps golang.org/x/time/rate and is used in two shapes:
//   - New(rps, burst): a classic request limiter
//   - Every(interval): a pacer handing out one token per interval, used by the
//     registry enumerator to spread announcements over time
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// New creates a RateLimiter with the specified rate and burst capacity.
//
// requestsPerSecond = 0 disables limiting.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}

	return &RateLimiter{
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
		interval: time.Second / time.Duration(requestsPerSecond),
	}
}

// Every creates a pacer that releases one token per interval with a burst of one,
// so the first Wait returns immediately and each following Wait is spaced by
// interval. A non-positive interval disables pacing.
func Every(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}

	return &RateLimiter{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Allow reports whether a token is available now, consuming it if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Interval returns the spacing between tokens, or 0 when unlimited.
func (r *RateLimiter) Interval() time.Duration {
	return r.interval
}

// Unlimited reports whether the limiter never blocks.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}

// Tokens returns the current number of available tokens (monitoring/tests).
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
