// Package ratelimiter throttles requests to remote backends.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter provides request rate limiting using the token bucket algorithm.
//
// It wraps golang.org/x/time/rate. The S3 content store waits on one before
// every API call so that a busy mount (many readers issuing small ranged
// GETs) stays under the request rate the bucket or gateway accepts instead
// of collecting 503 SlowDown responses.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a new RateLimiter with the specified rate and burst capacity.
//
// Parameters:
//   - requestsPerSecond: Maximum sustained rate (tokens added per second)
//   - burst: Maximum burst size (bucket capacity in tokens)
//
// Special cases:
//   - requestsPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: Burst equals the sustained rate
//
// Returns a configured RateLimiter.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
//
// Returns:
//   - nil if a token was acquired
//   - context error if the context was cancelled (or would expire) before a
//     token was available
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the current number of available tokens. Used by tests and
// debug logging.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
