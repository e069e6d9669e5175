// Package ratelimiter paces client commands with a token bucket.
//
// A session consumes one token per request line; tokens refill at the
// sustained rate and the burst size bounds how far a chatty client can
// get ahead of it. Wraps golang.org/x/time/rate.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token-bucket limiter. All methods are safe for
// concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained with
// bursts up to burst tokens. requestsPerSecond = 0 disables limiting.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		// rate.Inf has awkward Wait semantics, so use a rate no client
		// can reach instead.
		requestsPerSecond = 1_000_000_000
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available. Returns false when the
// request should be rejected outright.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
// This throttles clients instead of rejecting them.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the current bucket level. Monitoring only; the value
// may be stale by the time it is read.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
