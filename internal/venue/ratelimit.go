// ratelimit.go implements token-bucket rate limiting for venue REST calls.
//
// Each venue publishes per-category request limits over fixed windows. This
// file provides a smooth token-bucket implementation that refills continuously
// (rather than in window-sized bursts) to avoid hitting hard limits.
package venue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by order-entry operation. Each trading
// call must Wait() on the matching bucket before making the HTTP request.
type RateLimiter struct {
	Order  *TokenBucket // place new orders
	Amend  *TokenBucket // amend live orders
	Cancel *TokenBucket // cancel orders
}

// NewRateLimiter creates buckets sized well inside the tightest published
// per-instrument limits across the supported venues (OKX allows 60 order
// requests per 2s per instrument; Bybit and Binance are looser).
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(50, 25),
		Amend:  NewTokenBucket(50, 25),
		Cancel: NewTokenBucket(50, 25),
	}
}
