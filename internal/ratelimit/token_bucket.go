// Package ratelimit implements the token bucket used to cap per-session
// signaling message rates.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the Clock used in production.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at a fixed rate up to a burst capacity. A message
// spends one token; when the bucket is empty the message is rejected.
type TokenBucket struct {
	mu sync.Mutex

	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	last       time.Time
	clock      Clock
}

// NewTokenBucket returns a full bucket. ratePerSecond doubles as the burst
// capacity, matching one second of traffic.
func NewTokenBucket(ratePerSecond float64, clock Clock) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	return &TokenBucket{
		capacity:   ratePerSecond,
		refillRate: ratePerSecond,
		tokens:     ratePerSecond,
		last:       clock.Now(),
		clock:      clock,
	}
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tokens reports the current token count. Test hook.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
