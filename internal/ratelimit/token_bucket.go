package ratelimit

import (
	"sync"
	"time"
)

const nanosPerToken = int64(time.Second)

// TokenBucket is a deterministic token bucket refilling at an integer rate
// (tokens/sec) read from the provided Clock.
//
// Token balances are tracked in fixed-point "nano-tokens" (1 token = 1e9
// nano-tokens) so refills stay exact without float rounding: a fill rate of X
// tokens/sec adds exactly X nano-tokens per elapsed nanosecond.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // nano-tokens
	fillRate int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacityTokens < 0 {
		capacityTokens = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}

	capacity := capacityTokens * nanosPerToken
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  fillRate,
		available: capacity,
		last:      clock.Now(),
	}
}

// Allow consumes the given number of tokens if available. tokens <= 0 always
// succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	cost := tokens * nanosPerToken
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.capacity <= 0 {
		return
	}

	need := b.capacity - b.available
	if need <= 0 {
		b.available = b.capacity
		return
	}

	// fillRate tokens/sec equals fillRate nano-tokens per nanosecond. Clamp to
	// capacity before multiplying to avoid overflow on long idle periods.
	if maxElapsed := need / b.fillRate; elapsed.Nanoseconds() >= maxElapsed {
		b.available = b.capacity
		return
	}

	b.available += elapsed.Nanoseconds() * b.fillRate
	if b.available > b.capacity {
		b.available = b.capacity
	}
}
