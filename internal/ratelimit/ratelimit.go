package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RateLimiter paces page fetches against retailer sites.
type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// JitteredRateLimiter spaces actions by a random delay between min and
// max, mimicking a human browsing pace. Randomness matters more than
// throughput here: a fixed cadence is a scraper fingerprint.
type JitteredRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewJitteredRateLimiter(minDelay, maxDelay time.Duration) *JitteredRateLimiter {
	return &JitteredRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
	}
}

func (r *JitteredRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.nextDelay()

	if elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *JitteredRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = min
	r.maxDelay = max
}

func (r *JitteredRateLimiter) nextDelay() time.Duration {
	if r.minDelay >= r.maxDelay {
		return r.minDelay
	}
	return r.minDelay + time.Duration(rand.Int63n(int64(r.maxDelay-r.minDelay)))
}
