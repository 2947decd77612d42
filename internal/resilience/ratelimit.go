package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	interval time.Duration // time to earn one token
	burst    float64
	now      func() time.Time

	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter allows one request per interval with bursts of up to
// burst requests. A non-positive interval disables limiting.
func NewRateLimiter(interval time.Duration, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		interval:   interval,
		burst:      float64(burst),
		now:        time.Now,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// reserve takes a token if one is available, otherwise it returns how long
// until the next one.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interval <= 0 {
		return 0
	}

	now := r.now()
	r.tokens += float64(now.Sub(r.lastUpdate)) / float64(r.interval)
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.lastUpdate = now

	if r.tokens >= 1 {
		r.tokens--
		return 0
	}
	return time.Duration((1 - r.tokens) * float64(r.interval))
}

// Allow reports whether a request may go ahead now, taking a token if so.
func (r *RateLimiter) Allow() bool {
	return r.reserve() == 0
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := r.reserve()
		if wait == 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
