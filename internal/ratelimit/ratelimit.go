// Package ratelimit implements a per-approver token bucket rate limiter.
// Thread-safe. Tokens are refilled lazily on each call; there is no background goroutine.
// Buckets idle long enough to be full again are dropped during calls.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when an approver has exhausted their token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the token bucket rate limiter.
type Config struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // Tokens added per minute. 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // Maximum tokens in bucket. 0 = RequestsPerMinute.
}

// Limiter is a per-key token bucket rate limiter.
// Each approver gets an independent bucket; one approver cannot exhaust another's quota.
type Limiter struct {
	mu        sync.Mutex
	keys      map[string]*bucket
	rate      float64       // tokens per second
	burst     float64       // max bucket capacity
	idle      time.Duration // an idle bucket refills completely after this long
	nextSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// If RequestsPerMinute is 0, every call succeeds.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		keys:  make(map[string]*bucket),
		rate:  float64(cfg.RequestsPerMinute) / 60.0,
		burst: float64(burst),
		now:   time.Now,
	}
	if l.rate > 0 {
		l.idle = time.Duration(l.burst / l.rate * float64(time.Second))
	}
	if l.idle < time.Minute {
		l.idle = time.Minute
	}
	return l
}

// Allow consumes one token for key.
func (l *Limiter) Allow(key string) error {
	return l.AllowN(key, 1)
}

// AllowN consumes n tokens for key, all or nothing. A bulk approval of n
// items costs n tokens, so a single request cannot bypass the per-item budget.
// A request larger than the burst can never succeed.
func (l *Limiter) AllowN(key string, n int) error {
	if l.rate <= 0 || n <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdle(now)
	b, ok := l.keys[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastFill: now}
		l.keys[key] = b
	}

	b.tokens += now.Sub(b.lastFill).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now

	if b.tokens < float64(n) {
		return ErrRateLimited
	}
	b.tokens -= float64(n)
	return nil
}

// evictIdle drops buckets untouched for l.idle. Such a bucket is full again,
// so recreating it on the next call gives the same answer. Sweeps run at most
// once per idle period.
func (l *Limiter) evictIdle(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for key, b := range l.keys {
		if now.Sub(b.lastFill) >= l.idle {
			delete(l.keys, key)
		}
	}
	l.nextSweep = now.Add(l.idle)
}

// Unlimited reports whether the limiter lets every call through.
func (l *Limiter) Unlimited() bool {
	return l.rate <= 0
}
