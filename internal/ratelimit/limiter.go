// Package ratelimit provides per-route token buckets for webhook admission.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	Capacity     int
	RefillTokens int
	RefillPeriod time.Duration
}

func DefaultConfig() Config {
	return Config{Capacity: 10, RefillTokens: 10, RefillPeriod: 10 * time.Second}
}

// Limiter keeps one bucket per route key. Refill is continuous, so a full
// period restores RefillTokens tokens up to Capacity.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func New(cfg Config) *Limiter {
	return NewWithClock(cfg, time.Now)
}

func NewWithClock(cfg Config, now func() time.Time) *Limiter {
	if cfg.Capacity <= 0 || cfg.RefillTokens <= 0 || cfg.RefillPeriod <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Every(cfg.RefillPeriod / time.Duration(cfg.RefillTokens)),
		burst:   cfg.Capacity,
		now:     now,
	}
}

// TryConsume takes one token from key's bucket and reports whether it was
// available.
func (l *Limiter) TryConsume(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.AllowN(l.now(), 1)
}
