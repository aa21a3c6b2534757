package logger

import (
	"sync"
	"time"
)

// RateLimiter lets at most one event through per interval and counts the
// ones it held back, so the next allowed log line can report them.
type RateLimiter struct {
	interval   time.Duration
	lastTime   time.Time
	suppressed int64
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether an event may pass. When it may, it also returns how
// many events were suppressed since the previous one and resets that count.
func (r *RateLimiter) Allow() (bool, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.lastTime.IsZero() || now.Sub(r.lastTime) >= r.interval {
		r.lastTime = now
		dropped := r.suppressed
		r.suppressed = 0
		return true, dropped
	}
	r.suppressed++
	return false, 0
}
