package identity

import (
	"sync"
	"time"
)

// Rate limiter defaults: 5 attempts per key per 60 seconds.
const (
	DefaultRateLimit  = 5
	DefaultRateWindow = 60 * time.Second
)

// RateLimiter tracks recent attempts per key in a sliding window.
// Keys are login usernames and "pair:<client_device_id>" strings.
// State is process-local and resets on restart.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	attempts map[string][]time.Time
}

// NewRateLimiter creates a limiter allowing limit attempts per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Allow records an attempt for key and reports whether it is within the
// budget. Entries older than the window are pruned first; a rejected
// attempt is not recorded.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	kept := rl.attempts[key][:0]
	for _, t := range rl.attempts[key] {
		if now.Sub(t) < rl.window {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rl.limit {
		rl.attempts[key] = kept
		return false
	}

	rl.attempts[key] = append(kept, now)
	return true
}

// Reset forgets all recorded attempts.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.attempts = make(map[string][]time.Time)
}
