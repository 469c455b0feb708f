package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks the request weight the venue reports back in
// X-MBX-USED-WEIGHT-1M.
type RateLimiter struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a tracker for limit weight per resetInterval
// (2400/min for USDT-M futures).
func NewRateLimiter(limit int, resetInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// UpdateFromHeader records the used weight from a response header.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	pct := float64(rl.usedWeight) / float64(rl.limit) * 100
	if pct >= 95 {
		log.Printf("rate limit critical: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, pct)
	} else if pct >= 80 {
		log.Printf("rate limit warning: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, pct)
	}
}

// Usage returns the weight used in the current window.
func (rl *RateLimiter) Usage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// Pause returns how long to hold the next request: the remainder of the
// window once 90% of the weight is spent, otherwise zero.
func (rl *RateLimiter) Pause() time.Duration {
	_, _, pct := rl.Usage()
	if pct < 90 {
		return 0
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if remaining := rl.resetInterval - time.Since(rl.lastReset); remaining > 0 {
		return remaining
	}
	return 0
}
