// Package server implements a token bucket rate limiter applied per session
// so one flooding client cannot monopolize the relay's broadcast loop.
package server

import (
	"log/slog"
	"sync"
	"time"
)

// rateLimiter admits up to capacity frames at once and refills continuously
// at capacity per interval. Over-limit frames are discarded by the read pump;
// the sender gets no feedback, matching the relay's silent-drop policy.
type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64 // tokens per second
	lastCheck time.Time
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	rate := float64(capacity) / interval.Seconds()
	if rate <= 0 {
		rate = float64(capacity)
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: time.Now(),
	}
}

// allow reports whether one more frame may be processed, consuming a token
// when it can.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())

	if rl.tokens < 1 {
		slog.Debug("rate limiter exhausted", "capacity", rl.capacity)
		return false
	}

	rl.tokens--
	return true
}

// refill credits tokens for the time elapsed since the last check, capped at
// the bucket's capacity.
func (rl *rateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
}
