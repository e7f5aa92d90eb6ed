package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-sender rate limiting
// ARCHITECTURAL DISCOVERY: Per-sender state tracking with periodic cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	senders map[string]*senderWindow
}

// senderWindow tracks the fixed window of a single sender
type senderWindow struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit messages per sender per window. limit <= 0 disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		senders: make(map[string]*senderWindow),
	}
}

// Allow checks if sender can publish another message in the current window
func (rl *RateLimiter) Allow(sender string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	w, exists := rl.senders[sender]
	if !exists {
		// FUNCTIONAL DISCOVERY: First message always allowed, initialize tracking
		rl.senders[sender] = &senderWindow{messageCount: 1, windowStart: now}
		return true
	}

	// TECHNICAL DISCOVERY: Window resets once a full window has elapsed since it opened
	if now.Sub(w.windowStart) >= rl.window {
		w.messageCount = 1
		w.windowStart = now
		return true
	}

	if w.messageCount >= rl.limit {
		return false
	}

	w.messageCount++
	return true
}

// Cleanup removes senders idle for five windows and returns how many were evicted
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	evicted := 0
	for sender, w := range rl.senders {
		if now.Sub(w.windowStart) > 5*rl.window {
			delete(rl.senders, sender)
			evicted++
		}
	}
	return evicted
}
