package server

import (
	"sync"
	"time"
)

// RateLimiterConfig tunes the sliding window.
type RateLimiterConfig struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultRateLimiterConfig allows 100 requests per minute per client.
var DefaultRateLimiterConfig = RateLimiterConfig{
	Window:      time.Minute,
	MaxRequests: 100,
}

// RateLimiter limits request rates per client using a sliding window over
// request timestamps. When a client exceeds the limit its requests are
// rejected until enough of the window has elapsed.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
	cfg     RateLimiterConfig
}

// NewRateLimiter constructs a limiter; zero-value config fields fall back to
// the defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimiterConfig.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultRateLimiterConfig.MaxRequests
	}
	return &RateLimiter{clients: make(map[string][]time.Time), cfg: cfg}
}

// Allow records one request for the client and reports whether it is within
// the limit.
func (r *RateLimiter) Allow(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	window := r.pruneLocked(clientID, now)
	if len(window) >= r.cfg.MaxRequests {
		r.clients[clientID] = window
		return false
	}
	r.clients[clientID] = append(window, now)
	return true
}

// Remaining returns how many requests the client may still make in the
// current window.
func (r *RateLimiter) Remaining(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	window := r.pruneLocked(clientID, time.Now())
	r.clients[clientID] = window
	remaining := r.cfg.MaxRequests - len(window)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TimeUntilReset returns how long until the client's oldest in-window
// request slides out, or zero when the client is not limited.
func (r *RateLimiter) TimeUntilReset(clientID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	window := r.pruneLocked(clientID, now)
	r.clients[clientID] = window
	if len(window) < r.cfg.MaxRequests {
		return 0
	}
	reset := window[0].Add(r.cfg.Window).Sub(now)
	if reset < 0 {
		return 0
	}
	return reset
}

// Reset forgets the client's request history.
func (r *RateLimiter) Reset(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

// Cleanup drops clients whose windows have fully expired. Call periodically
// on long-running servers.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id := range r.clients {
		if window := r.pruneLocked(id, now); len(window) == 0 {
			delete(r.clients, id)
		} else {
			r.clients[id] = window
		}
	}
}

// pruneLocked drops timestamps outside the window; caller must hold the lock.
func (r *RateLimiter) pruneLocked(clientID string, now time.Time) []time.Time {
	cutoff := now.Add(-r.cfg.Window)
	window := r.clients[clientID]
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}
