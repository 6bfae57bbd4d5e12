package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Window: time.Minute, MaxRequests: 3})

	assert.True(t, r.Allow("c1"))
	assert.True(t, r.Allow("c1"))
	assert.True(t, r.Allow("c1"))
	assert.False(t, r.Allow("c1"))

	// Other clients are tracked independently.
	assert.True(t, r.Allow("c2"))
}

func TestRateLimiterRemaining(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Window: time.Minute, MaxRequests: 3})

	assert.Equal(t, 3, r.Remaining("c1"))
	r.Allow("c1")
	r.Allow("c1")
	assert.Equal(t, 1, r.Remaining("c1"))
	r.Allow("c1")
	r.Allow("c1") // rejected, does not consume
	assert.Equal(t, 0, r.Remaining("c1"))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Window: 50 * time.Millisecond, MaxRequests: 2})

	assert.True(t, r.Allow("c1"))
	assert.True(t, r.Allow("c1"))
	assert.False(t, r.Allow("c1"))

	time.Sleep(60 * time.Millisecond)

	assert.True(t, r.Allow("c1"))
}

func TestRateLimiterTimeUntilReset(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Window: time.Minute, MaxRequests: 1})

	assert.Zero(t, r.TimeUntilReset("c1"))
	r.Allow("c1")
	reset := r.TimeUntilReset("c1")
	assert.Greater(t, reset, 50*time.Second)
	assert.LessOrEqual(t, reset, time.Minute)
}

func TestRateLimiterReset(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Window: time.Minute, MaxRequests: 1})

	r.Allow("c1")
	assert.False(t, r.Allow("c1"))
	r.Reset("c1")
	assert.True(t, r.Allow("c1"))
}

func TestRateLimiterCleanup(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{Window: 10 * time.Millisecond, MaxRequests: 5})

	r.Allow("c1")
	r.Allow("c2")
	time.Sleep(20 * time.Millisecond)
	r.Allow("c3")

	r.Cleanup()

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.NotContains(t, r.clients, "c1")
	assert.NotContains(t, r.clients, "c2")
	assert.Contains(t, r.clients, "c3")
}

func TestRateLimiterZeroConfigUsesDefaults(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{})
	assert.Equal(t, DefaultRateLimiterConfig.Window, r.cfg.Window)
	assert.Equal(t, DefaultRateLimiterConfig.MaxRequests, r.cfg.MaxRequests)
}
