package security

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestRateLimiter(clock *fakeClock, max int, window time.Duration) *RateLimiter {
	limiter := NewRateLimiter(RateLimiterConfig{MaxRequests: max, Window: window})
	limiter.now = clock.Now
	return limiter
}

func TestRateLimiter_AllowsExactlyMaxRequests(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestRateLimiter(clock, 5, 15*time.Minute)

	for i := 0; i < 5; i++ {
		decision := limiter.Allow("10.0.0.1")
		assert.True(t, decision.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 4-i, decision.Remaining)
		assert.Equal(t, 5, decision.Limit)
	}

	decision := limiter.Allow("10.0.0.1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 5, decision.Limit)
	assert.GreaterOrEqual(t, decision.RetryAfterMinutes, 1)
}

func TestRateLimiter_CounterResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestRateLimiter(clock, 2, 15*time.Minute)

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.1")
	assert.False(t, limiter.Allow("10.0.0.1").Allowed)

	clock.Advance(16 * time.Minute)

	decision := limiter.Allow("10.0.0.1")
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Remaining)
}

func TestRateLimiter_AddressesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestRateLimiter(clock, 1, 15*time.Minute)

	assert.True(t, limiter.Allow("10.0.0.1").Allowed)
	assert.False(t, limiter.Allow("10.0.0.1").Allowed)
	assert.True(t, limiter.Allow("10.0.0.2").Allowed)
}

func TestRateLimiter_SweepRemovesElapsedWindows(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestRateLimiter(clock, 100, 15*time.Minute)

	for i := 0; i < 10; i++ {
		limiter.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	clock.Advance(16 * time.Minute)
	limiter.Allow("10.0.1.1")

	assert.Equal(t, 10, limiter.Sweep())
}
