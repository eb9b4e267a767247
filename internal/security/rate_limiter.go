package security

import (
	"math"
	"sync"
	"time"
)

// rateLimitRecord counts requests for one client address
type rateLimitRecord struct {
	count       int
	windowStart time.Time
}

// RateLimiterConfig parameterizes the fixed-window counter
type RateLimiterConfig struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultRateLimiterConfig returns the blanket policy (100 requests / 15 min)
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxRequests: 100,
		Window:      15 * time.Minute,
	}
}

// RateDecision is the outcome of a rate limit check
type RateDecision struct {
	Allowed           bool
	Remaining         int
	Limit             int
	RetryAfterMinutes int
}

// RateLimiter is a fixed-window request counter keyed by client address,
// independent of account identity. Fixed window is intentional: the
// boundary double-burst tradeoff is accepted for blunt abuse prevention.
type RateLimiter struct {
	mu      sync.Mutex
	records map[string]*rateLimitRecord
	config  RateLimiterConfig
	now     func() time.Time
}

// NewRateLimiter creates a new RateLimiter
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		records: make(map[string]*rateLimitRecord),
		config:  config,
		now:     time.Now,
	}
}

// Allow checks and consumes one request for a client address.
func (t *RateLimiter) Allow(address string) RateDecision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	rec, ok := t.records[address]
	if !ok || now.Sub(rec.windowStart) > t.config.Window {
		rec = &rateLimitRecord{count: 0, windowStart: now}
		t.records[address] = rec
	}

	if rec.count >= t.config.MaxRequests {
		retryAfter := int(math.Ceil(rec.windowStart.Add(t.config.Window).Sub(now).Minutes()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return RateDecision{Allowed: false, Limit: t.config.MaxRequests, RetryAfterMinutes: retryAfter}
	}

	rec.count++
	return RateDecision{
		Allowed:   true,
		Remaining: t.config.MaxRequests - rec.count,
		Limit:     t.config.MaxRequests,
	}
}

// Sweep deletes address records whose window has fully elapsed.
// Returns the number of records removed.
func (t *RateLimiter) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, rec := range t.records {
		if now.Sub(rec.windowStart) > t.config.Window {
			delete(t.records, key)
			removed++
		}
	}
	return removed
}
