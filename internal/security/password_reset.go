package security

import (
	"math"
	"sync"
	"time"
)

// resetRequestRecord counts reset requests for one identifier
type resetRequestRecord struct {
	count       int
	windowStart time.Time
}

// PasswordResetConfig caps reset requests per identifier
type PasswordResetConfig struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultPasswordResetConfig returns the standard policy (3 per hour)
func DefaultPasswordResetConfig() PasswordResetConfig {
	return PasswordResetConfig{
		MaxRequests: 3,
		Window:      1 * time.Hour,
	}
}

// ResetDecision is the outcome of a reset request check
type ResetDecision struct {
	Allowed           bool
	AttemptsLeft      int
	RetryAfterMinutes int
}

// PasswordResetTracker caps password-reset requests per account identifier
// within a fixed one-hour window. It does not know whether the account
// exists; that check (and the uniform response) happens upstream.
type PasswordResetTracker struct {
	mu      sync.Mutex
	records map[string]*resetRequestRecord
	config  PasswordResetConfig
	now     func() time.Time
}

// NewPasswordResetTracker creates a new PasswordResetTracker
func NewPasswordResetTracker(config PasswordResetConfig) *PasswordResetTracker {
	return &PasswordResetTracker{
		records: make(map[string]*resetRequestRecord),
		config:  config,
		now:     time.Now,
	}
}

// CanRequest checks and consumes one reset request for an identifier.
// When denied, RetryAfterMinutes reports the time until the window resets.
func (t *PasswordResetTracker) CanRequest(identifier string) ResetDecision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	rec, ok := t.records[identifier]
	if !ok || now.Sub(rec.windowStart) > t.config.Window {
		rec = &resetRequestRecord{count: 0, windowStart: now}
		t.records[identifier] = rec
	}

	if rec.count >= t.config.MaxRequests {
		retryAfter := int(math.Ceil(rec.windowStart.Add(t.config.Window).Sub(now).Minutes()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return ResetDecision{Allowed: false, RetryAfterMinutes: retryAfter}
	}

	rec.count++
	return ResetDecision{Allowed: true, AttemptsLeft: t.config.MaxRequests - rec.count}
}

// Sweep deletes records whose window started more than one window ago.
// Returns the number of records removed.
func (t *PasswordResetTracker) Sweep() int {
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
