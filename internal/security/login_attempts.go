package security

import (
	"math"
	"sync"
	"time"
)

// loginAttemptRecord tracks failed logins for one identifier
type loginAttemptRecord struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time // zero when not locked
}

// LoginAttemptConfig holds lockout thresholds
type LoginAttemptConfig struct {
	MaxAttempts   int           // failures before lockout
	AttemptWindow time.Duration // window in which failures accumulate
	LockDuration  time.Duration // how long the account stays locked
	StaleAfter    time.Duration // wholesale GC age for Sweep
}

// DefaultLoginAttemptConfig returns the standard lockout policy
// (5 attempts in 15 minutes, 15 minute lock)
func DefaultLoginAttemptConfig() LoginAttemptConfig {
	return LoginAttemptConfig{
		MaxAttempts:   5,
		AttemptWindow: 15 * time.Minute,
		LockDuration:  15 * time.Minute,
		StaleAfter:    1 * time.Hour,
	}
}

// AttemptResult is returned after recording a failed login
type AttemptResult struct {
	Locked       bool
	AttemptsLeft int
	LockedUntil  time.Time
}

// LockStatus reports whether an identifier is currently locked out
type LockStatus struct {
	Locked           bool
	RemainingMinutes int
}

// LoginAttemptTracker tracks failed login attempts per account identifier
// and locks the account after too many failures in the attempt window.
// State is in-memory only and resets on process restart.
type LoginAttemptTracker struct {
	mu      sync.Mutex
	records map[string]*loginAttemptRecord
	config  LoginAttemptConfig
	now     func() time.Time
}

// NewLoginAttemptTracker creates a new LoginAttemptTracker
func NewLoginAttemptTracker(config LoginAttemptConfig) *LoginAttemptTracker {
	return &LoginAttemptTracker{
		records: make(map[string]*loginAttemptRecord),
		config:  config,
		now:     time.Now,
	}
}

// RecordFailure registers a failed login attempt for an identifier.
// Callers must only invoke this after credential verification has failed.
func (t *LoginAttemptTracker) RecordFailure(identifier string) AttemptResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	rec, ok := t.records[identifier]
	if !ok || now.Sub(rec.firstAttempt) > t.config.AttemptWindow {
		// Fresh record, or the previous window elapsed: start counting again
		rec = &loginAttemptRecord{count: 1, firstAttempt: now}
		t.records[identifier] = rec
	} else {
		rec.count++
	}

	if rec.count >= t.config.MaxAttempts {
		rec.lockedUntil = now.Add(t.config.LockDuration)
		return AttemptResult{Locked: true, AttemptsLeft: 0, LockedUntil: rec.lockedUntil}
	}

	return AttemptResult{
		Locked:       false,
		AttemptsLeft: t.config.MaxAttempts - rec.count,
	}
}

// Status reports whether an identifier is locked. An expired lock is
// removed during the read, so locks self-heal without an unlock call.
func (t *LoginAttemptTracker) Status(identifier string) LockStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[identifier]
	if !ok || rec.lockedUntil.IsZero() {
		return LockStatus{Locked: false}
	}

	now := t.now()
	if !rec.lockedUntil.After(now) {
		delete(t.records, identifier)
		return LockStatus{Locked: false}
	}

	remaining := int(math.Ceil(rec.lockedUntil.Sub(now).Minutes()))
	if remaining < 1 {
		remaining = 1
	}
	return LockStatus{Locked: true, RemainingMinutes: remaining}
}

// Clear removes the record for an identifier. Called after a successful login
// so the next failure counts as attempt #1.
func (t *LoginAttemptTracker) Clear(identifier string) {
	t.mu.Lock()
	delete(t.records, identifier)
	t.mu.Unlock()
}

// Sweep deletes records whose first attempt is older than StaleAfter,
// independent of lock state. Returns the number of records removed.
func (t *LoginAttemptTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, rec := range t.records {
		if now.Sub(rec.firstAttempt) > t.config.StaleAfter {
			delete(t.records, key)
			removed++
		}
	}
	return removed
}
