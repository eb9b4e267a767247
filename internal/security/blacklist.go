package security

import (
	"sync"
	"time"
)

// TokenBlacklist records revoked tokens until their natural expiry. The
// token string is used verbatim as the key; the expiry comes from the
// token's own claims, not computed here. An unexpired entry means the
// token must be rejected even if cryptographically well-formed.
type TokenBlacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time // token -> expiresAt
	now     func() time.Time
}

// NewTokenBlacklist creates a new TokenBlacklist
func NewTokenBlacklist() *TokenBlacklist {
	return &TokenBlacklist{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Add records a revoked token with its natural expiry timestamp.
func (b *TokenBlacklist) Add(token string, expiresAt time.Time) {
	b.mu.Lock()
	b.entries[token] = expiresAt
	b.mu.Unlock()
}

// IsBlacklisted reports whether a token is revoked and not yet expired.
// An expired entry is purged during the read.
func (b *TokenBlacklist) IsBlacklisted(token string) bool {
	b.mu.RLock()
	expiresAt, ok := b.entries[token]
	b.mu.RUnlock()

	if !ok {
		return false
	}

	if b.now().After(expiresAt) {
		b.mu.Lock()
		delete(b.entries, token)
		b.mu.Unlock()
		return false
	}

	return true
}

// Sweep removes all entries past their expiry.
// Returns the number of entries removed.
func (b *TokenBlacklist) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for token, expiresAt := range b.entries {
		if now.After(expiresAt) {
			delete(b.entries, token)
			removed++
		}
	}
	return removed
}
