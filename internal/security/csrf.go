package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"
)

// csrfTokenRecord stores the live token for one session key
type csrfTokenRecord struct {
	token     string
	createdAt time.Time
}

// CSRFTokenStore issues and validates one-time-window tokens bound to a
// session key (user ID, or a client fingerprint for anonymous sessions).
// Exactly one live token exists per key; each issuance overwrites the
// previous one. A failed verification does NOT invalidate the token.
type CSRFTokenStore struct {
	mu       sync.RWMutex
	records  map[string]*csrfTokenRecord
	tokenTTL time.Duration
	now      func() time.Time
}

// NewCSRFTokenStore creates a new CSRFTokenStore with a 1 hour token lifetime
func NewCSRFTokenStore() *CSRFTokenStore {
	return &CSRFTokenStore{
		records:  make(map[string]*csrfTokenRecord),
		tokenTTL: 1 * time.Hour,
		now:      time.Now,
	}
}

// Generate creates a new random token for a session key, overwriting any
// prior token for that key.
func (s *CSRFTokenStore) Generate(sessionKey string) (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(randomBytes)

	s.mu.Lock()
	s.records[sessionKey] = &csrfTokenRecord{token: token, createdAt: s.now()}
	s.mu.Unlock()

	return token, nil
}

// Verify reports whether candidate matches the live token for a session key.
// An expired record is deleted during the read. Comparison is constant-time
// to avoid leaking the stored token through timing.
func (s *CSRFTokenStore) Verify(sessionKey, candidate string) bool {
	s.mu.RLock()
	rec, ok := s.records[sessionKey]
	s.mu.RUnlock()

	if !ok {
		return false
	}

	if s.now().Sub(rec.createdAt) > s.tokenTTL {
		s.mu.Lock()
		delete(s.records, sessionKey)
		s.mu.Unlock()
		return false
	}

	return subtle.ConstantTimeCompare([]byte(rec.token), []byte(candidate)) == 1
}

// Invalidate removes the token for a session key (e.g. on logout).
func (s *CSRFTokenStore) Invalidate(sessionKey string) {
	s.mu.Lock()
	delete(s.records, sessionKey)
	s.mu.Unlock()
}

// Sweep deletes entries older than the token lifetime.
// Returns the number of records removed.
func (s *CSRFTokenStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, rec := range s.records {
		if now.Sub(rec.createdAt) > s.tokenTTL {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}
