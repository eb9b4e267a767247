package auth

import (
	"testing"
	"time"

	"github.com/ovenbird/bakehouse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager() *TokenManager {
	return NewTokenManager("test-secret-at-least-sixteen", 15*time.Minute, 7*24*time.Hour, 5*time.Minute)
}

func TestTokenManager_AccessTokenRoundTrip(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateAccessToken("user-1", "a@b.com")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@b.com", claims.Email)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_TokenTypesDistinct(t *testing.T) {
	tm := newTestTokenManager()

	refresh, err := tm.GenerateRefreshToken("user-1", "a@b.com")
	require.NoError(t, err)
	mfa, err := tm.GenerateMFAToken("user-1", "a@b.com")
	require.NoError(t, err)

	refreshClaims, err := tm.ValidateToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeRefresh, refreshClaims.Type)

	mfaClaims, err := tm.ValidateToken(mfa)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeMFA, mfaClaims.Type)
}

func TestTokenManager_WrongSecretRejected(t *testing.T) {
	tm := newTestTokenManager()
	other := NewTokenManager("a-completely-different-secret", 15*time.Minute, time.Hour, time.Minute)

	token, err := tm.GenerateAccessToken("user-1", "a@b.com")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_GarbageRejected(t *testing.T) {
	tm := newTestTokenManager()

	_, err := tm.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}

func TestTokenManager_ExtractExpiry(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateAccessToken("user-1", "a@b.com")
	require.NoError(t, err)

	expiry, err := tm.ExtractExpiry(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiry, 5*time.Second)
}
