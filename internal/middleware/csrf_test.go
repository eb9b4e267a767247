package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func csrfTestHandler(t *testing.T, store *security.CSRFTokenStore, allowList []string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := CSRFProtection(store, CSRFConfig{AllowList: allowList}, logger, nil)
	return mw(okHandler())
}

// anonymousSessionKey derives the same key the middleware will for a
// request with no authenticated user.
func anonymousSessionKey(r *http.Request) string {
	return SessionKey(r, nil, nil)
}

func TestCSRFProtection_GETPassesWithoutToken(t *testing.T) {
	handler := csrfTestHandler(t, security.NewCSRFTokenStore(), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/products", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCSRFProtection_POSTWithoutTokenForbidden(t *testing.T) {
	handler := csrfTestHandler(t, security.NewCSRFTokenStore(), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/users/me", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCSRFProtection_ValidHeaderTokenAccepted(t *testing.T) {
	store := security.NewCSRFTokenStore()
	handler := csrfTestHandler(t, store, nil)

	r := httptest.NewRequest("POST", "/api/users/me", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0")

	token, err := store.Generate(anonymousSessionKey(r))
	require.NoError(t, err)
	r.Header.Set("X-CSRF-Token", token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCSRFProtection_BodyFieldFallback(t *testing.T) {
	store := security.NewCSRFTokenStore()
	handler := csrfTestHandler(t, store, nil)

	probe := httptest.NewRequest("POST", "/api/users/me", nil)
	probe.Header.Set("User-Agent", "Mozilla/5.0")
	token, err := store.Generate(anonymousSessionKey(probe))
	require.NoError(t, err)

	body := bytes.NewBufferString(`{"_csrf":"` + token + `","name":"Pain au Chocolat"}`)
	r := httptest.NewRequest("POST", "/api/users/me", body)
	r.Header.Set("User-Agent", "Mozilla/5.0")
	r.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCSRFProtection_TokenBoundToSession(t *testing.T) {
	store := security.NewCSRFTokenStore()
	handler := csrfTestHandler(t, store, nil)

	token, err := store.Generate("some-other-session")
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/api/users/me", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0")
	r.Header.Set("X-CSRF-Token", token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCSRFProtection_BodyFieldFallbackWithCharset(t *testing.T) {
	store := security.NewCSRFTokenStore()
	handler := csrfTestHandler(t, store, nil)

	seed := httptest.NewRequest("POST", "/api/users/me", nil)
	seed.Header.Set("User-Agent", "Mozilla/5.0")
	token, err := store.Generate(anonymousSessionKey(seed))
	require.NoError(t, err)

	body := bytes.NewBufferString(`{"_csrf":"` + token + `"}`)
	r := httptest.NewRequest("POST", "/api/users/me", body)
	r.Header.Set("User-Agent", "Mozilla/5.0")
	r.Header.Set("Content-Type", "application/json; charset=utf-8")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// The login response issues the CSRF token under the user's ID, while this
// middleware runs before the auth middleware has populated the context. The
// session key must still resolve to the same user ID from the bearer token.
func TestCSRFProtection_UserKeyedTokenAcceptedThroughFullStack(t *testing.T) {
	store := security.NewCSRFTokenStore()
	tm := auth.NewTokenManager("csrf-session-key-test-secret-0123456789", 15*time.Minute, time.Hour, 5*time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Same ordering as the application router: CSRF outside, bearer auth
	// on the inner group
	router := chi.NewRouter()
	router.Use(CSRFProtection(store, CSRFConfig{Tokens: tm}, logger, nil))
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tm, nil))
		r.Post("/api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	accessToken, err := tm.GenerateAccessToken("user-42", "marta@bakehouse.example")
	require.NoError(t, err)
	csrfToken, err := store.Generate("user-42")
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/api/auth/logout", nil)
	r.Header.Set("Authorization", "Bearer "+accessToken)
	r.Header.Set("X-CSRF-Token", csrfToken)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Invalidating the user's token (as logout does) closes the session
	store.Invalidate("user-42")

	r = httptest.NewRequest("POST", "/api/auth/logout", nil)
	r.Header.Set("Authorization", "Bearer "+accessToken)
	r.Header.Set("X-CSRF-Token", csrfToken)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionKey_InvalidBearerFallsBackToFingerprint(t *testing.T) {
	tm := auth.NewTokenManager("csrf-session-key-test-secret-0123456789", 15*time.Minute, time.Hour, 5*time.Minute)

	r := httptest.NewRequest("POST", "/api/users/me", nil)
	r.Header.Set("User-Agent", "Mozilla/5.0")
	anon := SessionKey(r, tm, nil)

	r.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, anon, SessionKey(r, tm, nil))

	// An MFA token is not an access token and must not bind the session
	mfaToken, err := tm.GenerateMFAToken("user-42", "marta@bakehouse.example")
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+mfaToken)
	assert.Equal(t, anon, SessionKey(r, tm, nil))

	accessToken, err := tm.GenerateAccessToken("user-42", "marta@bakehouse.example")
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+accessToken)
	assert.Equal(t, "user-42", SessionKey(r, tm, nil))
}

func TestCSRFProtection_AllowListedPathSkipsCheck(t *testing.T) {
	handler := csrfTestHandler(t, security.NewCSRFTokenStore(), []string{"/api/auth/login"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/auth/login", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
