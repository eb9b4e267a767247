package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ovenbird/bakehouse/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_AllowedRequestCarriesQuotaHeaders(t *testing.T) {
	limiter := security.NewRateLimiter(security.RateLimiterConfig{MaxRequests: 5, Window: 15 * time.Minute})
	handler := RateLimit(limiter, nil, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/products", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_DeniesOverQuota(t *testing.T) {
	limiter := security.NewRateLimiter(security.RateLimiterConfig{MaxRequests: 2, Window: 15 * time.Minute})
	handler := RateLimit(limiter, nil, nil)(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/products", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/products", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "retryAfter")
}

func TestAuthBurstLimit_ForwardedForHeaderDoesNotEvadeQuota(t *testing.T) {
	handler := AuthBurstLimit(1, nil, nil)(okHandler())

	first := httptest.NewRequest("POST", "/api/auth/login", nil)
	first.RemoteAddr = "10.0.0.1:1111"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	// A fabricated X-Forwarded-For must not open a fresh bucket: without a
	// trusted proxy in front, only the peer address counts
	spoofed := httptest.NewRequest("POST", "/api/auth/login", nil)
	spoofed.RemoteAddr = "10.0.0.1:2222"
	spoofed.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, spoofed)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimit_SeparateAddressesSeparateQuotas(t *testing.T) {
	limiter := security.NewRateLimiter(security.RateLimiterConfig{MaxRequests: 1, Window: 15 * time.Minute})
	handler := RateLimit(limiter, nil, nil)(okHandler())

	first := httptest.NewRequest("GET", "/api/products", nil)
	first.RemoteAddr = "10.0.0.1:1111"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	blocked := httptest.NewRequest("GET", "/api/products", nil)
	blocked.RemoteAddr = "10.0.0.1:2222"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, blocked)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := httptest.NewRequest("GET", "/api/products", nil)
	other.RemoteAddr = "10.0.0.2:1111"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}
