package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/metrics"
	"github.com/ovenbird/bakehouse/internal/models"
	"github.com/ovenbird/bakehouse/internal/security"
	pkghttp "github.com/ovenbird/bakehouse/pkg/http"
)

// TokenValidator verifies bearer tokens so the session key can be derived
// even when this middleware runs before the auth middleware
type TokenValidator interface {
	ValidateToken(tokenString string) (*models.TokenClaims, error)
}

// CSRFConfig holds CSRF middleware configuration
type CSRFConfig struct {
	// Routes exempt from CSRF checks: they precede CSRF-protected session
	// establishment (registration, login, OAuth callback, ...)
	AllowList []string
	Tokens    TokenValidator
	IPConfig  *pkghttp.IPConfig
}

// CSRFProtection validates CSRF tokens on state-changing requests. The token
// is read from the X-CSRF-Token header or, failing that, a _csrf body field.
// The session key is the authenticated user's ID when available, otherwise a
// fingerprint of client address + user agent.
func CSRFProtection(store *security.CSRFTokenStore, config CSRFConfig, logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(config.AllowList))
	for _, path := range config.AllowList {
		allowed[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) || allowed[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			candidate := extractCSRFToken(r)
			if candidate == "" {
				logger.Warn("CSRF token missing",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				if m != nil {
					m.CSRFFailures.Inc()
				}
				pkghttp.WriteForbidden(w, "CSRF token missing")
				return
			}

			sessionKey := SessionKey(r, config.Tokens, config.IPConfig)
			if !store.Verify(sessionKey, candidate) {
				logger.Warn("CSRF token validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				if m != nil {
					m.CSRFFailures.Inc()
				}
				pkghttp.WriteForbidden(w, "CSRF token invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SessionKey derives the CSRF session key for a request: the authenticated
// user ID when present, else an address+user-agent fingerprint. Tokens issued
// at login are keyed by user ID, so the bearer token is consulted directly
// when the auth middleware has not populated the context yet.
func SessionKey(r *http.Request, tokens TokenValidator, ipConfig *pkghttp.IPConfig) string {
	if claims := auth.GetUserFromContext(r); claims != nil {
		return claims.UserID
	}
	if tokens != nil {
		if raw, ok := auth.BearerToken(r); ok {
			if claims, err := tokens.ValidateToken(raw); err == nil && claims.Type == models.TokenTypeAccess {
				return claims.UserID
			}
		}
	}
	return security.Fingerprint(pkghttp.ExtractClientIP(r, ipConfig), r.Header.Get("User-Agent"))
}

// extractCSRFToken reads the token from the header, falling back to a _csrf
// field in a JSON body. The body is restored so handlers can re-read it.
func extractCSRFToken(r *http.Request) string {
	if token := r.Header.Get("X-CSRF-Token"); token != "" {
		return token
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if r.Body == nil || err != nil || mediaType != "application/json" {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var fields struct {
		CSRF string `json:"_csrf"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	return fields.CSRF
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
