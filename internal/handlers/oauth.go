package handlers

import (
	"context"
	"net/http"

	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/services"
	pkghttp "github.com/ovenbird/bakehouse/pkg/http"
)

// OAuthServiceInterface defines the interface for Google sign-in
type OAuthServiceInterface interface {
	Enabled() bool
	GenerateState() (string, error)
	AuthURL(state string) string
	HandleCallback(ctx context.Context, code string) (*services.AuthResponse, error)
}

// OAuthHandler handles Google OAuth HTTP requests
type OAuthHandler struct {
	service       OAuthServiceInterface
	csrfStore     csrfIssuer
	cookieConfig  auth.CookieConfig
	refreshMaxAge int
}

type csrfIssuer interface {
	Generate(sessionKey string) (string, error)
}

// NewOAuthHandler creates a new OAuthHandler
func NewOAuthHandler(service OAuthServiceInterface, csrfStore csrfIssuer, cookieConfig auth.CookieConfig, refreshMaxAge int) *OAuthHandler {
	return &OAuthHandler{
		service:       service,
		csrfStore:     csrfStore,
		cookieConfig:  cookieConfig,
		refreshMaxAge: refreshMaxAge,
	}
}

// GoogleLogin redirects the browser to the Google consent page. The state
// parameter is mirrored in a short-lived cookie for callback verification.
func (h *OAuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.service.Enabled() {
		pkghttp.WriteNotFound(w, "Google sign-in is not configured")
		return
	}

	state, err := h.service.GenerateState()
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.SetOAuthStateCookie(w, state, h.cookieConfig)
	http.Redirect(w, r, h.service.AuthURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback completes the OAuth round trip
func (h *OAuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.service.Enabled() {
		pkghttp.WriteNotFound(w, "Google sign-in is not configured")
		return
	}

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" {
		pkghttp.WriteUnauthorized(w, "Missing OAuth state")
		return
	}

	if r.URL.Query().Get("state") != stateCookie.Value {
		pkghttp.WriteUnauthorized(w, "OAuth state mismatch")
		return
	}

	// The state is single-use: drop the cookie as soon as it has matched
	auth.ClearOAuthStateCookie(w, h.cookieConfig)

	code := r.URL.Query().Get("code")
	if code == "" {
		pkghttp.WriteBadRequest(w, "Missing authorization code")
		return
	}

	authResp, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "Google sign-in failed")
		return
	}

	auth.SetRefreshTokenCookie(w, authResp.RefreshToken, h.refreshMaxAge, h.cookieConfig)
	if h.csrfStore != nil {
		if token, err := h.csrfStore.Generate(authResp.User.ID); err == nil {
			auth.SetCSRFTokenCookie(w, token, 3600, h.cookieConfig)
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}
