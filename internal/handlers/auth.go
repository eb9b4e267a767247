package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/middleware"
	"github.com/ovenbird/bakehouse/internal/models"
	"github.com/ovenbird/bakehouse/internal/security"
	"github.com/ovenbird/bakehouse/internal/services"
	pkgauth "github.com/ovenbird/bakehouse/pkg/auth"
	pkghttp "github.com/ovenbird/bakehouse/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, firstName, lastName string) (*models.User, error)
	Login(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error)
	VerifyMFA(ctx context.Context, mfaToken, code, ipAddress string) (*services.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
}

// EmailVerificationServiceInterface defines the interface for email verification
type EmailVerificationServiceInterface interface {
	SendVerificationEmail(ctx context.Context, userID, email string) error
	VerifyEmail(ctx context.Context, plainToken string) (string, error)
	ResendVerification(ctx context.Context, email string) error
}

// PasswordResetServiceInterface defines the interface for password resets
type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email, ipAddress string) error
	ResetPassword(ctx context.Context, plainToken, newPassword string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service       AuthServiceInterface
	verifications EmailVerificationServiceInterface
	resets        PasswordResetServiceInterface
	csrfStore     *security.CSRFTokenStore
	tokens        middleware.TokenValidator
	ipConfig      *pkghttp.IPConfig
	cookieConfig  auth.CookieConfig
	refreshMaxAge int // seconds
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	service AuthServiceInterface,
	verifications EmailVerificationServiceInterface,
	resets PasswordResetServiceInterface,
	csrfStore *security.CSRFTokenStore,
	tokens middleware.TokenValidator,
	ipConfig *pkghttp.IPConfig,
	cookieConfig auth.CookieConfig,
	refreshMaxAge int,
) *AuthHandler {
	return &AuthHandler{
		service:       service,
		verifications: verifications,
		resets:        resets,
		csrfStore:     csrfStore,
		tokens:        tokens,
		ipConfig:      ipConfig,
		cookieConfig:  cookieConfig,
		refreshMaxAge: refreshMaxAge,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"required,min=1,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// MFAVerifyRequest carries the TOTP code for the second login step
type MFAVerifyRequest struct {
	MFAToken string `json:"mfa_token" validate:"required"`
	Code     string `json:"code" validate:"required,len=6"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RequestPasswordResetRequest represents the request body for a reset request
type RequestPasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// ResendVerificationRequest represents the request body for resending verification email
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Register handles user registration. The response is identical whether the
// address was new or already registered.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	accepted := func() {
		pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
			"message": "Registration received. If the email is not already registered, you will receive a confirmation email.",
		})
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		// Duplicate email gets the same response as a fresh registration
		if errors.Is(err, models.ErrConflict) {
			accepted()
			return
		}
		var passwordErr *pkgauth.PasswordValidationError
		if errors.As(err, &passwordErr) || strings.Contains(err.Error(), "required") {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if h.verifications != nil {
		// A failed send is recoverable via resend-verification
		_ = h.verifications.SendVerificationEmail(r.Context(), user.ID, user.Email)
	}

	accepted()
}

// Login handles user login. A locked account answers 429 even for the
// correct password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	result, err := h.service.Login(r.Context(), req.Email, req.Password, ipAddress)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	if result.MFARequired {
		pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
			"mfa_required": true,
			"mfa_token":    result.MFAToken,
		})
		return
	}

	h.writeAuthResponse(w, r, result.Auth)
}

// VerifyMFA completes a login that required a TOTP code
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req MFAVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	authResp, err := h.service.VerifyMFA(r.Context(), req.MFAToken, req.Code, ipAddress)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.writeAuthResponse(w, r, authResp)
}

// RefreshToken handles token refresh. The token comes from the request body
// or, preferably, the httpOnly refresh cookie.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	refreshToken := req.RefreshToken
	if refreshToken == "" {
		if cookie, err := r.Cookie("refresh_token"); err == nil {
			refreshToken = cookie.Value
		}
	}
	if refreshToken == "" {
		pkghttp.WriteUnauthorized(w, "Authentication failed")
		return
	}

	authResp, err := h.service.RefreshToken(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.writeAuthResponse(w, r, authResp)
}

// Logout revokes the caller's tokens and clears the refresh cookie
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	accessToken, ok := auth.BearerToken(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var refreshToken string
	if cookie, err := r.Cookie("refresh_token"); err == nil {
		refreshToken = cookie.Value
	}

	if err := h.service.Logout(r.Context(), accessToken, refreshToken); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if h.csrfStore != nil {
		h.csrfStore.Invalidate(claims.UserID)
	}
	auth.ClearRefreshTokenCookie(w, h.cookieConfig)

	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordReset handles a password reset request. Account existence
// is never revealed; only the hourly cap surfaces as an error.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req RequestPasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)

	if err := h.resets.RequestReset(r.Context(), req.Email, ipAddress); err != nil {
		var rateErr *services.ResetRateLimitError
		if errors.As(err, &rateErr) {
			pkghttp.WriteTooManyRequests(w,
				fmt.Sprintf("Too many reset requests. Please try again in %d minutes.", rateErr.RetryAfterMinutes),
				rateErr.RetryAfterMinutes)
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "If an account exists with this email, a reset link will be sent.",
	})
}

// ResetPassword completes a password reset with an emailed token
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.resets.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid or expired reset token")
		case strings.Contains(err.Error(), "invalid password"):
			pkghttp.WriteBadRequest(w, err.Error())
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully. Please log in with your new password.",
	})
}

// VerifyEmail handles email verification with a token
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	userID, err := h.verifications.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Invalid or expired verification token")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully. Please log in.",
		"user_id": userID,
	})
}

// ResendVerification handles resending of verification email. Always 202.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	_ = h.verifications.ResendVerification(r.Context(), req.Email)

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If an account exists with this email, a verification email will be sent.",
	})
}

// CSRFToken issues a token bound to the caller's session key. Each call
// replaces any previously issued token for that key.
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	sessionKey := middleware.SessionKey(r, h.tokens, h.ipConfig)

	token, err := h.csrfStore.Generate(sessionKey)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.SetCSRFTokenCookie(w, token, 3600, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"csrfToken": token,
	})
}

// writeAuthResponse sets the refresh cookie and sends the token payload
func (h *AuthHandler) writeAuthResponse(w http.ResponseWriter, r *http.Request, authResp *services.AuthResponse) {
	auth.SetRefreshTokenCookie(w, authResp.RefreshToken, h.refreshMaxAge, h.cookieConfig)

	// Rotate the CSRF token to the authenticated session key
	if h.csrfStore != nil {
		if token, err := h.csrfStore.Generate(authResp.User.ID); err == nil {
			auth.SetCSRFTokenCookie(w, token, 3600, h.cookieConfig)
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	var lockErr *services.LockoutError
	switch {
	case errors.As(err, &lockErr):
		pkghttp.WriteTooManyRequests(w,
			fmt.Sprintf("Account temporarily locked. Please try again in %d minutes.", lockErr.RetryAfterMinutes),
			lockErr.RetryAfterMinutes)
	case errors.Is(err, models.ErrEmailNotVerified):
		pkghttp.WriteForbidden(w, "Please verify your email address before logging in")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
