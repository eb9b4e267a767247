package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/metrics"
	"github.com/ovenbird/bakehouse/internal/models"
	"github.com/ovenbird/bakehouse/internal/security"
	pkgauth "github.com/ovenbird/bakehouse/pkg/auth"
	pkglogger "github.com/ovenbird/bakehouse/pkg/logger"
)

// LockoutError reports that an account is temporarily locked and when the
// caller may try again. Unwraps to models.ErrAccountLocked.
type LockoutError struct {
	RetryAfterMinutes int
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account is temporarily locked, try again in %d minutes", e.RetryAfterMinutes)
}

func (e *LockoutError) Unwrap() error {
	return models.ErrAccountLocked
}

// AuthService handles authentication business logic
type AuthService struct {
	users       UserRepository
	tm          *auth.TokenManager
	totp        *auth.TOTPManager
	attempts    *security.LoginAttemptTracker
	blacklist   *security.TokenBlacklist
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metrics     *metrics.Metrics
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserRepository,
	tm *auth.TokenManager,
	totp *auth.TOTPManager,
	attempts *security.LoginAttemptTracker,
	blacklist *security.TokenBlacklist,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
) *AuthService {
	return &AuthService{
		users:       users,
		tm:          tm,
		totp:        totp,
		attempts:    attempts,
		blacklist:   blacklist,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
		metrics:     m,
	}
}

// UserResponse represents a user in HTTP responses
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role"`
	MFAEnabled    bool   `json:"mfa_enabled"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

// LoginResult is either a completed login or a pending MFA challenge.
type LoginResult struct {
	MFARequired bool
	MFAToken    string
	Auth        *AuthResponse
}

// Register creates a new user account. No tokens are issued: login requires
// a verified email address, so the caller sends the verification email next.
func (s *AuthService) Register(ctx context.Context, email, password, firstName, lastName string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)

	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if firstName == "" {
		return nil, fmt.Errorf("first name is required")
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: user already exists")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if user exists", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	user := &models.User{
		Email:             email,
		PasswordHash:      hashedPassword,
		FirstName:         firstName,
		LastName:          lastName,
		Role:              "customer",
		PasswordChangedAt: &now,
	}

	createdUser, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", createdUser.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "user_registered",
		UserID:    createdUser.ID,
		Success:   true,
	})

	return createdUser, nil
}

// Login authenticates a user. The lockout check happens before credential
// verification, so a locked account rejects even the correct password.
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		s.timing.Wait()
		return nil, models.ErrUnauthorized
	}

	if status := s.attempts.Status(email); status.Locked {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			IPAddress:     ipAddress,
			FailureReason: "account_locked",
			Success:       false,
		})
		return nil, &LockoutError{RetryAfterMinutes: status.RemainingMinutes}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Unknown accounts burn attempts too, so probing an email
			// behaves exactly like guessing a wrong password.
			s.recordFailure(email, "", ipAddress)
			s.timing.Wait()
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.PasswordHash == "" {
		// OAuth-only account: no password to verify
		s.recordFailure(email, user.ID, ipAddress)
		s.timing.Wait()
		return nil, models.ErrUnauthorized
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.recordFailure(email, user.ID, ipAddress)
		s.timing.Wait()
		return nil, models.ErrUnauthorized
	}

	if !user.EmailVerified {
		s.logger.Info("login blocked: email not verified", slog.String("user_id", user.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     ipAddress,
			FailureReason: "email_not_verified",
			Success:       false,
		})
		return nil, models.ErrEmailNotVerified
	}

	s.attempts.Clear(email)

	if user.TOTPEnabled {
		mfaToken, err := s.tm.GenerateMFAToken(user.ID, user.Email)
		if err != nil {
			s.logger.Error("failed to generate mfa token", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		return &LoginResult{MFARequired: true, MFAToken: mfaToken}, nil
	}

	response, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: ipAddress,
		Success:   true,
	})

	return &LoginResult{Auth: response}, nil
}

// VerifyMFA completes a login that required a TOTP code.
func (s *AuthService) VerifyMFA(ctx context.Context, mfaToken, code, ipAddress string) (*AuthResponse, error) {
	claims, err := s.tm.ValidateToken(mfaToken)
	if err != nil || claims.Type != models.TokenTypeMFA {
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	if !user.TOTPEnabled || len(user.TOTPSecret) == 0 {
		return nil, models.ErrUnauthorized
	}

	valid, err := s.totp.Validate(user.TOTPSecret, user.TOTPNonce, code)
	if err != nil {
		s.logger.Error("totp validation error", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !valid {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "mfa_failed",
			UserID:        user.ID,
			IPAddress:     ipAddress,
			FailureReason: "invalid_code",
			Success:       false,
		})
		s.timing.Wait()
		return nil, models.ErrUnauthorized
	}

	response, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in with mfa", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: ipAddress,
		Success:   true,
	})

	return response, nil
}

// RefreshToken generates a new token pair from a refresh token
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	if s.blacklist.IsBlacklisted(refreshTokenString) {
		s.logger.Info("refresh attempt with revoked token")
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if claims.Type != models.TokenTypeRefresh {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Tokens issued before a password change are no longer trusted
	if user.PasswordChangedAt != nil && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.Before(*user.PasswordChangedAt) {
			s.logger.Info("token refresh blocked: issued before password change",
				slog.String("user_id", user.ID))
			return nil, models.ErrUnauthorized
		}
	}

	response, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))
	return response, nil
}

// Logout blacklists the presented access token (and refresh token, when
// provided) until their natural expiry.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.tm.ValidateToken(accessToken)
	if err != nil {
		return models.ErrUnauthorized
	}

	s.revoke(accessToken)
	if refreshToken != "" {
		s.revoke(refreshToken)
	}

	s.logger.Info("user logged out", slog.String("user_id", claims.UserID))
	s.auditLogger.LogSecurityEvent("tokens_revoked", claims.UserID, "", map[string]string{
		"reason": "logout",
	})
	return nil
}

// revoke adds a token to the blacklist using the expiry from its own claims.
// Malformed tokens are ignored: they can never validate anyway.
func (s *AuthService) revoke(token string) {
	expiresAt, err := s.tm.ExtractExpiry(token)
	if err != nil {
		return
	}
	s.blacklist.Add(token, expiresAt)
	if s.metrics != nil {
		s.metrics.TokensBlacklisted.Inc()
	}
}

func (s *AuthService) recordFailure(email, userID, ipAddress string) {
	result := s.attempts.RecordFailure(email)

	if s.metrics != nil {
		s.metrics.LoginFailures.Inc()
	}

	event := pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        userID,
		IPAddress:     ipAddress,
		FailureReason: "invalid_credentials",
		Success:       false,
	}

	if result.Locked {
		if s.metrics != nil {
			s.metrics.LoginLockouts.Inc()
		}
		s.auditLogger.LogSecurityEvent("account_locked", userID, ipAddress, map[string]string{
			"locked_until": result.LockedUntil.UTC().Format(time.RFC3339),
		})
	}

	s.auditLogger.LogAuthAttempt(event)
}

func (s *AuthService) issueTokens(user *models.User) (*AuthResponse, error) {
	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// userModelToResponse converts a user model to its response DTO
func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		EmailVerified: user.EmailVerified,
		Role:          user.Role,
		MFAEnabled:    user.TOTPEnabled,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     user.UpdatedAt.Format(time.RFC3339),
	}
}
