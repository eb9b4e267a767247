package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ovenbird/bakehouse/internal/metrics"
	"github.com/ovenbird/bakehouse/internal/models"
	"github.com/ovenbird/bakehouse/internal/security"
	pkgauth "github.com/ovenbird/bakehouse/pkg/auth"
	pkglogger "github.com/ovenbird/bakehouse/pkg/logger"
)

// PasswordResetRepository defines the interface for password reset token operations
type PasswordResetRepository interface {
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	MarkAsUsed(ctx context.Context, id string) error
	InvalidateByUserID(ctx context.Context, userID string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

// ResetRateLimitError reports that the hourly reset request cap was hit.
// Unwraps to models.ErrRateLimitExceeded.
type ResetRateLimitError struct {
	RetryAfterMinutes int
}

func (e *ResetRateLimitError) Error() string {
	return fmt.Sprintf("too many reset requests, try again in %d minutes", e.RetryAfterMinutes)
}

func (e *ResetRateLimitError) Unwrap() error {
	return models.ErrRateLimitExceeded
}

// PasswordResetService handles password reset business logic
type PasswordResetService struct {
	tokens       PasswordResetRepository
	users        UserRepository
	requests     *security.PasswordResetTracker
	emailService EmailService
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
	metrics      *metrics.Metrics
	tokenExpiry  time.Duration
}

// NewPasswordResetService creates a new PasswordResetService
func NewPasswordResetService(
	tokens PasswordResetRepository,
	users UserRepository,
	requests *security.PasswordResetTracker,
	emailService EmailService,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	m *metrics.Metrics,
	tokenExpiry time.Duration,
) *PasswordResetService {
	return &PasswordResetService{
		tokens:       tokens,
		users:        users,
		requests:     requests,
		emailService: emailService,
		logger:       logger,
		auditLogger:  auditLogger,
		metrics:      m,
		tokenExpiry:  tokenExpiry,
	}
}

// RequestReset handles a password reset request. The hourly cap is consumed
// whether or not the account exists, and a nil return means only that the
// request was accepted, never that an email was actually sent.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, ipAddress string) error {
	decision := s.requests.CanRequest(email)
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.ResetRequestDenials.Inc()
		}
		s.auditLogger.LogSecurityEvent("reset_request_denied", "", ipAddress, map[string]string{
			"retry_after_minutes": fmt.Sprintf("%d", decision.RetryAfterMinutes),
		})
		return &ResetRateLimitError{RetryAfterMinutes: decision.RetryAfterMinutes}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("reset requested for unknown account")
			return nil
		}
		s.logger.Error("failed to look up user for reset", slog.Any("error", err))
		return nil
	}

	plainToken, tokenHash, err := generateToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return nil
	}

	expiresAt := time.Now().Add(s.tokenExpiry)

	if _, err := s.tokens.Create(ctx, user.ID, tokenHash, expiresAt); err != nil {
		s.logger.Error("failed to create reset token",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil
	}

	if err := s.emailService.SendPasswordResetEmail(ctx, user.Email, plainToken, expiresAt); err != nil {
		s.logger.Error("failed to send reset email",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil
	}

	s.logger.Info("password reset email sent", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "reset_requested",
		UserID:    user.ID,
		IPAddress: ipAddress,
		Success:   true,
	})

	return nil
}

// ResetPassword consumes a reset token and sets a new password. Outstanding
// tokens for the user are invalidated afterwards.
func (s *PasswordResetService) ResetPassword(ctx context.Context, plainToken, newPassword string) error {
	if plainToken == "" {
		return models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	token, err := s.tokens.GetByTokenHash(ctx, hashToken(plainToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("reset token not found")
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to retrieve reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !token.IsValid() {
		s.logger.Info("reset token expired or already used", slog.String("token_id", token.ID))
		return models.ErrUnauthorized
	}

	if err := s.tokens.MarkAsUsed(ctx, token.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Lost the race with a concurrent reset using the same token
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to mark reset token as used",
			slog.String("token_id", token.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	hashedPassword, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash new password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.users.UpdatePassword(ctx, token.UserID, hashedPassword); err != nil {
		s.logger.Error("failed to update password",
			slog.String("user_id", token.UserID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.tokens.InvalidateByUserID(ctx, token.UserID); err != nil {
		s.logger.Error("failed to invalidate outstanding reset tokens",
			slog.String("user_id", token.UserID),
			slog.Any("error", err))
	}

	s.logger.Info("password reset completed", slog.String("user_id", token.UserID))
	s.auditLogger.LogSecurityEvent("password_reset", token.UserID, "", nil)

	return nil
}
