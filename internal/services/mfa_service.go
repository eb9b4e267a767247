package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/models"
	pkgauth "github.com/ovenbird/bakehouse/pkg/auth"
	pkglogger "github.com/ovenbird/bakehouse/pkg/logger"
)

// MFAService handles TOTP enrollment and activation
type MFAService struct {
	users       UserRepository
	totp        *auth.TOTPManager
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewMFAService creates a new MFAService
func NewMFAService(users UserRepository, totp *auth.TOTPManager, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *MFAService {
	return &MFAService{
		users:       users,
		totp:        totp,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// EnrollmentResponse carries what the authenticator app needs
type EnrollmentResponse struct {
	Secret    string `json:"secret"`
	QRCodeURL string `json:"qr_code_url"`
}

// Enroll generates a TOTP secret for the user and returns the provisioning
// material. MFA is not enabled until the user proves possession via Activate.
func (s *MFAService) Enroll(ctx context.Context, userID string) (*EnrollmentResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user for mfa enrollment", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.TOTPEnabled {
		return nil, models.ErrConflict
	}

	encrypted, nonce, plainSecret, qrDataURL, err := s.totp.GenerateEnrollment(user.Email)
	if err != nil {
		s.logger.Error("failed to generate totp enrollment", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.users.SetTOTPSecret(ctx, userID, encrypted, nonce); err != nil {
		s.logger.Error("failed to store totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("mfa enrollment started", slog.String("user_id", userID))

	return &EnrollmentResponse{
		Secret:    plainSecret,
		QRCodeURL: qrDataURL,
	}, nil
}

// Activate enables MFA after the user submits a valid code from their
// authenticator app.
func (s *MFAService) Activate(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.ErrUnauthorized
	}

	if user.TOTPEnabled {
		return models.ErrConflict
	}
	if len(user.TOTPSecret) == 0 {
		return models.ErrBadRequest
	}

	valid, err := s.totp.Validate(user.TOTPSecret, user.TOTPNonce, code)
	if err != nil {
		s.logger.Error("totp validation error during activation", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !valid {
		return models.ErrUnauthorized
	}

	if err := s.users.SetTOTPEnabled(ctx, userID, true); err != nil {
		s.logger.Error("failed to enable mfa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("mfa enabled", slog.String("user_id", userID))
	s.auditLogger.LogSecurityEvent("mfa_enabled", userID, "", nil)

	return nil
}

// Disable turns MFA off. The current password is required so a stolen
// session alone cannot weaken the account.
func (s *MFAService) Disable(ctx context.Context, userID, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.ErrUnauthorized
	}

	if !user.TOTPEnabled {
		return models.ErrBadRequest
	}

	if user.PasswordHash == "" || pkgauth.ComparePassword(user.PasswordHash, password) != nil {
		return models.ErrUnauthorized
	}

	if err := s.users.SetTOTPEnabled(ctx, userID, false); err != nil {
		s.logger.Error("failed to disable mfa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if err := s.users.SetTOTPSecret(ctx, userID, nil, nil); err != nil {
		s.logger.Error("failed to clear totp secret", slog.String("user_id", userID), slog.Any("error", err))
	}

	s.logger.Info("mfa disabled", slog.String("user_id", userID))
	s.auditLogger.LogSecurityEvent("mfa_disabled", userID, "", nil)

	return nil
}
