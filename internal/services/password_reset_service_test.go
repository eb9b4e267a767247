package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ovenbird/bakehouse/internal/models"
	"github.com/ovenbird/bakehouse/internal/security"
	pkglogger "github.com/ovenbird/bakehouse/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResetService(t *testing.T, tokens PasswordResetRepository, users UserRepository) (*PasswordResetService, *MockEmailService) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := security.NewPasswordResetTracker(security.DefaultPasswordResetConfig())
	email := &MockEmailService{}

	service := NewPasswordResetService(tokens, users, tracker, email,
		logger, pkglogger.NewAuditLogger(logger), nil, 30*time.Minute)
	return service, email
}

func TestPasswordResetService_RequestReset_SendsEmailForKnownAccount(t *testing.T) {
	user := NewTestUser("user-1", "marta@bakehouse.example", "Marta")
	service, email := newResetService(t, &MockPasswordResetRepository{}, userRepoWith(user))

	err := service.RequestReset(context.Background(), user.Email, "203.0.113.9")

	require.NoError(t, err)
	assert.Equal(t, []string{user.Email}, email.SentResets)
}

func TestPasswordResetService_RequestReset_UniformForUnknownAccount(t *testing.T) {
	service, email := newResetService(t, &MockPasswordResetRepository{}, userRepoWith(nil))

	err := service.RequestReset(context.Background(), "nobody@bakehouse.example", "203.0.113.9")

	require.NoError(t, err)
	assert.Empty(t, email.SentResets)
}

func TestPasswordResetService_RequestReset_HourlyCap(t *testing.T) {
	service, _ := newResetService(t, &MockPasswordResetRepository{}, userRepoWith(nil))

	for i := 0; i < 3; i++ {
		require.NoError(t, service.RequestReset(context.Background(), "any@bakehouse.example", "203.0.113.9"))
	}

	err := service.RequestReset(context.Background(), "any@bakehouse.example", "203.0.113.9")

	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
	var rateErr *ResetRateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Greater(t, rateErr.RetryAfterMinutes, 0)
}

func TestPasswordResetService_RequestReset_CapCountsUnknownAccounts(t *testing.T) {
	// Probing a nonexistent email burns requests exactly like a real one
	service, _ := newResetService(t, &MockPasswordResetRepository{}, userRepoWith(nil))

	for i := 0; i < 3; i++ {
		require.NoError(t, service.RequestReset(context.Background(), "ghost@bakehouse.example", "203.0.113.9"))
	}

	err := service.RequestReset(context.Background(), "ghost@bakehouse.example", "203.0.113.9")
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
}

func TestPasswordResetService_ResetPassword_HappyPath(t *testing.T) {
	user := NewTestUser("user-1", "marta@bakehouse.example", "Marta")

	plain, hash, err := generateToken()
	require.NoError(t, err)

	markedUsed := false
	invalidated := false
	var newHash string

	tokens := &MockPasswordResetRepository{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
			if tokenHash == hash {
				return &models.PasswordResetToken{
					ID:        "reset-1",
					UserID:    user.ID,
					TokenHash: hash,
					ExpiresAt: time.Now().Add(30 * time.Minute),
				}, nil
			}
			return nil, models.ErrNotFound
		},
		MarkAsUsedFunc: func(ctx context.Context, id string) error {
			markedUsed = true
			return nil
		},
		InvalidateByUserIDFunc: func(ctx context.Context, userID string) error {
			invalidated = true
			return nil
		},
	}
	users := userRepoWith(user)
	users.UpdatePasswordFunc = func(ctx context.Context, id, passwordHash string) error {
		newHash = passwordHash
		return nil
	}

	service, _ := newResetService(t, tokens, users)

	err = service.ResetPassword(context.Background(), plain, "FreshPassword42")

	require.NoError(t, err)
	assert.True(t, markedUsed)
	assert.True(t, invalidated)
	assert.NotEmpty(t, newHash)
	assert.NotEqual(t, "FreshPassword42", newHash)
}

func TestPasswordResetService_ResetPassword_ExpiredToken(t *testing.T) {
	plain, hash, err := generateToken()
	require.NoError(t, err)

	tokens := &MockPasswordResetRepository{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
			return &models.PasswordResetToken{
				ID:        "reset-1",
				UserID:    "user-1",
				TokenHash: hash,
				ExpiresAt: time.Now().Add(-time.Minute),
			}, nil
		},
	}
	service, _ := newResetService(t, tokens, userRepoWith(nil))

	err = service.ResetPassword(context.Background(), plain, "FreshPassword42")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestPasswordResetService_ResetPassword_UsedToken(t *testing.T) {
	plain, hash, err := generateToken()
	require.NoError(t, err)
	usedAt := time.Now().Add(-time.Minute)

	tokens := &MockPasswordResetRepository{
		GetByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
			return &models.PasswordResetToken{
				ID:        "reset-1",
				UserID:    "user-1",
				TokenHash: hash,
				ExpiresAt: time.Now().Add(30 * time.Minute),
				UsedAt:    &usedAt,
			}, nil
		},
	}
	service, _ := newResetService(t, tokens, userRepoWith(nil))

	err = service.ResetPassword(context.Background(), plain, "FreshPassword42")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestPasswordResetService_ResetPassword_UnknownToken(t *testing.T) {
	service, _ := newResetService(t, &MockPasswordResetRepository{}, userRepoWith(nil))

	err := service.ResetPassword(context.Background(), "bogus-token", "FreshPassword42")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
