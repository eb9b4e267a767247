package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/models"
	"github.com/ovenbird/bakehouse/internal/security"
	pkgauth "github.com/ovenbird/bakehouse/pkg/auth"
	pkglogger "github.com/ovenbird/bakehouse/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "CorrectHorse7Battery"

type authFixture struct {
	service   *AuthService
	attempts  *security.LoginAttemptTracker
	blacklist *security.TokenBlacklist
	tm        *auth.TokenManager
}

func newAuthFixture(t *testing.T, users UserRepository) *authFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	attempts := security.NewLoginAttemptTracker(security.DefaultLoginAttemptConfig())
	blacklist := security.NewTokenBlacklist()
	tm := auth.NewTokenManager("auth-service-test-secret", 15*time.Minute, 7*24*time.Hour, 5*time.Minute)
	timing := auth.NewTimingDelay(auth.TimingConfig{})

	service := NewAuthService(users, tm, nil, attempts, blacklist, timing,
		logger, pkglogger.NewAuditLogger(logger), nil)

	return &authFixture{service: service, attempts: attempts, blacklist: blacklist, tm: tm}
}

func hashedTestUser(t *testing.T) *models.User {
	t.Helper()
	hash, err := pkgauth.HashPassword(testPassword)
	require.NoError(t, err)
	return NewTestUserWithPassword("user-1", "marta@bakehouse.example", "Marta", hash)
}

func userRepoWith(user *models.User) *MockUserRepository {
	return &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			if user != nil && email == user.Email {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			if user != nil && id == user.ID {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
	}
}

func TestAuthService_Login_Success(t *testing.T) {
	user := hashedTestUser(t)
	f := newAuthFixture(t, userRepoWith(user))

	result, err := f.service.Login(context.Background(), user.Email, testPassword, "203.0.113.9")

	require.NoError(t, err)
	require.NotNil(t, result.Auth)
	assert.False(t, result.MFARequired)
	assert.NotEmpty(t, result.Auth.AccessToken)
	assert.NotEmpty(t, result.Auth.RefreshToken)
	assert.Equal(t, user.ID, result.Auth.User.ID)
}

func TestAuthService_Login_WrongPasswordRecordsFailure(t *testing.T) {
	user := hashedTestUser(t)
	f := newAuthFixture(t, userRepoWith(user))

	_, err := f.service.Login(context.Background(), user.Email, "WrongPassword1", "203.0.113.9")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// Four more wrong passwords trigger the lockout
	for i := 0; i < 4; i++ {
		_, err = f.service.Login(context.Background(), user.Email, "WrongPassword1", "203.0.113.9")
	}
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.True(t, f.attempts.Status(user.Email).Locked)
}

func TestAuthService_Login_LockedRejectsCorrectPassword(t *testing.T) {
	user := hashedTestUser(t)
	f := newAuthFixture(t, userRepoWith(user))

	for i := 0; i < 5; i++ {
		_, _ = f.service.Login(context.Background(), user.Email, "WrongPassword1", "203.0.113.9")
	}

	_, err := f.service.Login(context.Background(), user.Email, testPassword, "203.0.113.9")

	assert.ErrorIs(t, err, models.ErrAccountLocked)
	var lockErr *LockoutError
	require.ErrorAs(t, err, &lockErr)
	assert.Greater(t, lockErr.RetryAfterMinutes, 0)
}

func TestAuthService_Login_SuccessClearsFailureCount(t *testing.T) {
	user := hashedTestUser(t)
	f := newAuthFixture(t, userRepoWith(user))

	for i := 0; i < 4; i++ {
		_, _ = f.service.Login(context.Background(), user.Email, "WrongPassword1", "203.0.113.9")
	}

	_, err := f.service.Login(context.Background(), user.Email, testPassword, "203.0.113.9")
	require.NoError(t, err)

	// Counter restarted: one more failure is attempt #1, not #5
	result := f.attempts.RecordFailure(user.Email)
	assert.False(t, result.Locked)
	assert.Equal(t, 4, result.AttemptsLeft)
}

func TestAuthService_Login_UnknownEmailBurnsAttempt(t *testing.T) {
	f := newAuthFixture(t, userRepoWith(nil))

	_, err := f.service.Login(context.Background(), "nobody@bakehouse.example", "Whatever123", "203.0.113.9")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	result := f.attempts.RecordFailure("nobody@bakehouse.example")
	assert.Equal(t, 3, result.AttemptsLeft)
}

func TestAuthService_Login_UnverifiedEmailBlocked(t *testing.T) {
	user := hashedTestUser(t)
	user.EmailVerified = false
	f := newAuthFixture(t, userRepoWith(user))

	_, err := f.service.Login(context.Background(), user.Email, testPassword, "203.0.113.9")

	assert.ErrorIs(t, err, models.ErrEmailNotVerified)
	// A correct password with an unverified email is not a failed attempt
	assert.False(t, f.attempts.Status(user.Email).Locked)
}

func TestAuthService_Login_MFAEnabledReturnsChallenge(t *testing.T) {
	user := hashedTestUser(t)
	user.TOTPEnabled = true
	f := newAuthFixture(t, userRepoWith(user))

	result, err := f.service.Login(context.Background(), user.Email, testPassword, "203.0.113.9")

	require.NoError(t, err)
	assert.True(t, result.MFARequired)
	assert.Nil(t, result.Auth)

	claims, err := f.tm.ValidateToken(result.MFAToken)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeMFA, claims.Type)
}

func TestAuthService_RefreshToken_RoundTrip(t *testing.T) {
	user := hashedTestUser(t)
	f := newAuthFixture(t, userRepoWith(user))

	result, err := f.service.Login(context.Background(), user.Email, testPassword, "203.0.113.9")
	require.NoError(t, err)

	refreshed, err := f.service.RefreshToken(context.Background(), result.Auth.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)
	assert.NotEmpty(t, refreshed.RefreshToken)
}

func TestAuthService_RefreshToken_AccessTokenRejected(t *testing.T) {
	user := hashedTestUser(t)
	f := newAuthFixture(t, userRepoWith(user))

	accessToken, err := f.tm.GenerateAccessToken(user.ID, user.Email)
	require.NoError(t, err)

	_, err = f.service.RefreshToken(context.Background(), accessToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthService_Logout_BlacklistsTokens(t *testing.T) {
	user := hashedTestUser(t)
	f := newAuthFixture(t, userRepoWith(user))

	result, err := f.service.Login(context.Background(), user.Email, testPassword, "203.0.113.9")
	require.NoError(t, err)

	err = f.service.Logout(context.Background(), result.Auth.AccessToken, result.Auth.RefreshToken)
	require.NoError(t, err)

	assert.True(t, f.blacklist.IsBlacklisted(result.Auth.AccessToken))
	assert.True(t, f.blacklist.IsBlacklisted(result.Auth.RefreshToken))

	// The blacklisted refresh token can no longer mint new tokens
	_, err = f.service.RefreshToken(context.Background(), result.Auth.RefreshToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	user := hashedTestUser(t)
	f := newAuthFixture(t, userRepoWith(user))

	_, err := f.service.Register(context.Background(), user.Email, testPassword, "Marta", "")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestAuthService_Register_WeakPasswordRejected(t *testing.T) {
	f := newAuthFixture(t, userRepoWith(nil))

	_, err := f.service.Register(context.Background(), "new@bakehouse.example", "short", "Pat", "")
	require.Error(t, err)
	var validationErr *pkgauth.PasswordValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestAuthService_Register_Success(t *testing.T) {
	repo := userRepoWith(nil)
	repo.CreateFunc = func(ctx context.Context, user *models.User) (*models.User, error) {
		user.ID = "user-new"
		user.CreatedAt = time.Now()
		user.UpdatedAt = time.Now()
		return user, nil
	}
	f := newAuthFixture(t, repo)

	user, err := f.service.Register(context.Background(), "New@Bakehouse.Example", testPassword, "Pat", "Crumb")

	require.NoError(t, err)
	assert.Equal(t, "new@bakehouse.example", user.Email)
	assert.Equal(t, "customer", user.Role)
	assert.False(t, user.EmailVerified)
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotEqual(t, testPassword, user.PasswordHash)
}
