//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovenbird/bakehouse/internal/models"
	"github.com/ovenbird/bakehouse/internal/repositories"
)

func TestUserRepository_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer testDB.Teardown(ctx)

	repo := repositories.NewUserRepository(testDB.DB)

	t.Run("create and fetch by email is case-insensitive", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		created, err := repo.Create(ctx, &models.User{
			Email:        "Marta@Bakehouse.Example",
			PasswordHash: "$2a$12$fakehashforintegration",
			FirstName:    "Marta",
			LastName:     "Kowalska",
		})
		require.NoError(t, err)
		assert.Equal(t, "marta@bakehouse.example", created.Email)
		assert.Equal(t, "customer", created.Role)
		assert.False(t, created.EmailVerified)

		fetched, err := repo.GetByEmail(ctx, "MARTA@bakehouse.example")
		require.NoError(t, err)
		assert.Equal(t, created.ID, fetched.ID)
		assert.Equal(t, "$2a$12$fakehashforintegration", fetched.PasswordHash)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		_, err := repo.Create(ctx, &models.User{Email: "dup@bakehouse.example", PasswordHash: "x", FirstName: "A"})
		require.NoError(t, err)

		_, err = repo.Create(ctx, &models.User{Email: "DUP@bakehouse.example", PasswordHash: "y", FirstName: "B"})
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("update password records change time", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		user, err := SeedUser(ctx, testDB.Pool, "reset@bakehouse.example", "OldPassword123", true)
		require.NoError(t, err)

		before := time.Now().Add(-time.Second)
		require.NoError(t, repo.UpdatePassword(ctx, user.ID, "$2a$12$newhash"))

		updated, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "$2a$12$newhash", updated.PasswordHash)
		require.NotNil(t, updated.PasswordChangedAt)
		assert.True(t, updated.PasswordChangedAt.After(before))
	})

	t.Run("link google account verifies email", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		user, err := SeedUser(ctx, testDB.Pool, "oauth@bakehouse.example", "Password12345", false)
		require.NoError(t, err)

		require.NoError(t, repo.LinkGoogleAccount(ctx, user.ID, "google-sub-123"))

		linked, err := repo.GetByGoogleID(ctx, "google-sub-123")
		require.NoError(t, err)
		assert.Equal(t, user.ID, linked.ID)
		assert.True(t, linked.EmailVerified)
	})

	t.Run("totp secret stored and enabled separately", func(t *testing.T) {
		require.NoError(t, testDB.CleanupTables(ctx))

		user, err := SeedUser(ctx, testDB.Pool, "mfa@bakehouse.example", "Password12345", true)
		require.NoError(t, err)

		secret := []byte("encrypted-secret")
		nonce := []byte("nonce-bytes")
		require.NoError(t, repo.SetTOTPSecret(ctx, user.ID, secret, nonce))

		pending, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, secret, pending.TOTPSecret)
		assert.False(t, pending.TOTPEnabled)

		require.NoError(t, repo.SetTOTPEnabled(ctx, user.ID, true))
		enabled, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, enabled.TOTPEnabled)
	})

	t.Run("missing user maps to not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestPasswordResetRepository_SingleUse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer testDB.Teardown(ctx)

	users := repositories.NewUserRepository(testDB.DB)
	resets := repositories.NewPasswordResetRepository(testDB.DB)

	user, err := users.Create(ctx, &models.User{Email: "single@bakehouse.example", PasswordHash: "x", FirstName: "S"})
	require.NoError(t, err)

	token, err := resets.Create(ctx, user.ID, "somehash", time.Now().Add(30*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, token.UsedAt)

	// First use wins, second reports not found
	require.NoError(t, resets.MarkAsUsed(ctx, token.ID))
	assert.ErrorIs(t, resets.MarkAsUsed(ctx, token.ID), models.ErrNotFound)
}
