package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/models"
	pkglogger "github.com/ovenbird/bakehouse/pkg/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// googleUserInfo is the subset of the userinfo response we consume
type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

// OAuthService handles Google sign-in
type OAuthService struct {
	users       UserRepository
	tm          *auth.TokenManager
	config      *oauth2.Config
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewOAuthService creates a new OAuthService
func NewOAuthService(users UserRepository, tm *auth.TokenManager, clientID, clientSecret, redirectURL string, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *OAuthService {
	return &OAuthService{
		users: users,
		tm:    tm,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Enabled reports whether Google sign-in is configured.
func (s *OAuthService) Enabled() bool {
	return s.config.ClientID != "" && s.config.ClientSecret != ""
}

// GenerateState returns a random state parameter for the OAuth round trip.
func (s *OAuthService) GenerateState() (string, error) {
	stateBytes := make([]byte, 24)
	if _, err := rand.Read(stateBytes); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(stateBytes), nil
}

// AuthURL returns the Google consent page URL for a state value.
func (s *OAuthService) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// HandleCallback exchanges the authorization code, fetches the Google
// profile, and signs the user in, creating or linking the local account.
func (s *OAuthService) HandleCallback(ctx context.Context, code string) (*AuthResponse, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		s.logger.Info("oauth code exchange failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	info, err := s.fetchUserInfo(ctx, token)
	if err != nil {
		s.logger.Error("failed to fetch google user info", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !info.VerifiedEmail {
		s.logger.Info("google account email not verified", slog.String("google_id", info.ID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.findOrCreateUser(ctx, info)
	if err != nil {
		return nil, err
	}

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

	s.logger.Info("user logged in via google", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		Success:   true,
		Metadata:  map[string]string{"provider": "google"},
	})

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(user),
	}, nil
}

func (s *OAuthService) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	client := s.config.Client(ctx, token)
	resp, err := client.Get(googleUserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("userinfo request returned status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	if info.ID == "" || info.Email == "" {
		return nil, fmt.Errorf("userinfo response missing id or email")
	}

	return &info, nil
}

// findOrCreateUser resolves the Google profile to a local account: by
// provider ID first, then by email (linking), creating a new account last.
func (s *OAuthService) findOrCreateUser(ctx context.Context, info *googleUserInfo) (*models.User, error) {
	user, err := s.users.GetByGoogleID(ctx, info.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up user by google id", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err = s.users.GetByEmail(ctx, info.Email)
	if err == nil {
		if err := s.users.LinkGoogleAccount(ctx, user.ID, info.ID); err != nil {
			s.logger.Error("failed to link google account", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		user.GoogleID = info.ID
		user.EmailVerified = true
		s.logger.Info("google account linked", slog.String("user_id", user.ID))
		return user, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	created, err := s.users.Create(ctx, &models.User{
		Email:         info.Email,
		FirstName:     info.GivenName,
		LastName:      info.FamilyName,
		EmailVerified: true, // Google already verified the address
		Role:          "customer",
		GoogleID:      info.ID,
	})
	if err != nil {
		s.logger.Error("failed to create user from google profile", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user created via google", slog.String("user_id", created.ID))
	return created, nil
}
