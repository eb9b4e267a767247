package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/background"
	"github.com/ovenbird/bakehouse/internal/config"
	"github.com/ovenbird/bakehouse/internal/database"
	"github.com/ovenbird/bakehouse/internal/handlers"
	"github.com/ovenbird/bakehouse/internal/metrics"
	"github.com/ovenbird/bakehouse/internal/repositories"
	"github.com/ovenbird/bakehouse/internal/routes"
	"github.com/ovenbird/bakehouse/internal/security"
	"github.com/ovenbird/bakehouse/internal/services"
	pkghttp "github.com/ovenbird/bakehouse/pkg/http"
	pkglogger "github.com/ovenbird/bakehouse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	verificationRepo := repositories.NewEmailVerificationRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)
	productRepo := repositories.NewProductRepository(db)

	// In-memory security trackers
	loginAttempts := security.NewLoginAttemptTracker(security.LoginAttemptConfig{
		MaxAttempts:   cfg.Security.MaxLoginAttempts,
		AttemptWindow: cfg.Security.LoginAttemptWindow,
		LockDuration:  cfg.Security.LockoutDuration,
		StaleAfter:    1 * time.Hour,
	})
	resetRequests := security.NewPasswordResetTracker(security.PasswordResetConfig{
		MaxRequests: cfg.Security.MaxResetRequests,
		Window:      cfg.Security.ResetRequestWindow,
	})
	rateLimiter := security.NewRateLimiter(security.RateLimiterConfig{
		MaxRequests: cfg.Security.RateLimitMax,
		Window:      cfg.Security.RateLimitWindow,
	})
	csrfStore := security.NewCSRFTokenStore()
	blacklist := security.NewTokenBlacklist()

	m := metrics.New()
	auditLogger := pkglogger.NewAuditLogger(logger)

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.MFATokenExpiry,
	)

	// TOTP is optional: without an encryption key, MFA endpoints are not mounted
	var totpManager *auth.TOTPManager
	if key := cfg.Auth.TOTPEncryptionKey; key != "" {
		totpManager, err = auth.NewTOTPManager([]byte(key), "Bakehouse")
		if err != nil {
			logger.Error("failed to initialize totp manager", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("TOTP_ENCRYPTION_KEY not set, MFA disabled")
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandMs,
	})

	emailService, err := services.NewAWSSESEmailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Server.BaseURL,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Services
	authService := services.NewAuthService(
		userRepo, tokenManager, totpManager,
		loginAttempts, blacklist, timingDelay,
		logger, auditLogger, m,
	)
	verificationService := services.NewEmailVerificationService(
		verificationRepo, userRepo, emailService, logger,
		time.Duration(cfg.Email.TokenExpiryHours)*time.Hour,
	)
	resetService := services.NewPasswordResetService(
		resetRepo, userRepo, resetRequests, emailService,
		logger, auditLogger, m,
		30*time.Minute,
	)
	userService := services.NewUserService(userRepo, logger)
	productService := services.NewProductService(productRepo, logger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookieConfig := auth.CookieConfig{
		Secure:   cfg.Server.Env == "production",
		SameSite: "lax",
	}
	refreshMaxAge := int(cfg.Auth.RefreshTokenExpiry.Seconds())

	// Handlers
	authHandler := handlers.NewAuthHandler(
		authService, verificationService, resetService,
		csrfStore, tokenManager, ipConfig, cookieConfig, refreshMaxAge,
	)
	userHandler := handlers.NewUserHandler(userService)
	productHandler := handlers.NewProductHandler(productService)

	var mfaHandler *handlers.MFAHandler
	if totpManager != nil {
		mfaService := services.NewMFAService(userRepo, totpManager, logger, auditLogger)
		mfaHandler = handlers.NewMFAHandler(mfaService)
	}

	var oauthHandler *handlers.OAuthHandler
	if cfg.OAuth.GoogleClientID != "" {
		oauthService := services.NewOAuthService(
			userRepo, tokenManager,
			cfg.OAuth.GoogleClientID, cfg.OAuth.GoogleClientSecret, cfg.OAuth.GoogleRedirectURL,
			logger, auditLogger,
		)
		oauthHandler = handlers.NewOAuthHandler(oauthService, csrfStore, cookieConfig, refreshMaxAge)
	}

	// Periodic sweeps keep the in-memory trackers and token tables bounded
	cleanupManager := background.NewCleanupManager(logger, cfg.Security.CleanupInterval,
		background.TrackerSweeper("login_attempts", loginAttempts.Sweep),
		background.TrackerSweeper("reset_requests", resetRequests.Sweep),
		background.TrackerSweeper("rate_limiter", rateLimiter.Sweep),
		background.TrackerSweeper("csrf_tokens", csrfStore.Sweep),
		background.TrackerSweeper("token_blacklist", blacklist.Sweep),
		background.SweeperFunc{SweepName: "verification_tokens", Fn: verificationRepo.CleanupExpired},
		background.SweeperFunc{SweepName: "reset_tokens", Fn: resetRepo.CleanupExpired},
	)

	router := routes.New(routes.Dependencies{
		Logger:       logger,
		Metrics:      m,
		TokenManager: tokenManager,
		Blacklist:    blacklist,
		RateLimiter:  rateLimiter,
		CSRFStore:    csrfStore,
		IPConfig:     ipConfig,

		AuthHandler:    authHandler,
		MFAHandler:     mfaHandler,
		OAuthHandler:   oauthHandler,
		UserHandler:    userHandler,
		ProductHandler: productHandler,

		UserRepo:           userRepo,
		Env:                cfg.Server.Env,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		AuthBurstPerMinute: cfg.Security.AuthBurstPerMinute,

		HealthCheck: db.HealthCheck,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go cleanupManager.Start(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", slog.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	cleanupManager.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
