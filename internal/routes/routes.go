package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/handlers"
	"github.com/ovenbird/bakehouse/internal/metrics"
	"github.com/ovenbird/bakehouse/internal/middleware"
	"github.com/ovenbird/bakehouse/internal/security"
	pkghttp "github.com/ovenbird/bakehouse/pkg/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies bundles everything the router needs
type Dependencies struct {
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	TokenManager *auth.TokenManager
	Blacklist    *security.TokenBlacklist
	RateLimiter  *security.RateLimiter
	CSRFStore    *security.CSRFTokenStore
	IPConfig     *pkghttp.IPConfig

	AuthHandler    *handlers.AuthHandler
	MFAHandler     *handlers.MFAHandler
	OAuthHandler   *handlers.OAuthHandler
	UserHandler    *handlers.UserHandler
	ProductHandler *handlers.ProductHandler

	UserRepo           auth.UserFetcher
	Env                string
	AllowedOrigins     []string
	AuthBurstPerMinute int

	// HealthCheck reports backing-store health for the /health endpoint
	HealthCheck func(ctx context.Context) error
}

// csrfAllowList covers routes that precede CSRF-protected session
// establishment. Everything else state-changing requires a token.
var csrfAllowList = []string{
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/mfa/verify",
	"/api/auth/refresh",
	"/api/auth/request-password-reset",
	"/api/auth/reset-password",
	"/api/auth/verify-email",
	"/api/auth/resend-verification",
}

// New builds the application router
func New(deps Dependencies) chi.Router {
	router := chi.NewRouter()

	// No RealIP middleware: forwarded-for headers are honoured only behind
	// configured trusted proxies (pkg/http.ExtractClientIP)
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.SecureLogger(deps.Logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(30 * time.Second))

	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: deps.Env}))
	router.Use(middleware.CORS(middleware.NewCORSConfig(deps.AllowedOrigins)))
	router.Use(middleware.RateLimit(deps.RateLimiter, deps.IPConfig, deps.Metrics))
	router.Use(middleware.CSRFProtection(deps.CSRFStore, middleware.CSRFConfig{
		AllowList: csrfAllowList,
		Tokens:    deps.TokenManager,
		IPConfig:  deps.IPConfig,
	}, deps.Logger, deps.Metrics))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.HealthCheck(ctx); err != nil {
				pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "unhealthy",
					"database": "down",
				})
				return
			}
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
			"status":   "healthy",
			"database": "up",
		})
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Get("/csrf-token", deps.AuthHandler.CSRFToken)

		r.Route("/auth", func(r chi.Router) {
			// Tighter burst limit on top of the global rate limiter
			r.Use(middleware.AuthBurstLimit(deps.AuthBurstPerMinute, deps.IPConfig, deps.Metrics))

			r.Post("/register", deps.AuthHandler.Register)
			r.Post("/login", deps.AuthHandler.Login)
			r.Post("/mfa/verify", deps.AuthHandler.VerifyMFA)
			r.Post("/refresh", deps.AuthHandler.RefreshToken)
			r.Post("/request-password-reset", deps.AuthHandler.RequestPasswordReset)
			r.Post("/reset-password", deps.AuthHandler.ResetPassword)
			r.Post("/verify-email", deps.AuthHandler.VerifyEmail)
			r.Post("/resend-verification", deps.AuthHandler.ResendVerification)

			if deps.OAuthHandler != nil {
				r.Get("/google", deps.OAuthHandler.GoogleLogin)
				r.Get("/google/callback", deps.OAuthHandler.GoogleCallback)
			}

			r.Group(func(r chi.Router) {
				r.Use(auth.Middleware(deps.TokenManager, deps.Blacklist))
				r.Post("/logout", deps.AuthHandler.Logout)
			})
		})

		// Public catalog reads
		r.Get("/products", deps.ProductHandler.List)
		r.Get("/products/{id}", deps.ProductHandler.Get)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(deps.TokenManager, deps.Blacklist))

			r.Get("/users/me", deps.UserHandler.GetMe)
			r.Put("/users/me", deps.UserHandler.UpdateMe)

			if deps.MFAHandler != nil {
				r.Post("/mfa/enroll", deps.MFAHandler.Enroll)
				r.Post("/mfa/activate", deps.MFAHandler.Activate)
				r.Post("/mfa/disable", deps.MFAHandler.Disable)
			}

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(deps.UserRepo, "admin"))

				r.Get("/users", deps.UserHandler.ListUsers)
				r.Post("/products", deps.ProductHandler.Create)
				r.Put("/products/{id}", deps.ProductHandler.Update)
				r.Delete("/products/{id}", deps.ProductHandler.Delete)
			})
		})
	})

	return router
}
