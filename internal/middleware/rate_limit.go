package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/ovenbird/bakehouse/internal/metrics"
	"github.com/ovenbird/bakehouse/internal/security"
	pkghttp "github.com/ovenbird/bakehouse/pkg/http"
)

// RateLimit returns the blanket middleware applied to every route before any
// business logic. Allowed requests carry the standard quota headers; denied
// requests get a 429 with the minutes until the window resets.
func RateLimit(limiter *security.RateLimiter, ipConfig *pkghttp.IPConfig, m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			address := pkghttp.ExtractClientIP(r, ipConfig)

			decision := limiter.Allow(address)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))

			if !decision.Allowed {
				if m != nil {
					m.RateLimitDenials.WithLabelValues("global").Inc()
				}
				pkghttp.WriteTooManyRequests(w,
					fmt.Sprintf("Too many requests. Please try again in %d minutes.", decision.RetryAfterMinutes),
					decision.RetryAfterMinutes)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// AuthBurstLimit is the stricter per-IP limiter layered on the auth endpoints
// on top of the blanket limiter, to slow credential stuffing bursts that stay
// under the global quota. Keyed on the trusted-proxy-aware client IP, not on
// forwarded-for headers the client controls.
func AuthBurstLimit(requestsPerMinute int, ipConfig *pkghttp.IPConfig, m *metrics.Metrics) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if m != nil {
				m.RateLimitDenials.WithLabelValues("auth_burst").Inc()
			}
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again in 1 minutes.", 1)
		}),
	)
}
