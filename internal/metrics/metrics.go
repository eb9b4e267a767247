package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the security trackers.
type Metrics struct {
	LoginLockouts       prometheus.Counter
	RateLimitDenials    *prometheus.CounterVec
	CSRFFailures        prometheus.Counter
	TokensBlacklisted   prometheus.Counter
	ResetRequestDenials prometheus.Counter
	LoginFailures       prometheus.Counter
}

// New registers and returns the tracker metrics collectors.
func New() *Metrics {
	return &Metrics{
		LoginLockouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bakehouse_login_lockouts_total",
			Help: "Total number of accounts locked after repeated failed logins",
		}),
		RateLimitDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bakehouse_rate_limit_denials_total",
			Help: "Total number of requests denied by rate limiting",
		}, []string{"scope"}),
		CSRFFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bakehouse_csrf_failures_total",
			Help: "Total number of requests rejected for missing or invalid CSRF tokens",
		}),
		TokensBlacklisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bakehouse_tokens_blacklisted_total",
			Help: "Total number of tokens revoked via logout",
		}),
		ResetRequestDenials: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bakehouse_password_reset_denials_total",
			Help: "Total number of password reset requests denied by the hourly cap",
		}),
		LoginFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bakehouse_login_failures_total",
			Help: "Total number of failed login attempts",
		}),
	}
}
