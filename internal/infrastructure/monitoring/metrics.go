// Package monitoring wires Prometheus metrics and OpenTelemetry tracing.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the auth core.
type Metrics struct {
	TokensIssued      *prometheus.CounterVec
	TokenVerifyTotal  *prometheus.CounterVec
	TokenVerifyTime   prometheus.Histogram
	TokenRevocations  *prometheus.CounterVec
	ReuseDetections   prometheus.Counter
	KeyRotations      *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
	SessionRotations  *prometheus.CounterVec
	SecretsBreaker    *prometheus.GaugeVec
	RateLimitRejected *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		TokensIssued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_auth_tokens_issued_total",
				Help: "Tokens minted, by type.",
			},
			[]string{"type"},
		),
		TokenVerifyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_auth_token_verifications_total",
				Help: "Token verifications, by internal failure kind ('ok' on success).",
			},
			[]string{"result"},
		),
		TokenVerifyTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "daybook_auth_token_verify_seconds",
				Help:    "Latency of token verification.",
				Buckets: prometheus.DefBuckets,
			},
		),
		TokenRevocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_auth_token_revocations_total",
				Help: "Token revocations, by scope (single or subject).",
			},
			[]string{"scope"},
		),
		ReuseDetections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "daybook_auth_refresh_reuse_detections_total",
				Help: "Refresh-token reuse incidents.",
			},
		),
		KeyRotations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_auth_key_rotations_total",
				Help: "Signing-key rotations, by outcome.",
			},
			[]string{"result"},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "daybook_auth_sessions_active",
				Help: "Approximate count of live sessions.",
			},
		),
		SessionRotations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_auth_session_rotations_total",
				Help: "Session id rotations, by reason.",
			},
			[]string{"reason"},
		),
		SecretsBreaker: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "daybook_auth_secrets_breaker_state",
				Help: "Circuit breaker state per backend (0 closed, 1 half-open, 2 open).",
			},
			[]string{"backend"},
		),
		RateLimitRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_auth_rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter, by endpoint.",
			},
			[]string{"endpoint"},
		),
	}
}

// RecordVerification records one verification outcome.
func (m *Metrics) RecordVerification(result string, duration time.Duration) {
	m.TokenVerifyTotal.WithLabelValues(result).Inc()
	m.TokenVerifyTime.Observe(duration.Seconds())
}

// RecordIssued records one minted token.
func (m *Metrics) RecordIssued(tokenType string) {
	m.TokensIssued.WithLabelValues(tokenType).Inc()
}
