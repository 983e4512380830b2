// Package metrics holds the Prometheus collectors of the session layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes.
const (
	RefreshSuccess        = "success"
	RefreshFailure        = "failure"
	RefreshNoRefreshToken = "no_refresh_token"
	RefreshReused         = "reused"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TokenRefresh   *prometheus.CounterVec
	SyncAttempts   *prometheus.CounterVec
	BackendLatency *prometheus.HistogramVec
	HTTPRequests   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokenRefresh: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nomadrise_token_refresh_total",
			Help: "Token refresh cycles by outcome",
		}, []string{"outcome"}),
		SyncAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nomadrise_oauth_sync_attempts_total",
			Help: "OAuth sync attempts against the backend by outcome",
		}, []string{"outcome"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nomadrise_backend_request_seconds",
			Help:    "Backend API call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nomadrise_http_requests_total",
			Help: "Served HTTP requests",
		}, []string{"method", "status"}),
	}
}

// Refresh counts one refresh outcome.
func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.TokenRefresh.WithLabelValues(outcome).Inc()
}

// SyncAttempt counts one sync attempt.
func (m *Metrics) SyncAttempt(ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.SyncAttempts.WithLabelValues(outcome).Inc()
}

// ObserveBackend records a backend call. status is "error" on transport failure.
func (m *Metrics) ObserveBackend(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.BackendLatency.WithLabelValues(method, status).Observe(seconds)
}

// ServedRequest counts one served HTTP request.
func (m *Metrics) ServedRequest(method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, status).Inc()
}
