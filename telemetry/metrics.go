// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SessionsStarted      prometheus.Counter
	SessionStartFailures prometheus.Counter
	SessionsStopped      prometheus.Counter
	SessionsExpired      prometheus.Counter
	TokenRefreshes       prometheus.Counter
	TokenRefreshFailures prometheus.Counter
	ProviderStopFailures prometheus.Counter

	// Histograms (seconds)
	ProviderRequestDuration prometheus.Observer

	// Gauges
	ActiveSessionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "falavox_sessions_started_total", Help: "Number of translation sessions started successfully"})
		SessionStartFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "falavox_session_start_failures_total", Help: "Number of session start attempts that failed"})
		SessionsStopped = promauto.NewCounter(prometheus.CounterOpts{Name: "falavox_sessions_stopped_total", Help: "Number of translation sessions stopped explicitly"})
		SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{Name: "falavox_sessions_expired_total", Help: "Number of translation sessions evicted by expiry"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "falavox_oauth_refreshes_total", Help: "Number of OAuth token refresh round trips"})
		TokenRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "falavox_oauth_refresh_failures_total", Help: "Number of failed OAuth token refreshes"})
		ProviderStopFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "falavox_provider_stop_failures_total", Help: "Provider stop-task calls that failed while local state was cleaned up"})
		ProviderRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "falavox_provider_request_duration_seconds", Help: "Provider HTTP request duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "falavox_active_sessions", Help: "Current number of non-ended translation sessions"})
	})
}

// SetActiveSessions records the current non-ended session count.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// Inc increments a counter if it has been registered (Init called).
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
