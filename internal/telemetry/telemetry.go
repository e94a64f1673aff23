package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dugong"

// Login outcomes recorded by RecordLogin.
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
	LoginError   = "error"
)

// Stats is a snapshot of store-wide counts exported as gauges.
type Stats struct {
	Users      int64
	ActiveKeys int64
}

// StatsFunc is called each sample to gather current state.
type StatsFunc func(ctx context.Context) (Stats, error)

// Metrics owns a Prometheus registry with the service's collectors. All
// Record methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	loginAttempts      *prometheus.CounterVec
	keysIssued         prometheus.Counter
	keysRevoked        prometheus.Counter
	rateLimitDecisions *prometheus.CounterVec
	users              prometheus.Gauge
	activeKeys         prometheus.Gauge

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Metrics instance backed by its own registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"result"}),
		keysIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_keys_issued_total",
			Help:      "API keys created by login or administration.",
		}),
		keysRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_keys_revoked_total",
			Help:      "API keys revoked by logout, password change or administration.",
		}),
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions by tier.",
		}, []string{"tier", "decision"}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users",
			Help:      "Registered users.",
		}),
		activeKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_keys_active",
			Help:      "API keys that are not revoked.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.loginAttempts,
		m.keysIssued,
		m.keysRevoked,
		m.rateLimitDecisions,
		m.users,
		m.activeKeys,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// RecordLogin counts a login attempt with one of the Login* outcomes.
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

// RecordKeyIssued counts a newly created API key.
func (m *Metrics) RecordKeyIssued() {
	if m == nil {
		return
	}
	m.keysIssued.Inc()
}

// RecordKeyRevoked counts n revoked API keys.
func (m *Metrics) RecordKeyRevoked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.keysRevoked.Add(float64(n))
}

// RecordRateLimit counts a limiter decision for a tier ("guest", "user",
// "admin").
func (m *Metrics) RecordRateLimit(tier string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "limited"
	}
	m.rateLimitDecisions.WithLabelValues(tier, decision).Inc()
}

// StartSampler refreshes the store gauges from fn now and then every
// interval until Shutdown. Non-blocking.
func (m *Metrics) StartSampler(interval time.Duration, fn StatsFunc, logger *slog.Logger) {
	if m == nil || fn == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.sample(ctx, fn, logger)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sample(ctx, fn, logger)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the sampler loop, if running.
func (m *Metrics) Shutdown() {
	if m == nil {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Metrics) sample(ctx context.Context, fn StatsFunc, logger *slog.Logger) {
	stats, err := fn(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("metrics sample failed", "error", err)
		}
		return
	}
	m.users.Set(float64(stats.Users))
	m.activeKeys.Set(float64(stats.ActiveKeys))
}
