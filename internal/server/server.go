package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dugong-app/dugong/internal/config"
	"github.com/dugong-app/dugong/internal/handler"
	"github.com/dugong-app/dugong/internal/ratelimit"
	"github.com/dugong-app/dugong/internal/server/middleware"
	"github.com/dugong-app/dugong/internal/service"
	"github.com/dugong-app/dugong/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// LoginAttemptsPerMinute throttles POST /api/login per client address.
	// Zero disables the throttle.
	LoginAttemptsPerMinute int
	MaxBodySize            int64 // bytes
	Version                string
}

// readinessTimeout bounds all dependency pings of one /readyz request.
const readinessTimeout = 5 * time.Second

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:                   "0.0.0.0",
		Port:                   8080,
		ShutdownTimeout:        30 * time.Second,
		CORSOrigins:            []string{"*"},
		LoginAttemptsPerMinute: 10,
		MaxBodySize:            1 << 20, // 1MB
	}
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the top-level HTTP server for dugong. It owns the Chi router,
// the store, the authentication service and the rate limiter.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	authSvc    *service.AuthService
	limiter    *ratelimit.Limiter
	metrics    *telemetry.Metrics
	checks     map[string]Pinger
	httpServer *http.Server
	logger     *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithReadinessCheck adds a named dependency to the readiness probe.
func WithReadinessCheck(name string, p Pinger) Option {
	return func(s *Server) { s.checks[name] = p }
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
// metrics may be nil, in which case /metrics is not served.
func New(cfg Config, store *config.Store, authSvc *service.AuthService, limiter *ratelimit.Limiter, metrics *telemetry.Metrics, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		store:   store,
		authSvc: authSvc,
		limiter: limiter,
		metrics: metrics,
		checks:  map[string]Pinger{"store": store},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// Probes, metrics and the API document are outside /api and never limited.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Get("/openapi.json", handler.NewOpenAPIHandler("", s.cfg.Version).ServeSpec)

	sessions := handler.NewSessionHandler(s.authSvc, s.logger)
	users := handler.NewUserHandler(s.store, s.authSvc, s.logger)
	keys := handler.NewKeyHandler(s.authSvc, s.logger)

	r.Route("/api", func(r chi.Router) {
		if s.cfg.MaxBodySize > 0 {
			r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
		}
		r.Use(middleware.Identify(s.authSvc, s.logger))
		r.Use(middleware.RateLimit(s.limiter, s.logger))

		r.With(middleware.LoginThrottle(s.cfg.LoginAttemptsPerMinute)).Post("/login", sessions.Login)
		r.Delete("/login", sessions.Logout)

		r.Post("/users", users.Register)
		r.Get("/users", users.GetUser)
		r.Get("/users/{userID}/keys", users.ListKeys)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin())
			r.Put("/keys/{keyID}/level", keys.SetLevel)
		})
	})

	s.router = r
}

// readiness is the /readyz body. Checks maps each dependency to "ok" or its
// error.
type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, http.StatusOK, readiness{Status: "ok"})
}

// handleReadyz pings every registered dependency. Any failure turns the
// response into 503 "degraded".
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := readiness{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			report.Checks[name] = "error: " + err.Error()
			report.Status = "degraded"
			continue
		}
		report.Checks[name] = "ok"
	}

	code := http.StatusOK
	if report.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeProbe(w, code, report)
}

func writeProbe(w http.ResponseWriter, code int, body readiness) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests and stopping the rate limit flush loop.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.limiter.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.limiter.Stop()
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down", "timeout", s.cfg.ShutdownTimeout)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.limiter.Stop()
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router exposes the chi router.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
