// Package api exposes the PrawnikGPT HTTP interface: query submission and
// retrieval, background accurate-tier requests, response ratings, health, and
// metrics.
//
// All /api/queries routes require a JWT bearer token; the token subject is
// the user identity every record is scoped to. Rate limits apply per client
// IP across the API and per user on query submissions.
package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prawnikgpt/prawnikgpt/internal/health"
	"github.com/prawnikgpt/prawnikgpt/internal/observe"
	"github.com/prawnikgpt/prawnikgpt/internal/pipeline"
	"github.com/prawnikgpt/prawnikgpt/internal/querystore"
	"github.com/prawnikgpt/prawnikgpt/internal/ratings"
)

// Config carries the server's tuning and collaborators.
type Config struct {
	// JWTSecret is the HMAC key bearer tokens are verified against.
	JWTSecret string

	// PerUserLimit, PerIPLimit, and HealthPerIPLimit are requests per minute.
	PerUserLimit     int
	PerIPLimit       int
	HealthPerIPLimit int

	// VerboseErrors attaches raw error text to error envelopes. Keep off in
	// production.
	VerboseErrors bool
}

// Server wires the HTTP routes to the pipeline and stores.
type Server struct {
	orc        *pipeline.Orchestrator
	dispatcher *pipeline.Dispatcher
	store      querystore.Store
	ratings    ratings.Store
	health     *health.Handler
	metrics    *observe.Metrics

	jwtSecret     []byte
	verboseErrors bool

	userPool   *limiterPool
	ipPool     *limiterPool
	healthPool *limiterPool

	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the OTel instruments for the request middleware. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates the HTTP server over its collaborators.
func NewServer(
	cfg Config,
	orc *pipeline.Orchestrator,
	dispatcher *pipeline.Dispatcher,
	store querystore.Store,
	ratingStore ratings.Store,
	healthHandler *health.Handler,
	opts ...Option,
) *Server {
	if cfg.PerUserLimit <= 0 {
		cfg.PerUserLimit = 10
	}
	if cfg.PerIPLimit <= 0 {
		cfg.PerIPLimit = 30
	}
	if cfg.HealthPerIPLimit <= 0 {
		cfg.HealthPerIPLimit = 60
	}

	s := &Server{
		orc:           orc,
		dispatcher:    dispatcher,
		store:         store,
		ratings:       ratingStore,
		health:        healthHandler,
		jwtSecret:     []byte(cfg.JWTSecret),
		verboseErrors: cfg.VerboseErrors,
		userPool:      newLimiterPool(cfg.PerUserLimit),
		ipPool:        newLimiterPool(cfg.PerIPLimit),
		healthPool:    newLimiterPool(cfg.HealthPerIPLimit),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler builds the full route tree wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Liveness and dependency health, limited per IP but unauthenticated so
	// orchestration probes work without credentials.
	mux.Handle("GET /healthz",
		s.rateLimit(s.healthPool, clientIP, http.HandlerFunc(s.health.Healthz)))
	mux.Handle("GET /api/health",
		s.rateLimit(s.healthPool, clientIP, http.HandlerFunc(s.health.Health)))

	// Prometheus scrape endpoint, fed by the OTel bridge exporter.
	mux.Handle("GET /metrics", promhttp.Handler())

	// authed wraps a handler in the per-IP limiter and JWT verification.
	authed := func(h http.HandlerFunc) http.Handler {
		return s.rateLimit(s.ipPool, clientIP, s.authenticate(h))
	}
	// submission additionally enforces the per-user budget; the user key is
	// only available after authentication.
	submission := func(h http.HandlerFunc) http.Handler {
		return s.rateLimit(s.ipPool, clientIP,
			s.authenticate(s.rateLimit(s.userPool, userKey, h)))
	}

	mux.Handle("POST /api/queries", submission(s.createQuery))
	mux.Handle("GET /api/queries", authed(s.listQueries))
	mux.Handle("GET /api/queries/{id}", authed(s.getQuery))
	mux.Handle("DELETE /api/queries/{id}", authed(s.deleteQuery))
	mux.Handle("POST /api/queries/{id}/accurate", submission(s.requestAccurate))
	mux.Handle("PUT /api/queries/{id}/rating", authed(s.putRating))
	mux.Handle("DELETE /api/queries/{id}/rating", authed(s.deleteRating))

	mux.Handle("GET /api/metrics", authed(s.metricsSnapshot))

	return observe.Middleware(s.metrics)(mux)
}
