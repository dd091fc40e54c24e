// Package api exposes the discount catalog and the simulator over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sinergia-energia/sinergia/internal/catalog"
	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/simulation"
	"github.com/sinergia-energia/sinergia/internal/throttle"
)

// Dependencies are the components the API serves. Catalog and Simulator are
// required; the rest may be nil.
type Dependencies struct {
	Catalog    *catalog.Catalog
	Notifier   *catalog.Notifier
	Simulator  *simulation.Service
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Limiter    *throttle.Limiter
	Version    string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	metrics *Metrics
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, simCfg domain.SimulationConfig, deps Dependencies) *Server {
	cat := deps.Catalog
	metrics := NewMetrics(func() uint64 { return cat.Snapshot().Version })

	handler := NewHandler(deps, simCfg, metrics)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)             // CORS for browser clients
	router.Use(RecoverMiddleware)          // Recover from panics
	router.Use(TracingMiddleware)          // OpenTelemetry tracing
	router.Use(LoggingMiddleware)          // Request logging
	router.Use(MetricsMiddleware(metrics)) // Prometheus counters
	router.Use(middleware.RealIP)          // Extract real IP
	router.Use(middleware.Compress(5))     // Gzip compression

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Reference data
	router.Get("/states", handler.ListStates)
	router.Get("/states/{id}/distributors", handler.ListDistributorsByState)
	router.Get("/distributors", handler.ListDistributors)
	router.Get("/distributors/{id}", handler.GetDistributor)
	router.Get("/distributors/{id}/rules", handler.ListDistributorRules)
	router.Get("/bonus-types", handler.ListBonusTypes)

	// Simulations
	router.Route("/simulations", func(r chi.Router) {
		r.With(deps.Limiter.Middleware(throttle.ClientIP)).Post("/", handler.Simulate)
		r.Get("/", handler.ListSimulations)
		r.Get("/stats", handler.SimulationStats)
	})

	router.Post("/catalog/reload", handler.ReloadCatalog)

	return &Server{
		router:  router,
		handler: handler,
		metrics: metrics,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
