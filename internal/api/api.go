// Package api implements the monitor's read-only HTTP surface.
//
// # Endpoints
//
//   - GET  /health                          - liveness
//   - GET  /status                          - scheduler + broker snapshot
//   - GET  /metrics                         - every service + global rollup
//   - GET  /metrics/{service}                - one service
//   - GET  /metrics/experiment               - ASR-03 compliance projection
//   - GET  /incidents                        - recent incidents, any service
//   - GET  /incidents/{service}               - recent incidents for one service
//   - GET  /incidents/active                 - every open incident
//   - GET  /health-checks/{service}           - recent checks for one service
//   - POST /ping                             - force an immediate tick
//   - POST /evaluate                         - force the detector over every service
//
// A *http.ServeMux with method-prefixed route patterns, CORS headers
// plus request logging in ServeHTTP, and writeJSON/writeError helpers.
// Every handler here is 4xx-never-5xx on bad input — a malformed query
// parameter or unknown service name never surfaces as a 500.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetops/healthwatch/internal/cache"
	"github.com/fleetops/healthwatch/internal/config"
	"github.com/fleetops/healthwatch/internal/detector"
	"github.com/fleetops/healthwatch/internal/metrics"
	"github.com/fleetops/healthwatch/internal/scheduler"
	"github.com/fleetops/healthwatch/internal/types"
)

// Store is the subset of store.Store the read API needs.
type Store interface {
	Incidents(ctx context.Context, service string, limit int) ([]types.Incident, error)
	ActiveIncidents(ctx context.Context) ([]types.Incident, error)
	RecentChecks(ctx context.Context, service string, n int) ([]types.HealthCheck, error)
}

// Metrics is the subset of metrics.Engine the read API needs.
type Metrics interface {
	GetServiceMetrics(ctx context.Context, service string, windowHours float64) (*metrics.ServiceMetrics, error)
	GetAllServicesMetrics(ctx context.Context, services []string, windowHours float64) (*metrics.GlobalMetrics, error)
	GetExperimentSummary(ctx context.Context, services []string, windowHours float64) (*metrics.ExperimentSummary, error)
}

// Scheduler is the subset of scheduler.Scheduler the read API needs.
type Scheduler interface {
	Stats() scheduler.Stats
	Tick(ctx context.Context) string
}

// Detector is the subset of detector.Detector the read API needs.
type Detector interface {
	Evaluate(ctx context.Context, service string) (detector.Outcome, *types.Incident, error)
}

// Broker is the subset of broker.Broker the read API needs. Nil disables
// the broker_backlog field on /status, matching the broker's own
// optional-disable pattern.
type Broker interface {
	Backlog(ctx context.Context) (int64, error)
	EchoBacklog(ctx context.Context) (int64, error)
}

// Server is the HTTP read API.
type Server struct {
	store     Store
	metrics   Metrics
	scheduler Scheduler
	detector  Detector
	broker    Broker // nil if the monitor runs without a broker
	cache     *cache.Cache
	services  []string
	logger    *slog.Logger
	mux       *http.ServeMux
}

// Deps carries every collaborator the read API reads from.
type Deps struct {
	Store     Store
	Metrics   Metrics
	Scheduler Scheduler
	Detector  Detector
	Broker    Broker // nil if no broker is configured
	Cache     *cache.Cache
	Services  []string
}

// NewServer creates a read API server and registers its routes.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		store:     deps.Store,
		metrics:   deps.Metrics,
		scheduler: deps.Scheduler,
		detector:  deps.Detector,
		broker:    deps.Broker,
		cache:     deps.Cache,
		services:  deps.Services,
		logger:    logger.With("component", "api"),
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Mux returns the underlying ServeMux, for embedding in a larger server
// or for tests that want to drive routes directly.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// ServeHTTP implements http.Handler: CORS headers plus request logging.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)

	s.mux.HandleFunc("GET /metrics", s.handleAllMetrics)
	s.mux.HandleFunc("GET /metrics/experiment", s.handleExperimentSummary)
	s.mux.HandleFunc("GET /metrics/{service}", s.handleServiceMetrics)

	s.mux.HandleFunc("GET /incidents", s.handleIncidents)
	s.mux.HandleFunc("GET /incidents/active", s.handleActiveIncidents)
	s.mux.HandleFunc("GET /incidents/{service}", s.handleServiceIncidents)

	s.mux.HandleFunc("GET /health-checks/{service}", s.handleHealthChecks)

	s.mux.HandleFunc("POST /ping", s.handlePing)
	s.mux.HandleFunc("POST /evaluate", s.handleEvaluate)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// windowHours parses the optional window_hours query parameter, falling
// back to the given fallback on absence, malformed input, or a
// non-positive value — a bad query parameter must never surface as a 500.
func windowHours(r *http.Request, fallback float64) float64 {
	v := r.URL.Query().Get("window_hours")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

// listLimit parses the optional limit query parameter, clamped to
// [1, config.MaxListLimit].
func listLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return config.DefaultListLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return config.DefaultListLimit
	}
	if n > config.MaxListLimit {
		return config.MaxListLimit
	}
	return n
}
