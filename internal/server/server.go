// Package server hosts the printwatch HTTP API: core health, plugin and
// metrics endpoints plus every plugin's routes under /api/v1/{plugin}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/registry"
	"github.com/HerbHall/printwatch/internal/version"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

// Server is the main printwatch server.
type Server struct {
	httpServer *http.Server
	registry   *registry.Registry
	logger     *zap.Logger
	mux        *http.ServeMux
	gatherer   prometheus.Gatherer
	db         Pinger
}

// Pinger reports whether a backing service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer sets the metrics source served at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithDatabase adds a "database" entry to the health report.
func WithDatabase(p Pinger) Option {
	return func(s *Server) { s.db = p }
}

// New creates a new Server instance.
func New(addr string, reg *registry.Registry, logger *zap.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		registry: reg,
		logger:   logger,
		mux:      mux,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerCoreRoutes()
	s.mountPluginRoutes()

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerCoreRoutes sets up routes that are always available.
func (s *Server) registerCoreRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// mountPluginRoutes registers all plugin routes under /api/v1/{plugin}/.
func (s *Server) mountPluginRoutes() {
	allRoutes := s.registry.AllRoutes()
	for pluginName, routes := range allRoutes {
		for _, route := range routes {
			pattern := fmt.Sprintf("%s /api/v1/%s%s", route.Method, pluginName, route.Path)
			s.mux.HandleFunc(pattern, route.Handler)
			s.logger.Debug("mounted route",
				zap.String("plugin", pluginName),
				zap.String("pattern", pattern),
			)
		}
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status  string                         `json:"status"`
	Service string                         `json:"service"`
	Version map[string]string              `json:"version"`
	Plugins map[string]plugin.HealthStatus `json:"plugins"`
}

// handleHealth aggregates plugin health. Any unhealthy plugin makes the
// response 503; a degraded plugin degrades the overall status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := s.registry.HealthChecks(r.Context())
	if s.db != nil {
		checks["database"] = s.pingDatabase(r.Context())
	}
	resp := healthResponse{
		Status:  "ok",
		Service: "printwatch",
		Version: version.Map(),
		Plugins: checks,
	}
	code := http.StatusOK
	for _, h := range checks {
		switch h.Status {
		case plugin.StatusUnhealthy:
			resp.Status = plugin.StatusUnhealthy
			code = http.StatusServiceUnavailable
		case plugin.StatusDegraded:
			if resp.Status == "ok" {
				resp.Status = plugin.StatusDegraded
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Printwatch-Version", version.Short())
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) pingDatabase(ctx context.Context) plugin.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		return plugin.HealthStatus{Status: plugin.StatusUnhealthy, Message: err.Error()}
	}
	return plugin.HealthStatus{Status: plugin.StatusHealthy}
}

// handlePlugins returns every registered plugin and whether it is enabled.
func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Printwatch-Version", version.Short())
	_ = json.NewEncoder(w).Encode(s.registry.Statuses())
}
