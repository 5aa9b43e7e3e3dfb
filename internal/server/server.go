// Package server exposes the discovery and sync engine over a small REST
// surface. It is a thin adapter: all engine semantics live in the
// discovery, soundtouch, syncer, and stations packages.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/resonate-home/resonate/internal/services"
	"github.com/resonate-home/resonate/internal/version"
	"github.com/resonate-home/resonate/pkg/models"
)

// Discoverer runs one discovery pass.
type Discoverer interface {
	Discover(ctx context.Context, timeout time.Duration) ([]models.DiscoveredDevice, error)
}

// SyncRunner executes one discover-then-sync pass.
type SyncRunner interface {
	Pass(ctx context.Context) models.SyncResult
}

// CapabilityResolver resolves a device's capabilities by address.
type CapabilityResolver interface {
	Resolve(ctx context.Context, addr string) (*models.CapabilitySet, error)
}

// StationSearcher queries the external station directory.
type StationSearcher interface {
	Search(ctx context.Context, query string) ([]models.Station, error)
}

// Deps bundles everything the route layer needs.
type Deps struct {
	Devices          services.DeviceRepository
	Runs             services.SyncRunRepository
	Discoverer       Discoverer
	SyncRunner       SyncRunner
	Resolver         CapabilityResolver
	Stations         StationSearcher
	Gatherer         prometheus.Gatherer
	DiscoveryTimeout time.Duration
}

// Server is the Resonate HTTP server.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a Server listening on addr.
func New(addr string, deps Deps, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second, // Discovery passes run within a request.
			IdleTimeout:  60 * time.Second,
		},
		deps:   deps,
		logger: logger,
		mux:    mux,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/devices", s.handleListDevices)
	s.mux.HandleFunc("GET /api/v1/devices/{id}", s.handleGetDevice)
	s.mux.HandleFunc("DELETE /api/v1/devices/{id}", s.handleDeleteDevice)
	s.mux.HandleFunc("POST /api/v1/discover", s.handleDiscover)
	s.mux.HandleFunc("POST /api/v1/sync", s.handleSync)
	s.mux.HandleFunc("GET /api/v1/capabilities/{addr}", s.handleResolveCapabilities)
	s.mux.HandleFunc("GET /api/v1/stations/search", s.handleStationSearch)
	s.mux.HandleFunc("GET /api/v1/sync-runs", s.handleListSyncRuns)

	if s.deps.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "resonate",
		"version": version.Map(),
	})
}
