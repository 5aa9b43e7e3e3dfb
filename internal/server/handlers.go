package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/resonate-home/resonate/internal/services"
)

// writeJSON serializes v to the response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseListOptions reads limit/offset/sort_by/sort_order query parameters.
// Repositories apply their own defaults and caps.
func parseListOptions(r *http.Request) services.ListOptions {
	opts := services.ListOptions{
		SortBy:    r.URL.Query().Get("sort_by"),
		SortOrder: r.URL.Query().Get("sort_order"),
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			opts.Limit = n
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			opts.Offset = n
		}
	}
	return opts
}

// handleListDevices returns the persisted speaker registry.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	filter := services.DeviceFilter{
		Search: r.URL.Query().Get("search"),
	}
	result, err := s.deps.Devices.List(r.Context(), filter, parseListOptions(r))
	if err != nil {
		s.logger.Warn("failed to list devices", zap.Error(err))
		InternalError(w, "failed to list devices", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetDevice returns a single registered speaker.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	device, err := s.deps.Devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			NotFound(w, "device not found: "+id, r.URL.Path)
			return
		}
		s.logger.Warn("failed to get device", zap.String("device_id", id), zap.Error(err))
		InternalError(w, "failed to get device", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// handleDeleteDevice removes a speaker from the registry. The device will
// reappear on the next sync pass if it is still on the network.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Devices.Delete(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			NotFound(w, "device not found: "+id, r.URL.Path)
			return
		}
		s.logger.Warn("failed to delete device", zap.String("device_id", id), zap.Error(err))
		InternalError(w, "failed to delete device", r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDiscover runs a discovery pass and returns what was found without
// touching the registry.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	devices, err := s.deps.Discoverer.Discover(r.Context(), s.deps.DiscoveryTimeout)
	if err != nil {
		s.logger.Warn("discovery failed", zap.Error(err))
		InternalError(w, "discovery failed", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(devices),
		"devices": devices,
	})
}

// handleSync triggers a full discover-then-sync pass and reports its
// counts. The pass is recorded in the sync run history like a scheduled
// one.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result := s.deps.SyncRunner.Pass(r.Context())
	writeJSON(w, http.StatusOK, result)
}

// handleResolveCapabilities probes a speaker at the given address and
// returns its capability snapshot without persisting anything.
func (s *Server) handleResolveCapabilities(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if addr == "" {
		BadRequest(w, "address is required", r.URL.Path)
		return
	}
	caps, err := s.deps.Resolver.Resolve(r.Context(), addr)
	if err != nil {
		s.logger.Warn("capability resolution failed",
			zap.String("address", addr), zap.Error(err))
		InternalError(w, "capability resolution failed for "+addr, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

// handleStationSearch proxies a search against the external station
// directory. An empty result set is a successful response; only a
// directory outage maps to an error status.
func (s *Server) handleStationSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		BadRequest(w, "query parameter is required", r.URL.Path)
		return
	}
	stations, err := s.deps.Stations.Search(r.Context(), query)
	if err != nil {
		s.logger.Warn("station search failed", zap.String("query", query), zap.Error(err))
		UpstreamUnavailable(w, "station directory is unavailable", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(stations),
		"stations": stations,
	})
}

// handleListSyncRuns returns the sync pass history, newest first.
func (s *Server) handleListSyncRuns(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Runs.List(r.Context(), parseListOptions(r))
	if err != nil {
		s.logger.Warn("failed to list sync runs", zap.Error(err))
		InternalError(w, "failed to list sync runs", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
