package history

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/server"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/devices/{id}/status", Handler: m.handleStatusHistory},
		{Method: "GET", Path: "/devices/{id}/errors", Handler: m.handleErrorHistory},
	}
}

// handleStatusHistory returns recent status snapshots of a device.
//
//	@Summary		Status history
//	@Tags			history
//	@Produce		json
//	@Param			id path string true "Device ID"
//	@Param			limit query int false "Max results (default 100, max 1000)"
//	@Success		200 {array} StatusRecord
//	@Failure		500 {object} server.Problem
//	@Router			/history/devices/{id}/status [get]
func (m *Module) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	records, err := m.store.Recent(r.Context(), id, parseLimit(r))
	if err != nil {
		m.logger.Warn("failed to query status history", zap.String("device_id", id), zap.Error(err))
		server.InternalError(w, "failed to query status history", r.URL.Path)
		return
	}
	if records == nil {
		records = []StatusRecord{}
	}
	writeJSON(w, records)
}

// handleErrorHistory returns recent error events of a device.
//
//	@Summary		Error history
//	@Tags			history
//	@Produce		json
//	@Param			id path string true "Device ID"
//	@Param			limit query int false "Max results (default 100, max 1000)"
//	@Success		200 {array} ErrorRecord
//	@Failure		500 {object} server.Problem
//	@Router			/history/devices/{id}/errors [get]
func (m *Module) handleErrorHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	records, err := m.store.Errors(r.Context(), id, parseLimit(r))
	if err != nil {
		m.logger.Warn("failed to query error history", zap.String("device_id", id), zap.Error(err))
		server.InternalError(w, "failed to query error history", r.URL.Path)
		return
	}
	if records == nil {
		records = []ErrorRecord{}
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func parseLimit(r *http.Request) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return min(n, maxLimit)
		}
	}
	return defaultLimit
}
