package fleet

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/maintenance"
	"github.com/HerbHall/printwatch/internal/monitor"
	"github.com/HerbHall/printwatch/internal/server"
	"github.com/HerbHall/printwatch/internal/source"
	"github.com/HerbHall/printwatch/pkg/models"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/devices", Handler: m.handleListDevices},
		{Method: "GET", Path: "/devices/{id}", Handler: m.handleGetDevice},
		{Method: "POST", Path: "/devices/import", Handler: m.handleImportCSV},
		{Method: "GET", Path: "/export.csv", Handler: m.handleExportCSV},
		{Method: "POST", Path: "/devices/{id}/monitor", Handler: m.handleStartMonitoring},
		{Method: "DELETE", Path: "/devices/{id}/monitor", Handler: m.handleStopMonitoring},
		{Method: "POST", Path: "/devices/{id}/refresh", Handler: m.handleRefreshDevice},
		{Method: "POST", Path: "/refresh", Handler: m.handleRefreshAll},
		{Method: "PUT", Path: "/poll-interval", Handler: m.handleSetPollInterval},
		{Method: "GET", Path: "/devices/{id}/maintenance", Handler: m.handleGetMaintenance},
		{Method: "POST", Path: "/devices/{id}/maintenance", Handler: m.handleRecordMaintenance},
		{Method: "GET", Path: "/maintenance/alerts", Handler: m.handleMaintenanceAlerts},
		{Method: "GET", Path: "/stats", Handler: m.handleStats},
		{Method: "GET", Path: "/ws", Handler: m.handleStream},
	}
}

// startMonitoringRequest is the optional JSON body for POST /devices/{id}/monitor.
// The target fields register a device that is not in the configuration.
type startMonitoringRequest struct {
	IntervalSeconds int    `json:"interval_seconds"`
	Driver          string `json:"driver,omitempty"`
	Address         string `json:"address,omitempty"`
	Name            string `json:"name,omitempty"`
	Location        string `json:"location,omitempty"`
	Model           string `json:"model,omitempty"`
	Community       string `json:"community,omitempty"`
	APIKey          string `json:"api_key,omitempty"`
	RemoteID        string `json:"remote_id,omitempty"`
}

type monitoringResponse struct {
	DeviceID string `json:"device_id"`
	Interval string `json:"interval"`
}

// deviceDetail is the response for GET /devices/{id}.
type deviceDetail struct {
	models.DeviceStatus
	Icon         string                    `json:"icon"`
	FailureCount int                       `json:"failure_count"`
	SupplyAlerts []maintenance.SupplyAlert `json:"supply_alerts"`
}

type refreshResult struct {
	DeviceID string               `json:"device_id"`
	Status   *models.DeviceStatus `json:"status,omitempty"`
	Error    string               `json:"error,omitempty"`
}

type pollIntervalRequest struct {
	Seconds int `json:"seconds"`
}

type maintenanceRequest struct {
	PerformedAt *time.Time `json:"performed_at,omitempty"`
	Technician  string     `json:"technician,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

type maintenanceResponse struct {
	Alert      maintenance.Alert         `json:"alert"`
	Prediction *maintenance.Prediction   `json:"prediction,omitempty"`
	Supplies   []maintenance.SupplyAlert `json:"supplies"`
	Records    []maintenance.Record      `json:"records"`
}

// handleListDevices returns the latest status of every monitored device.
//
//	@Summary		List device statuses
//	@Description	Returns the latest status of every monitored device, in the order monitoring started.
//	@Tags			fleet
//	@Produce		json
//	@Param			location query string false "Filter by location"
//	@Success		200 {array} models.DeviceStatus
//	@Router			/fleet/devices [get]
func (m *Module) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.statuses(r.URL.Query().Get("location")))
}

// handleGetDevice returns one device's status with its supply alerts.
//
//	@Summary		Get device status
//	@Tags			fleet
//	@Produce		json
//	@Param			id path string true "Device ID"
//	@Success		200 {object} deviceDetail
//	@Failure		404 {object} server.Problem
//	@Router			/fleet/devices/{id} [get]
func (m *Module) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := m.monitor.GetStatus(id)
	if !ok {
		if m.monitor.IsMonitored(id) {
			server.NotFound(w, "status not yet available", r.URL.Path)
			return
		}
		server.NotFound(w, "device not monitored", r.URL.Path)
		return
	}
	failures, _ := m.monitor.FailureCount(id)
	alerts := maintenance.SupplyAlerts(st, m.cfg.LowSupplyPercent, m.cfg.CriticalSupplyPercent)
	if alerts == nil {
		alerts = []maintenance.SupplyAlert{}
	}
	writeJSON(w, http.StatusOK, deviceDetail{
		DeviceStatus: st,
		Icon:         st.State.Icon(),
		FailureCount: failures,
		SupplyAlerts: alerts,
	})
}

// handleStartMonitoring starts polling a device. Unknown devices need a
// driver and address in the body.
//
//	@Summary		Start monitoring
//	@Tags			fleet
//	@Accept			json
//	@Produce		json
//	@Param			id path string true "Device ID"
//	@Param			body body startMonitoringRequest false "Interval and target"
//	@Success		202 {object} monitoringResponse
//	@Failure		400 {object} server.Problem
//	@Failure		404 {object} server.Problem
//	@Router			/fleet/devices/{id}/monitor [post]
func (m *Module) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req startMonitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.IntervalSeconds < 0 {
		server.BadRequest(w, "interval_seconds must not be negative", r.URL.Path)
		return
	}
	interval := time.Duration(req.IntervalSeconds) * time.Second
	if interval > 0 && interval <= m.monitor.Config().RetryDelay {
		server.BadRequest(w, "interval must be longer than the retry delay", r.URL.Path)
		return
	}

	t, known := m.router.Target(id)
	if !known {
		if req.Driver == "" {
			server.NotFound(w, "no target configured for device; supply driver and address", r.URL.Path)
			return
		}
		t = source.Target{
			ID:          id,
			DisplayName: req.Name,
			Location:    req.Location,
			Model:       req.Model,
			Driver:      req.Driver,
			Address:     req.Address,
			Community:   req.Community,
			APIKey:      req.APIKey,
			RemoteID:    req.RemoteID,
		}
	}
	if interval > 0 {
		t.Interval = interval
	}

	if err := m.startDevice(r.Context(), t); err != nil {
		if errors.Is(err, monitor.ErrClosed) {
			server.ServiceUnavailable(w, err.Error(), r.URL.Path)
			return
		}
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}

	effective := t.Interval
	if effective == 0 {
		effective = m.monitor.Config().DefaultPollInterval
	}
	writeJSON(w, http.StatusAccepted, monitoringResponse{DeviceID: id, Interval: effective.String()})
}

// handleStopMonitoring stops polling a device and drops its status.
//
//	@Summary		Stop monitoring
//	@Tags			fleet
//	@Param			id path string true "Device ID"
//	@Success		204
//	@Failure		404 {object} server.Problem
//	@Router			/fleet/devices/{id}/monitor [delete]
func (m *Module) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := m.stopDevice(r.Context(), id); err != nil {
		if errors.Is(err, monitor.ErrUnknownDevice) {
			server.NotFound(w, "device not monitored", r.URL.Path)
			return
		}
		m.logger.Warn("failed to stop monitoring", zap.String("device_id", id), zap.Error(err))
		server.InternalError(w, "failed to stop monitoring", r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshDevice fetches a device immediately, outside its schedule.
//
//	@Summary		Refresh device
//	@Tags			fleet
//	@Produce		json
//	@Param			id path string true "Device ID"
//	@Success		200 {object} models.DeviceStatus
//	@Failure		404 {object} server.Problem
//	@Failure		429 {object} server.Problem
//	@Failure		503 {object} server.Problem
//	@Router			/fleet/devices/{id}/refresh [post]
func (m *Module) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	if !m.limiter.Allow() {
		server.RateLimited(w, "refresh rate exceeded", r.URL.Path)
		return
	}
	id := r.PathValue("id")
	st, err := m.monitor.RefreshOne(r.Context(), id)
	if err != nil {
		var fe *monitor.FetchError
		switch {
		case errors.Is(err, monitor.ErrUnknownDevice):
			server.NotFound(w, "device not monitored", r.URL.Path)
		case errors.As(err, &fe):
			server.ServiceUnavailable(w, fe.Error(), r.URL.Path)
		default:
			server.ServiceUnavailable(w, err.Error(), r.URL.Path)
		}
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleRefreshAll fetches every monitored device concurrently.
//
//	@Summary		Refresh all devices
//	@Tags			fleet
//	@Produce		json
//	@Success		200 {array} refreshResult
//	@Failure		429 {object} server.Problem
//	@Router			/fleet/refresh [post]
func (m *Module) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	if !m.limiter.Allow() {
		server.RateLimited(w, "refresh rate exceeded", r.URL.Path)
		return
	}
	results := m.monitor.RefreshAll(r.Context())
	out := make([]refreshResult, 0, len(results))
	for _, res := range results {
		rr := refreshResult{DeviceID: res.DeviceID}
		if res.Err != nil {
			rr.Error = res.Err.Error()
		} else {
			st := res.Status
			rr.Status = &st
		}
		out = append(out, rr)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSetPollInterval changes the default poll interval for every device
// that does not have its own.
//
//	@Summary		Set poll interval
//	@Tags			fleet
//	@Accept			json
//	@Param			body body pollIntervalRequest true "Interval in seconds"
//	@Success		204
//	@Failure		400 {object} server.Problem
//	@Router			/fleet/poll-interval [put]
func (m *Module) handleSetPollInterval(w http.ResponseWriter, r *http.Request) {
	var req pollIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if err := m.setPollInterval(r.Context(), time.Duration(req.Seconds)*time.Second); err != nil {
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetMaintenance returns the scheduled-maintenance alert, predictive
// analysis, supply warnings and visit log of a device.
//
//	@Summary		Device maintenance
//	@Tags			fleet
//	@Produce		json
//	@Param			id path string true "Device ID"
//	@Success		200 {object} maintenanceResponse
//	@Failure		404 {object} server.Problem
//	@Failure		503 {object} server.Problem
//	@Router			/fleet/devices/{id}/maintenance [get]
func (m *Module) handleGetMaintenance(w http.ResponseWriter, r *http.Request) {
	if m.maint == nil {
		server.ServiceUnavailable(w, "maintenance store not available", r.URL.Path)
		return
	}
	id := r.PathValue("id")
	st, hasStatus := m.monitor.GetStatus(id)
	if _, known := m.router.Target(id); !known && !hasStatus {
		server.NotFound(w, "unknown device", r.URL.Path)
		return
	}

	records, err := m.maint.List(r.Context(), id)
	if err != nil {
		m.logger.Warn("failed to list maintenance records", zap.String("device_id", id), zap.Error(err))
		server.InternalError(w, "failed to list maintenance records", r.URL.Path)
		return
	}
	dates := make([]time.Time, len(records))
	for i, rec := range records {
		dates[i] = rec.PerformedAt
	}

	now := m.now()
	resp := maintenanceResponse{
		Alert:    maintenance.Classify(id, dates, now),
		Supplies: []maintenance.SupplyAlert{},
		Records:  records,
	}
	if resp.Records == nil {
		resp.Records = []maintenance.Record{}
	}
	if hasStatus {
		var last time.Time
		if len(records) > 0 {
			last = records[0].PerformedAt
		}
		p := maintenance.Predict(st.Counters, last, now)
		resp.Prediction = &p
		if alerts := maintenance.SupplyAlerts(st, m.cfg.LowSupplyPercent, m.cfg.CriticalSupplyPercent); alerts != nil {
			resp.Supplies = alerts
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRecordMaintenance logs a completed maintenance visit.
//
//	@Summary		Record maintenance
//	@Tags			fleet
//	@Accept			json
//	@Produce		json
//	@Param			id path string true "Device ID"
//	@Param			body body maintenanceRequest false "Visit details"
//	@Success		201 {object} maintenance.Record
//	@Failure		400 {object} server.Problem
//	@Failure		404 {object} server.Problem
//	@Router			/fleet/devices/{id}/maintenance [post]
func (m *Module) handleRecordMaintenance(w http.ResponseWriter, r *http.Request) {
	if m.maint == nil {
		server.ServiceUnavailable(w, "maintenance store not available", r.URL.Path)
		return
	}
	id := r.PathValue("id")
	if _, known := m.router.Target(id); !known {
		server.NotFound(w, "unknown device", r.URL.Path)
		return
	}

	var req maintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	rec := &maintenance.Record{
		DeviceID:    id,
		PerformedAt: m.now().UTC(),
		Technician:  req.Technician,
		Notes:       req.Notes,
	}
	if req.PerformedAt != nil {
		if req.PerformedAt.After(m.now()) {
			server.BadRequest(w, "performed_at must not be in the future", r.URL.Path)
			return
		}
		rec.PerformedAt = req.PerformedAt.UTC()
	}
	if err := m.maint.Insert(r.Context(), rec); err != nil {
		m.logger.Warn("failed to record maintenance", zap.String("device_id", id), zap.Error(err))
		server.InternalError(w, "failed to record maintenance", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleMaintenanceAlerts returns the maintenance alert of every configured
// device, most urgent first.
//
//	@Summary		Maintenance alerts
//	@Tags			fleet
//	@Produce		json
//	@Success		200 {array} maintenance.Alert
//	@Failure		503 {object} server.Problem
//	@Router			/fleet/maintenance/alerts [get]
func (m *Module) handleMaintenanceAlerts(w http.ResponseWriter, r *http.Request) {
	if m.maint == nil {
		server.ServiceUnavailable(w, "maintenance store not available", r.URL.Path)
		return
	}
	now := m.now()
	targets := m.router.Targets()
	alerts := make([]maintenance.Alert, 0, len(targets))
	for _, t := range targets {
		dates, err := m.maint.Dates(r.Context(), t.ID)
		if err != nil {
			m.logger.Warn("failed to load maintenance dates", zap.String("device_id", t.ID), zap.Error(err))
			server.InternalError(w, "failed to load maintenance history", r.URL.Path)
			return
		}
		alerts = append(alerts, maintenance.Classify(t.ID, dates, now))
	}
	maintenance.SortAlerts(alerts)
	writeJSON(w, http.StatusOK, alerts)
}

// handleStats returns fleet statistics, cached for the configured TTL.
//
//	@Summary		Fleet statistics
//	@Tags			fleet
//	@Produce		json
//	@Param			location query string false "Limit to one location"
//	@Success		200 {object} stats.FleetStats
//	@Router			/fleet/stats [get]
func (m *Module) handleStats(w http.ResponseWriter, r *http.Request) {
	fs, err := m.stats.Get(r.Context(), r.URL.Query().Get("location"))
	if err != nil {
		m.logger.Warn("failed to compute stats", zap.Error(err))
		server.InternalError(w, "failed to compute stats", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
