package fleet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/server"
	"github.com/HerbHall/printwatch/internal/source"
	"github.com/HerbHall/printwatch/pkg/models"
)

// statusCSVHeaders returns the export column headers.
func statusCSVHeaders() []string {
	return []string{
		"id", "name", "location", "model", "state", "stale",
		"error", "supplies", "total_pages", "jam_count", "updated_at",
	}
}

// statusToCSVRow converts a status to a row matching statusCSVHeaders.
func statusToCSVRow(s models.DeviceStatus) []string {
	supplies := make([]string, 0, len(s.Supplies))
	for _, sp := range s.Supplies {
		supplies = append(supplies, fmt.Sprintf("%s=%d", sp.Name, sp.LevelPercent))
	}
	updated := ""
	if !s.UpdatedAt.IsZero() {
		updated = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		s.ID,
		s.DisplayName,
		s.Location,
		s.Model,
		string(s.State),
		strconv.FormatBool(s.Stale),
		s.ErrorMessage,
		strings.Join(supplies, ";"),
		strconv.FormatInt(s.Counters.TotalPages, 10),
		strconv.FormatInt(s.Counters.JamCount, 10),
		updated,
	}
}

// targetCSVColumns is the column order accepted by the import endpoint.
// Trailing columns may be omitted.
var targetCSVColumns = []string{
	"id", "name", "location", "model", "driver", "address",
	"community", "api_key", "remote_id", "interval_seconds",
}

// csvRowToTarget parses an import row.
func csvRowToTarget(row []string) (source.Target, error) {
	if len(row) < 5 {
		return source.Target{}, fmt.Errorf("expected at least 5 columns, got %d", len(row))
	}
	col := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	t := source.Target{
		ID:          col(0),
		DisplayName: col(1),
		Location:    col(2),
		Model:       col(3),
		Driver:      col(4),
		Address:     col(5),
		Community:   col(6),
		APIKey:      col(7),
		RemoteID:    col(8),
	}
	if raw := col(9); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			return source.Target{}, fmt.Errorf("invalid interval_seconds %q", raw)
		}
		t.Interval = time.Duration(secs) * time.Second
	}
	return t, nil
}

type importResult struct {
	Line     int    `json:"line"`
	DeviceID string `json:"device_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

type importResponse struct {
	Imported int            `json:"imported"`
	Failed   int            `json:"failed"`
	Results  []importResult `json:"results"`
}

// handleExportCSV writes the current fleet status as CSV.
//
//	@Summary		Export fleet status
//	@Tags			fleet
//	@Produce		text/csv
//	@Param			location query string false "Filter by location"
//	@Success		200 {string} string "CSV"
//	@Router			/fleet/export.csv [get]
func (m *Module) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="printwatch-fleet.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write(statusCSVHeaders())
	for _, st := range m.statuses(r.URL.Query().Get("location")) {
		_ = cw.Write(statusToCSVRow(st))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		m.logger.Warn("csv export failed", zap.Error(err))
	}
}

// handleImportCSV registers and starts monitoring every device in a CSV
// body. A header row starting with "id" is skipped. Rows are independent.
//
//	@Summary		Import devices
//	@Tags			fleet
//	@Accept			text/csv
//	@Produce		json
//	@Success		200 {object} importResponse
//	@Failure		400 {object} server.Problem
//	@Router			/fleet/devices/import [post]
func (m *Module) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	cr := csv.NewReader(http.MaxBytesReader(w, r.Body, 1<<20))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	resp := importResponse{Results: []importResult{}}
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			server.BadRequest(w, fmt.Sprintf("line %d: %v", line, err), r.URL.Path)
			return
		}
		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), targetCSVColumns[0]) {
			continue
		}

		res := importResult{Line: line}
		t, err := csvRowToTarget(row)
		if err == nil {
			res.DeviceID = t.ID
			err = m.startDevice(r.Context(), t)
		}
		if err != nil {
			res.Error = err.Error()
			resp.Failed++
		} else {
			resp.Imported++
		}
		resp.Results = append(resp.Results, res)
	}

	m.logger.Info("device import finished",
		zap.Int("imported", resp.Imported),
		zap.Int("failed", resp.Failed),
	)
	writeJSON(w, http.StatusOK, resp)
}
