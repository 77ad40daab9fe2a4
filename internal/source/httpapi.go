package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/HerbHall/printwatch/internal/version"
	"github.com/HerbHall/printwatch/pkg/models"
)

const defaultHTTPTimeout = 10 * time.Second

// apiStatus is the printer status document served by the vendor API.
type apiStatus struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Location string `json:"location"`
	Status   string `json:"status"`
	Supplies []struct {
		Type  string `json:"type"`
		Level int    `json:"level"`
		Color string `json:"color,omitempty"`
	} `json:"supplies"`
	LastPrintJob *struct {
		Name      string    `json:"name"`
		Timestamp time.Time `json:"timestamp"`
		Pages     int       `json:"pages"`
	} `json:"lastPrintJob,omitempty"`
	Error    string `json:"error,omitempty"`
	Counters *struct {
		TotalPages int64 `json:"totalPages"`
		Jams       int64 `json:"jams"`
	} `json:"counters,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

// HTTPDriver reads printer status from a vendor REST API authenticated
// with a bearer API key.
type HTTPDriver struct {
	client  *resty.Client
	timeout time.Duration
}

// NewHTTPDriver creates an HTTP driver. Transport retries are left to the
// monitor's retry policy.
func NewHTTPDriver(timeout time.Duration) *HTTPDriver {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := resty.New().
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent()).
		SetRetryCount(0)
	return &HTTPDriver{client: client, timeout: timeout}
}

// Fetch calls GET {address}/printers/{remote_id}/status.
func (d *HTTPDriver) Fetch(ctx context.Context, t Target) (models.DeviceStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout(d.timeout))
	defer cancel()

	var (
		body    apiStatus
		failure apiError
	)
	req := d.client.R().
		SetContext(ctx).
		SetPathParam("id", t.remoteID()).
		SetResult(&body).
		SetError(&failure)
	if t.APIKey != "" {
		req.SetAuthToken(t.APIKey)
	}
	resp, err := req.Get(strings.TrimRight(t.Address, "/") + "/printers/{id}/status")
	if err != nil {
		return models.DeviceStatus{}, fmt.Errorf("printer api %s: %w", t.Address, err)
	}
	if resp.IsError() {
		msg := failure.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return models.DeviceStatus{}, fmt.Errorf("printer api %s: status %d: %s", t.Address, resp.StatusCode(), msg)
	}
	return body.toStatus()
}

func (a apiStatus) toStatus() (models.DeviceStatus, error) {
	state, err := models.ParseOperationalState(a.Status)
	if err != nil {
		return models.DeviceStatus{}, err
	}
	st := models.DeviceStatus{
		DisplayName:  a.Name,
		Location:     a.Location,
		Model:        a.Model,
		State:        state,
		ErrorMessage: a.Error,
		Supplies:     make([]models.Supply, 0, len(a.Supplies)),
	}
	// Some firmwares report an error string while still online.
	if st.ErrorMessage != "" && st.State == models.StateOnline {
		st.State = models.StateError
	}
	for _, s := range a.Supplies {
		st.Supplies = append(st.Supplies, models.Supply{
			Name:         s.Type,
			LevelPercent: s.Level,
			ColorHint:    colorHint(s.Type, s.Color),
		})
	}
	if a.LastPrintJob != nil {
		st.LastJob = &models.JobSnapshot{
			Name:        a.LastPrintJob.Name,
			CompletedAt: a.LastPrintJob.Timestamp,
			Pages:       a.LastPrintJob.Pages,
		}
	}
	if a.Counters != nil {
		st.Counters = models.Counters{TotalPages: a.Counters.TotalPages, JamCount: a.Counters.Jams}
	}
	return st, nil
}
