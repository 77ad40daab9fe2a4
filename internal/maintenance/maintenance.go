// Package maintenance classifies scheduled-maintenance urgency, predicts
// maintenance needs from usage counters and flags low supplies.
package maintenance

import (
	"math"
	"slices"
	"time"

	"github.com/HerbHall/printwatch/pkg/models"
)

// Months between scheduled maintenance visits.
const intervalMonths = 6

// Classification thresholds, in days until the next visit.
const (
	urgentDays  = 15
	warningDays = 30
)

// AlertStatus grades how soon a device needs its scheduled maintenance.
type AlertStatus string

const (
	StatusOK      AlertStatus = "ok"
	StatusWarning AlertStatus = "warning"
	StatusUrgent  AlertStatus = "urgent"
	StatusOverdue AlertStatus = "overdue"
)

// Priority orders statuses for display; higher is more pressing.
func (s AlertStatus) Priority() int {
	switch s {
	case StatusOverdue:
		return 4
	case StatusUrgent:
		return 3
	case StatusWarning:
		return 2
	default:
		return 1
	}
}

// Alert is the scheduled-maintenance state of one device. DaysUntil and
// the dates are nil when the device has no maintenance history.
type Alert struct {
	DeviceID        string      `json:"device_id"`
	Status          AlertStatus `json:"status"`
	DaysUntil       *int        `json:"days_until,omitempty"`
	LastMaintenance *time.Time  `json:"last_maintenance,omitempty"`
	NextMaintenance *time.Time  `json:"next_maintenance,omitempty"`
}

// Classify computes the maintenance alert for a device from the dates of
// its past maintenance visits.
func Classify(deviceID string, history []time.Time, now time.Time) Alert {
	a := Alert{DeviceID: deviceID, Status: StatusOK}
	if len(history) == 0 {
		return a
	}
	last := slices.MaxFunc(history, func(x, y time.Time) int { return x.Compare(y) })
	next := last.AddDate(0, intervalMonths, 0)
	days := int(math.Ceil(next.Sub(now).Hours() / 24))

	a.LastMaintenance = &last
	a.NextMaintenance = &next
	a.DaysUntil = &days
	switch {
	case days < 0:
		a.Status = StatusOverdue
	case days <= urgentDays:
		a.Status = StatusUrgent
	case days <= warningDays:
		a.Status = StatusWarning
	}
	return a
}

// SortAlerts orders alerts by priority, most pressing first, then by days
// remaining.
func SortAlerts(alerts []Alert) {
	slices.SortStableFunc(alerts, func(a, b Alert) int {
		if d := b.Status.Priority() - a.Status.Priority(); d != 0 {
			return d
		}
		return daysOrMax(a) - daysOrMax(b)
	})
}

func daysOrMax(a Alert) int {
	if a.DaysUntil == nil {
		return math.MaxInt32
	}
	return *a.DaysUntil
}

// Severity grades a predicted maintenance need.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Prediction thresholds.
const (
	jamFrequencyHigh    = 0.1
	totalPagesMedium    = 10000
	daysSinceLastMedium = 90
)

// Prediction is the outcome of the usage-based maintenance analysis.
type Prediction struct {
	Needed               bool     `json:"needed"`
	Severity             Severity `json:"severity"`
	JamFrequency         float64  `json:"jam_frequency"`
	TotalPages           int64    `json:"total_pages"`
	DaysSinceMaintenance int      `json:"days_since_maintenance"`
}

// Predict decides whether preventive maintenance is recommended. A jam
// frequency above 10% is high severity; more than 10000 pages or 90 days
// since the last visit is medium. A zero lastMaintenance counts as today.
func Predict(c models.Counters, lastMaintenance, now time.Time) Prediction {
	p := Prediction{Severity: SeverityLow, TotalPages: c.TotalPages}
	if c.TotalPages > 0 {
		p.JamFrequency = float64(c.JamCount) / float64(c.TotalPages)
	}
	if !lastMaintenance.IsZero() {
		p.DaysSinceMaintenance = int(math.Floor(now.Sub(lastMaintenance).Hours() / 24))
	}
	switch {
	case p.JamFrequency > jamFrequencyHigh:
		p.Needed, p.Severity = true, SeverityHigh
	case p.TotalPages > totalPagesMedium || p.DaysSinceMaintenance > daysSinceLastMedium:
		p.Needed, p.Severity = true, SeverityMedium
	}
	return p
}

// SupplyLevel grades a consumable.
type SupplyLevel string

const (
	SupplyLow      SupplyLevel = "low"
	SupplyCritical SupplyLevel = "critical"
)

// SupplyAlert flags one consumable at or below a threshold.
type SupplyAlert struct {
	DeviceID     string      `json:"device_id"`
	Supply       string      `json:"supply"`
	LevelPercent int         `json:"level_percent"`
	Level        SupplyLevel `json:"level"`
}

// SupplyAlerts returns an alert for every supply of st at or below
// lowPercent, marked critical at or below criticalPercent.
func SupplyAlerts(st models.DeviceStatus, lowPercent, criticalPercent int) []SupplyAlert {
	var out []SupplyAlert
	for _, s := range st.Supplies {
		if s.LevelPercent > lowPercent {
			continue
		}
		level := SupplyLow
		if s.LevelPercent <= criticalPercent {
			level = SupplyCritical
		}
		out = append(out, SupplyAlert{
			DeviceID:     st.ID,
			Supply:       s.Name,
			LevelPercent: s.LevelPercent,
			Level:        level,
		})
	}
	return out
}
