package fleet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HerbHall/printwatch/internal/monitor"
	"github.com/HerbHall/printwatch/pkg/models"
)

var allStates = []models.OperationalState{
	models.StateOnline,
	models.StateOffline,
	models.StateError,
	models.StateMaintenance,
}

// metrics exports polling outcomes and the latest device state to
// Prometheus. It implements monitor.Observer.
type metrics struct {
	polls        *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	state        *prometheus.GaugeVec
	stale        *prometheus.GaugeVec
	supply       *prometheus.GaugeVec
	failures     *prometheus.GaugeVec
	errors       *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printwatch",
			Name:      "polls_total",
			Help:      "Completed status fetches by device and result.",
		}, []string{"device", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "printwatch",
			Name:      "poll_duration_seconds",
			Help:      "Duration of status fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"device"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "printwatch",
			Name:      "device_state",
			Help:      "1 for the device's current operational state, 0 otherwise.",
		}, []string{"device", "state"}),
		stale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "printwatch",
			Name:      "device_stale",
			Help:      "1 when the device's status is stale after exhausted retries.",
		}, []string{"device"}),
		supply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "printwatch",
			Name:      "supply_level_percent",
			Help:      "Consumable level in percent.",
		}, []string{"device", "supply"}),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "printwatch",
			Name:      "consecutive_failures",
			Help:      "Consecutive failed fetches for the device.",
		}, []string{"device"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printwatch",
			Name:      "error_events_total",
			Help:      "Published device error events by severity.",
		}, []string{"severity"}),
	}
	if reg != nil {
		reg.MustRegister(m.polls, m.pollDuration, m.state, m.stale, m.supply, m.failures, m.errors)
	}
	return m
}

// ObservePoll implements monitor.Observer.
func (m *metrics) ObservePoll(deviceID string, elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.polls.WithLabelValues(deviceID, result).Inc()
	m.pollDuration.WithLabelValues(deviceID).Observe(elapsed.Seconds())
}

func (m *metrics) observeStatus(st models.DeviceStatus) {
	for _, s := range allStates {
		v := 0.0
		if st.State == s {
			v = 1
		}
		m.state.WithLabelValues(st.ID, string(s)).Set(v)
	}
	m.stale.WithLabelValues(st.ID).Set(0)
	m.failures.WithLabelValues(st.ID).Set(0)
	for _, s := range st.Supplies {
		m.supply.WithLabelValues(st.ID, s.Name).Set(float64(s.LevelPercent))
	}
}

func (m *metrics) observeError(e monitor.ErrorEvent, stale bool) {
	m.errors.WithLabelValues(string(e.Severity)).Inc()
	m.failures.WithLabelValues(e.DeviceID).Set(float64(e.FailureCount))
	if stale {
		m.stale.WithLabelValues(e.DeviceID).Set(1)
	}
}

// forget drops every series of a device that is no longer monitored.
func (m *metrics) forget(deviceID string) {
	labels := prometheus.Labels{"device": deviceID}
	m.polls.DeletePartialMatch(labels)
	m.pollDuration.DeletePartialMatch(labels)
	m.state.DeletePartialMatch(labels)
	m.stale.DeletePartialMatch(labels)
	m.supply.DeletePartialMatch(labels)
	m.failures.DeletePartialMatch(labels)
}
