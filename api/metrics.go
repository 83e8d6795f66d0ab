package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertRevocationSpike AlertType = "revocation_spike"
	AlertIssuanceFailure AlertType = "issuance_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector exports audit counters to Prometheus and tracks sliding
// windows for anomaly detection.
type metricsCollector struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec

	mu sync.Mutex

	revocations         []time.Time
	revocationWindow    time.Duration
	revocationThreshold int

	failures         []time.Time
	failureWindow    time.Duration
	failureThreshold int

	alertFn AlertFunc
}

const (
	defaultRevocationWindow    = 5 * time.Minute
	defaultRevocationThreshold = 100
	defaultFailureWindow       = 1 * time.Minute
	defaultFailureThreshold    = 50
)

// newMetricsCollector registers its collectors on reg. A nil reg gets a
// private registry.
func newMetricsCollector(reg *prometheus.Registry, alertFn AlertFunc) *metricsCollector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &metricsCollector{
		registry: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camanager",
			Name:      "audit_events_total",
			Help:      "Number of audited CA operations by event.",
		}, []string{"event"}),
		revocationWindow:    defaultRevocationWindow,
		revocationThreshold: defaultRevocationThreshold,
		failureWindow:       defaultFailureWindow,
		failureThreshold:    defaultFailureThreshold,
		alertFn:             alertFn,
	}
	reg.MustRegister(m.events)
	return m
}

// handler serves the collector's registry in the Prometheus text format.
func (m *metricsCollector) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// recordEvent counts an audit event and updates the relevant windows.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(event)).Inc()
	if m.alertFn == nil {
		return
	}
	switch event {
	case AuditCertRevoked, AuditCARevoked:
		m.recordRevocation()
	case AuditIssuanceFailed:
		m.recordFailure()
	}
}

func (m *metricsCollector) recordRevocation() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.revocations = append(m.revocations, now)
	m.revocations = trimWindow(m.revocations, now, m.revocationWindow)

	if len(m.revocations) >= m.revocationThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertRevocationSpike,
			Message:   "revocation rate exceeds threshold",
			Count:     len(m.revocations),
			Threshold: m.revocationThreshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		m.revocations = m.revocations[:0]
	}
}

func (m *metricsCollector) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.failures = append(m.failures, now)
	m.failures = trimWindow(m.failures, now, m.failureWindow)

	if len(m.failures) >= m.failureThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertIssuanceFailure,
			Message:   "issuance failure rate exceeds threshold",
			Count:     len(m.failures),
			Threshold: m.failureThreshold,
			Timestamp: now,
		})
		m.failures = m.failures[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
