package api

import (
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []AlertEvent
}

func (r *alertRecorder) record(e AlertEvent) {
	r.mu.Lock()
	r.alerts = append(r.alerts, e)
	r.mu.Unlock()
}

func (r *alertRecorder) snapshot() []AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlertEvent(nil), r.alerts...)
}

func TestRevocationSpikeAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(nil, rec.record)
	collector.revocationThreshold = 5

	for range 4 {
		collector.recordEvent(AuditCertRevoked)
	}
	assert.Empty(t, rec.snapshot(), "no alert below threshold")

	collector.recordEvent(AuditCARevoked)
	alerts := rec.snapshot()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRevocationSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)
}

func TestIssuanceFailureAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(nil, rec.record)
	collector.failureThreshold = 3

	collector.recordEvent(AuditIssuanceFailed)
	collector.recordEvent(AuditCertIssued)
	collector.recordEvent(AuditIssuanceFailed)
	assert.Empty(t, rec.snapshot())

	collector.recordEvent(AuditIssuanceFailed)
	alerts := rec.snapshot()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertIssuanceFailure, alerts[0].Type)
}

func TestMetricsNoAlertWithoutCallback(t *testing.T) {
	collector := newMetricsCollector(nil, nil)
	collector.recordEvent(AuditCertRevoked)
}

func TestMetricsNilCollector(t *testing.T) {
	var collector *metricsCollector
	collector.recordEvent(AuditCertRevoked)
}

func TestMetricsSlidingWindowExpiry(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(nil, rec.record)
	collector.revocationThreshold = 5
	collector.revocationWindow = 100 * time.Millisecond

	for range 4 {
		collector.recordEvent(AuditCertRevoked)
	}
	time.Sleep(150 * time.Millisecond)

	collector.recordEvent(AuditCertRevoked)
	assert.Empty(t, rec.snapshot(), "old revocations should not count after window expiry")
}

func TestMetricsResetAfterAlert(t *testing.T) {
	rec := &alertRecorder{}
	collector := newMetricsCollector(nil, rec.record)
	collector.revocationThreshold = 3

	for range 3 {
		collector.recordEvent(AuditCertRevoked)
	}
	require.Len(t, rec.snapshot(), 1, "first alert triggered")

	for range 2 {
		collector.recordEvent(AuditCertRevoked)
	}
	assert.Len(t, rec.snapshot(), 1, "no second alert yet")

	collector.recordEvent(AuditCertRevoked)
	assert.Len(t, rec.snapshot(), 2, "second alert triggered")
}

func TestMetricsHandlerExportsCounters(t *testing.T) {
	collector := newMetricsCollector(nil, nil)
	collector.recordEvent(AuditCertIssued)
	collector.recordEvent(AuditCertIssued)
	collector.recordEvent(AuditCRLGenerated)

	rr := httptest.NewRecorder()
	collector.handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `camanager_audit_events_total{event="cert_issued"} 2`)
	assert.Contains(t, string(body), `camanager_audit_events_total{event="crl_generated"} 1`)
}
