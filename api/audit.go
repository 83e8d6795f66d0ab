package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of CA operation being logged.
type AuditEvent string

const (
	AuditCACreated      AuditEvent = "ca_created"
	AuditCARenewed      AuditEvent = "ca_renewed"
	AuditCARevoked      AuditEvent = "ca_revoked"
	AuditCAUnrevoked    AuditEvent = "ca_unrevoked"
	AuditCertIssued     AuditEvent = "cert_issued"
	AuditCertRevoked    AuditEvent = "cert_revoked"
	AuditCertUnrevoked  AuditEvent = "cert_unrevoked"
	AuditCRLGenerated   AuditEvent = "crl_generated"
	AuditIssuanceFailed AuditEvent = "issuance_failed"
)

// auditLogger writes structured audit entries and fans them out to the
// persisted trail, the metrics collector and the optional webhook.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	store   *auditStore
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log records event for ca. serial may be empty. Passwords and key material
// are never passed here.
func (al *auditLogger) log(event AuditEvent, r *http.Request, ca, serial string, extra ...slog.Attr) {
	now := time.Now().UTC()
	attrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.Format(time.RFC3339)),
		slog.String("ca", ca),
	}
	if serial != "" {
		attrs = append(attrs, slog.String("serial", serial))
	}
	attrs = append(attrs, extra...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", attrs...)

	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.store != nil {
		if err := al.store.append(r.Context(), event, ca, serial, now); err != nil {
			al.logger.WarnContext(r.Context(), "persisting audit event failed", "event", string(event), "error", err)
		}
	}
	if al.webhook != nil {
		evt := webhookEvent{
			Event:      string(event),
			CA:         ca,
			Serial:     serial,
			RemoteAddr: r.RemoteAddr,
			Timestamp:  now.Format(time.RFC3339),
		}
		if len(extra) > 0 {
			evt.Attrs = make(map[string]string, len(extra))
			for _, a := range extra {
				evt.Attrs[a.Key] = a.Value.String()
			}
		}
		al.webhook.enqueue(evt)
	}
}

// logFailure records a failed operation with its reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, ca, reason string) {
	al.log(event, r, ca, "", slog.String("reason", reason))
}
