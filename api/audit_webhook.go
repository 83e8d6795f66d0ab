package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	webhookQueueSize  = 1024
	webhookAttempts   = 2
	webhookRetryDelay = time.Second
)

// webhookEvent is the JSON payload POSTed to the audit endpoint.
type webhookEvent struct {
	Event      string            `json:"event"`
	CA         string            `json:"ca,omitempty"`
	Serial     string            `json:"serial,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards audit events to an external HTTP endpoint from a
// background goroutine. enqueue never blocks; events are dropped when the
// queue is full.
type auditWebhook struct {
	url    string
	header [2]string
	client *http.Client
	logger *slog.Logger
	events chan webhookEvent
	retry  time.Duration
	wg     sync.WaitGroup
}

// newAuditWebhook starts a dispatcher for url. authHeader has the form
// "Name: value" and may be empty.
func newAuditWebhook(url, authHeader string, logger *slog.Logger) *auditWebhook {
	w := &auditWebhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		events: make(chan webhookEvent, webhookQueueSize),
		retry:  webhookRetryDelay,
	}
	if name, value, ok := strings.Cut(authHeader, ":"); ok {
		w.header = [2]string{strings.TrimSpace(name), strings.TrimSpace(value)}
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	select {
	case w.events <- evt:
	default:
		w.logger.Warn("audit webhook queue full, dropping event", "event", evt.Event)
	}
}

// close stops accepting events and waits until the queue is drained.
func (w *auditWebhook) close() {
	close(w.events)
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.send(context.Background(), evt)
	}
}

// send POSTs evt, retrying once on transport errors and 5xx responses.
func (w *auditWebhook) send(ctx context.Context, evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("audit webhook marshal failed", "error", err)
		return
	}

	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retry)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("audit webhook request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "camanager-audit-webhook/1.0")
		if w.header[0] != "" {
			req.Header.Set(w.header[0], w.header[1])
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("audit webhook request failed", "error", err, "attempt", attempt)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("audit webhook server error", "status", resp.StatusCode, "attempt", attempt)
		default:
			w.logger.Warn("audit webhook rejected event", "status", resp.StatusCode)
			return
		}
	}
}
