// Package notify provides the seam through which breakpoint manager
// events reach external collaborators (MCP stdio/SSE adapters, webhook
// receivers) that live outside this module, plus two concrete sinks.
package notify

import (
	"bytes"
	"net/http"
	"time"

	"github.com/curtcox/cideldill/internal/comerrors"
	"github.com/curtcox/cideldill/internal/events"
	"github.com/curtcox/cideldill/internal/logging"
)

var log = logging.New("notify")

// Sink receives breakpoint manager observer events.
type Sink interface {
	Notify(event string, payload map[string]any)
}

// LogSink writes every event as a structured log line. Useful as the
// default sink and in tests.
type LogSink struct{}

func (LogSink) Notify(event string, payload map[string]any) {
	log.Info("event", "type", event, "payload", payload)
}

// WebhookSink POSTs each event as a CloudEvents-shaped JSON body to a
// fixed URL, recording delivery failures in errs rather than surfacing
// them to the caller — matching the breakpoint manager's "an observer
// exception MUST NOT affect the caller" discipline one layer up.
type WebhookSink struct {
	URL    string
	Client *http.Client
	errs   *comerrors.Ring
}

// NewWebhookSink returns a WebhookSink posting to url, recording failed
// deliveries into errs.
func NewWebhookSink(url string, errs *comerrors.Ring) *WebhookSink {
	return &WebhookSink{URL: url, Client: &http.Client{Timeout: 5 * time.Second}, errs: errs}
}

func (w *WebhookSink) Notify(event string, payload map[string]any) {
	ce := events.NewCloudEvent(event, "cideldill", events.SubjectOf(payload), payload)
	body, err := ce.JSON()
	if err != nil {
		w.record("marshal event: " + err.Error())
		return
	}

	resp, err := w.Client.Post(w.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		w.record("post event: " + err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		w.record("webhook responded with status " + resp.Status)
	}
}

func (w *WebhookSink) record(message string) {
	log.Warn("webhook delivery failed", "message", message)
	if w.errs != nil {
		w.errs.Add("webhook", message)
	}
}
