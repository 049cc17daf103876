package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shamrock-bonds/lead-pipeline/internal/config"
)

// Severity ranks a notification for the receiving channel.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityStandard Severity = "standard"
	SeverityUrgent   Severity = "urgent"
)

// Event is one outbound notification. Kind names what happened
// ("lead_qualified", "historical_match", "lead_released", "lead_stale");
// Detail carries kind-specific fields for the channel template.
type Event struct {
	Kind     string         `json:"kind"`
	Severity Severity       `json:"severity"`
	LeadID   string         `json:"lead_id,omitempty"`
	County   string         `json:"county,omitempty"`
	Summary  string         `json:"summary"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}

// Result reports delivery of one event. Delivery failure is never fatal to
// the caller's workflow; Err is informational.
type Result struct {
	Delivered bool
	Err       error
}

// Dispatcher delivers events to a staff-facing channel.
type Dispatcher interface {
	Notify(ctx context.Context, ev Event) Result
}

// WebhookDispatcher POSTs events as JSON to a configured endpoint, typically
// a chat-bridge relay. Failures are logged and swallowed into the Result.
type WebhookDispatcher struct {
	url    string
	client *http.Client
}

// NewWebhook builds a dispatcher for cfg.WebhookURL.
func NewWebhook(cfg config.NotifyConfig) *WebhookDispatcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify delivers ev. It never panics or fails the caller; a failed delivery
// comes back as Result{Delivered: false, Err: ...} and a warn log.
func (d *WebhookDispatcher) Notify(ctx context.Context, ev Event) Result {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := d.send(ctx, ev); err != nil {
		zap.L().Warn("notify: webhook delivery failed",
			zap.String("kind", ev.Kind),
			zap.String("lead_id", ev.LeadID),
			zap.Error(err),
		)
		return Result{Delivered: false, Err: err}
	}
	zap.L().Debug("notify: delivered",
		zap.String("kind", ev.Kind),
		zap.String("severity", string(ev.Severity)),
		zap.String("lead_id", ev.LeadID),
	)
	return Result{Delivered: true}
}

func (d *WebhookDispatcher) send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogDispatcher writes events to the structured log only. Used when no
// webhook URL is configured so callers never need a nil check.
type LogDispatcher struct{}

func (LogDispatcher) Notify(_ context.Context, ev Event) Result {
	zap.L().Info("notify: "+ev.Kind,
		zap.String("severity", string(ev.Severity)),
		zap.String("lead_id", ev.LeadID),
		zap.String("county", ev.County),
		zap.String("summary", ev.Summary),
	)
	return Result{Delivered: true}
}

// FromConfig returns the webhook dispatcher when a URL is configured,
// otherwise the log-only dispatcher.
func FromConfig(cfg config.NotifyConfig) Dispatcher {
	if cfg.WebhookURL == "" {
		return LogDispatcher{}
	}
	return NewWebhook(cfg)
}
