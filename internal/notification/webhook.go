package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	URL    string
	Source string // e.g. "scalper"
	Symbol string

	// MinLevel drops quieter alerts. Empty sends everything.
	MinLevel AlertLevel
	Timeout  time.Duration
}

// webhookPayload is the body POSTed for each alert.
type webhookPayload struct {
	Source   string     `json:"source,omitempty"`
	Symbol   string     `json:"symbol,omitempty"`
	Level    AlertLevel `json:"level"`
	Critical bool       `json:"critical"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	SentAt   time.Time  `json:"sent_at"`
}

// WebhookNotifier POSTs session alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	if !alert.Level.AtLeast(w.cfg.MinLevel) {
		return nil
	}
	body, err := json.Marshal(webhookPayload{
		Source:   w.cfg.Source,
		Symbol:   w.cfg.Symbol,
		Level:    alert.Level,
		Critical: alert.Level == AlertCritical,
		Title:    alert.Title,
		Message:  alert.Message,
		SentAt:   w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Level", string(alert.Level))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send %q: %w", alert.Title, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[webhook] %s alert delivered: %s", alert.Level, alert.Title)
	return nil
}
