package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier POSTs notifications as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client}
}

type webhookPayload struct {
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
	Severity  string `json:"severity"`
	Action    string `json:"action"`
	RequestID string `json:"request_id"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookPayload{
		Subject:   n.Subject,
		HTML:      n.HTML,
		Severity:  string(n.Severity),
		Action:    n.Action,
		RequestID: n.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes notifications to a logger. It is used when no webhook is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.Logger.WarnContext(ctx, "audit alert",
		"subject", n.Subject,
		"severity", string(n.Severity),
		"action", n.Action,
		"request_id", n.RequestID,
	)
	return nil
}
