package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook posts JSON events to an external endpoint (chat bot, SMS
// gateway, ...). A Webhook with an empty URL is disabled.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Enabled() bool { return w != nil && w.url != "" }

type webhookEvent struct {
	Event   string    `json:"event"`
	SentAt  time.Time `json:"sent_at"`
	Payload any       `json:"payload"`
}

func (w *Webhook) Send(ctx context.Context, event string, payload any) error {
	if !w.Enabled() {
		return nil
	}
	data, err := json.Marshal(webhookEvent{Event: event, SentAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode webhook %s: %w", event, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", event, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook %s: status %d: %s", event, resp.StatusCode, body)
	}
	return nil
}
