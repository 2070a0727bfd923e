package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookDispatcher POSTs each delivery to a configured endpoint as JSON.
type WebhookDispatcher struct {
	url    string
	client *http.Client
}

func NewWebhookDispatcher(url string) *WebhookDispatcher {
	return &WebhookDispatcher{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *WebhookDispatcher) Channel() string { return "webhook" }

// webhookPayload is the JSON body posted for each delivery.
type webhookPayload struct {
	Event     string  `json:"event"`
	Recipient string  `json:"recipient"`
	Message   string  `json:"message"`
	Context   Context `json:"context"`
}

func (d *WebhookDispatcher) Deliver(ctx context.Context, recipient, message string, dctx Context) error {
	body, err := json.Marshal(webhookPayload{
		Event:     "incident." + dctx.ActionType,
		Recipient: recipient,
		Message:   message,
		Context:   dctx,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST to %s: %w", d.url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
