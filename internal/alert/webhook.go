package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const webhookTimeout = 10 * time.Second

// WebhookAlerter POSTs tree-integrity events to an HTTP endpoint. The body
// is the JSON encoding of Event: the tree kind and node count, every
// violation found by the check, and the summary message.
//
// Each request also carries X-Arbor-Event and X-Arbor-Tree headers so a
// receiver can route alerts without decoding the body.
type WebhookAlerter struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookAlerter returns an alerter posting to url. headers are added
// to every request, typically for authentication.
func NewWebhookAlerter(url string, headers map[string]string) *WebhookAlerter {
	return &WebhookAlerter{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: webhookTimeout},
	}
}

// Name returns "webhook".
func (w *WebhookAlerter) Name() string {
	return "webhook"
}

// Send delivers one integrity event. Any non-2xx response is an error that
// includes the start of the response body.
func (w *WebhookAlerter) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event for %s tree: %w", event.EventType, event.Tree.Kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Arbor-Event", event.EventType)
	req.Header.Set("X-Arbor-Tree", event.Tree.Kind)
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s alert: %w", event.Tree.Kind, err)
	}
	defer resp.Body.Close() //nolint:errcheck // response already consumed

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned status %d for %s alert: %s", resp.StatusCode, event.Tree.Kind, bytes.TrimSpace(snippet))
	}
	return nil
}
