package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPNotifier sends notifications through the notification subsystem's
// HTTP API. The client is injected so callers control timeouts.
type HTTPNotifier struct {
	url    string
	client *http.Client
}

// NewHTTPNotifier creates a new HTTPNotifier. A nil client falls back to
// http.DefaultClient.
func NewHTTPNotifier(url string, client *http.Client) *HTTPNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNotifier{url: url, client: client}
}

// Send delivers one notification and reports the outcome.
func (n *HTTPNotifier) Send(ctx context.Context, channel, target, subject, body string) (*NotificationResult, error) {
	requestBody, err := json.Marshal(map[string]string{
		"channel": channel,
		"target":  target,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url+"/notifications", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NotificationResult{
			Success: false,
			Error:   fmt.Sprintf("notification service returned status %d", resp.StatusCode),
		}, nil
	}

	var result NotificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return &result, nil
}
