package services

import "context"

// NotificationResult reports the outcome of a delivery attempt.
type NotificationResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NotificationSender delivers notifications through the external
// notification subsystem (email/SMS/chat).
type NotificationSender interface {
	// Send delivers one notification and reports the outcome.
	Send(ctx context.Context, channel, target, subject, body string) (*NotificationResult, error)
}
