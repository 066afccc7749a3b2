package models

import "time"

// Provider webhook status values. They map onto the recipient delivery
// statuses of the same name.
const (
	WebhookStatusSent      = "sent"
	WebhookStatusDelivered = "delivered"
	WebhookStatusRead      = "read"
	WebhookStatusFailed    = "failed"
)

// StatusEvent is one normalized delivery-status record extracted from a
// provider webhook payload. MessageID is the provider-assigned id that
// joins back to Recipient.ExternalMessageID.
type StatusEvent struct {
	MessageID    string
	Status       string
	Timestamp    time.Time
	ErrorCode    string
	ErrorMessage string
}

// IsValidWebhookStatus checks if the provider status is one we track
func IsValidWebhookStatus(status string) bool {
	switch status {
	case WebhookStatusSent, WebhookStatusDelivered, WebhookStatusRead, WebhookStatusFailed:
		return true
	default:
		return false
	}
}
