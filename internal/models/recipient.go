package models

import "time"

// Recipient delivery status constants
const (
	DeliveryStatusQueued    = "queued"
	DeliveryStatusSending   = "sending"
	DeliveryStatusSent      = "sent"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusRead      = "read"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusBounced   = "bounced"
)

// Recipient represents one addressee within a campaign with its own
// delivery lifecycle. Rows move queued -> sending -> sent/failed under
// the dispatcher, then forward along sent -> delivered -> read as
// provider webhooks arrive.
type Recipient struct {
	ID                int64             `json:"id"`
	CampaignID        int64             `json:"campaign_id"`
	Address           string            `json:"address"`
	LeadID            *int64            `json:"lead_id,omitempty"`
	TemplateVars      map[string]string `json:"template_vars,omitempty"`
	DeliveryStatus    string            `json:"delivery_status"`
	ExternalMessageID *string           `json:"external_message_id,omitempty"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
	ReadAt            *time.Time        `json:"read_at,omitempty"`
	FailedAt          *time.Time        `json:"failed_at,omitempty"`
	ErrorCode         *string           `json:"error_code,omitempty"`
	ErrorMessage      *string           `json:"error_message,omitempty"`
	RetryCount        int               `json:"retry_count"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// RecipientFilter holds filtering options for listing recipients
type RecipientFilter struct {
	CampaignID int64
	Status     string
	Page       int
	PageSize   int
}

// IsValidDeliveryStatus checks if the delivery status is valid
func IsValidDeliveryStatus(status string) bool {
	switch status {
	case DeliveryStatusQueued, DeliveryStatusSending, DeliveryStatusSent,
		DeliveryStatusDelivered, DeliveryStatusRead, DeliveryStatusFailed,
		DeliveryStatusBounced:
		return true
	default:
		return false
	}
}

// deliveryRank orders the post-send statuses so that webhook events can
// only move a recipient forward. failed and bounced are terminal.
var deliveryRank = map[string]int{
	DeliveryStatusSent:      1,
	DeliveryStatusDelivered: 2,
	DeliveryStatusRead:      3,
}

// DeliveryRank returns the monotonic rank of a post-send status, or 0
// for statuses that do not participate in the ordering.
func DeliveryRank(status string) int {
	return deliveryRank[status]
}

// IsTerminalDelivery reports whether the status admits no further transitions
func IsTerminalDelivery(status string) bool {
	return status == DeliveryStatusFailed || status == DeliveryStatusBounced
}

// CanRetry checks if a recipient is eligible for another send attempt.
// Permanently failed error codes are excluded regardless of budget.
func (r *Recipient) CanRetry(maxRetries int) bool {
	if r.DeliveryStatus != DeliveryStatusFailed {
		return false
	}
	if r.RetryCount >= maxRetries {
		return false
	}
	if r.ErrorCode != nil && IsPermanentErrorCode(*r.ErrorCode) {
		return false
	}
	return true
}
