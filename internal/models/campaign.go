package models

import (
	"fmt"
	"time"
)

// Campaign status constants
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
)

// Campaign channel constants
const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
)

// Defaults applied when the authoring flow leaves policy fields unset
const (
	DefaultRateLimitPerSecond = 10
	DefaultMaxRetries         = 3
)

// Campaign represents one outbound messaging run on a single channel.
// It is created elsewhere in draft; this engine owns it from start until
// a terminal state.
type Campaign struct {
	ID                 int64      `json:"id"`
	CompanyID          int64      `json:"company_id"`
	Name               string     `json:"name"`
	Channel            string     `json:"channel"`
	ConnectionID       int64      `json:"connection_id"`
	TemplateBody       string     `json:"template_body"`
	Status             string     `json:"status"`
	RateLimitPerSecond int        `json:"rate_limit_per_second"`
	MaxRetries         int        `json:"max_retries"`
	TotalRecipients    int64      `json:"total_recipients"`
	SentCount          int64      `json:"sent_count"`
	DeliveredCount     int64      `json:"delivered_count"`
	OpenedCount        int64      `json:"opened_count"`
	FailedCount        int64      `json:"failed_count"`
	BouncedCount       int64      `json:"bounced_count"`
	ScheduledAt        *time.Time `json:"scheduled_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CampaignFilter holds filtering options for listing campaigns
type CampaignFilter struct {
	CompanyID int64
	Channel   string
	Status    string
	Page      int
	PageSize  int
}

// IsValidChannel checks if the channel is valid
func IsValidChannel(channel string) bool {
	switch channel {
	case ChannelWhatsApp, ChannelEmail, ChannelSMS:
		return true
	default:
		return false
	}
}

// IsValidCampaignStatus checks if the campaign status is valid
func IsValidCampaignStatus(status string) bool {
	switch status {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusSending,
		CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the campaign has reached a terminal state
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignStatusCompleted || c.Status == CampaignStatusFailed
}

// CanStart checks whether a start action is legal from the current status.
// Once a campaign is sending or beyond, start must be rejected so that
// repeated or concurrent triggers cannot double-send.
func (c *Campaign) CanStart() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled
}

// CanPause checks whether a pause action is legal from the current status
func (c *Campaign) CanPause() bool {
	return c.Status == CampaignStatusSending
}

// CanResume checks whether a resume action is legal from the current status
func (c *Campaign) CanResume() bool {
	return c.Status == CampaignStatusPaused
}

// BatchSize returns the number of recipients one dispatcher pass may claim
func (c *Campaign) BatchSize() int {
	if c.RateLimitPerSecond <= 0 {
		return DefaultRateLimitPerSecond
	}
	return c.RateLimitPerSecond
}

// RetryCeiling returns the effective retry ceiling for this campaign
func (c *Campaign) RetryCeiling() int {
	if c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// Validate performs validation on campaign data
func (c *Campaign) Validate() error {
	if c.Channel == "" {
		return ErrInvalidInput("channel is required")
	}
	if !IsValidChannel(c.Channel) {
		return ErrInvalidInput(fmt.Sprintf("invalid channel: %s (must be 'whatsapp', 'email' or 'sms')", c.Channel))
	}
	if c.ConnectionID <= 0 {
		return ErrInvalidInput("connection_id is required")
	}
	if c.Status != "" && !IsValidCampaignStatus(c.Status) {
		return ErrInvalidInput(fmt.Sprintf("invalid status: %s", c.Status))
	}
	return nil
}
