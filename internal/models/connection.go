package models

import "encoding/json"

// Connection statuses as written by the onboarding flow
const (
	ConnectionStatusActive   = "active"
	ConnectionStatusInactive = "inactive"
)

// Connection is a configured, credentialed link to a channel provider.
// It is owned by the connection onboarding flow; this engine only reads
// it to resolve credentials for a campaign's sends.
type Connection struct {
	ID          int64           `json:"id"`
	CompanyID   int64           `json:"company_id"`
	Channel     string          `json:"channel"`
	Provider    string          `json:"provider"`
	Identifier  string          `json:"identifier"`
	Credentials json.RawMessage `json:"-"`
	Status      string          `json:"status"`
}

// IsActive reports whether the connection can be used for sending
func (c *Connection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}

// WhatsAppCredentials holds the decoded credential payload for a
// WhatsApp Business connection
type WhatsAppCredentials struct {
	AccessToken   string `json:"access_token"`
	PhoneNumberID string `json:"phone_number_id"`
}

// EmailCredentials holds the decoded credential payload for an email
// provider connection
type EmailCredentials struct {
	APIKey    string `json:"api_key"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

// SMSCredentials holds the decoded credential payload for an SMS
// gateway connection
type SMSCredentials struct {
	APIKey   string `json:"api_key"`
	SenderID string `json:"sender_id"`
	BaseURL  string `json:"base_url"`
}
