package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/propline/campaign-engine/internal/models"
)

// SMSAdapter sends messages through a JSON SMS gateway. The gateway
// base URL lives in the connection credentials, so one adapter serves
// whichever provider a tenant has configured.
type SMSAdapter struct {
	client *http.Client
}

// NewSMSAdapter creates an SMS adapter
func NewSMSAdapter(client *http.Client) *SMSAdapter {
	return &SMSAdapter{client: client}
}

// Channel returns the channel this adapter serves
func (a *SMSAdapter) Channel() string {
	return models.ChannelSMS
}

type smsSendRequest struct {
	To       string `json:"to"`
	Message  string `json:"message"`
	SenderID string `json:"sender_id,omitempty"`
}

type smsSendResponse struct {
	MessageID string `json:"message_id"`
	ErrorCode string `json:"error_code"`
	Error     string `json:"error"`
}

// Send performs one SMS gateway send for a recipient
func (a *SMSAdapter) Send(ctx context.Context, conn *models.Connection, recipient *models.Recipient, body string) (*SendResult, error) {
	if err := validatePhone(recipient.Address); err != nil {
		return nil, err
	}

	var creds models.SMSCredentials
	if err := json.Unmarshal(conn.Credentials, &creds); err != nil {
		return nil, NewSendError(models.ErrCodeConnectionError, fmt.Sprintf("bad sms credentials: %v", err))
	}
	if creds.APIKey == "" || creds.BaseURL == "" {
		return nil, NewSendError(models.ErrCodeConnectionError, "sms connection is missing api key or gateway url")
	}

	payload, err := json.Marshal(smsSendRequest{
		To:       recipient.Address,
		Message:  body,
		SenderID: creds.SenderID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		code, message := Normalize(err)
		return nil, NewSendError(code, message)
	}
	defer resp.Body.Close()

	var decoded smsSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewSendError(models.ErrCodeProviderError, fmt.Sprintf("undecodable sms gateway response: %v", err))
	}

	if resp.StatusCode >= 400 {
		return nil, normalizeSMSFailure(resp.StatusCode, &decoded)
	}

	if decoded.MessageID == "" {
		return nil, NewSendError(models.ErrCodeProviderError, "sms gateway response carried no message id")
	}

	return &SendResult{ExternalID: decoded.MessageID}, nil
}

func normalizeSMSFailure(status int, decoded *smsSendResponse) *SendError {
	message := decoded.Error
	if message == "" {
		message = fmt.Sprintf("sms gateway send failed with status %d", status)
	}

	// Gateways that already speak our vocabulary pass straight through
	if decoded.ErrorCode != "" {
		return NewSendError(decoded.ErrorCode, message)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return NewSendError(models.ErrCodeRateLimited, message)
	case status >= 500:
		return NewSendError(models.ErrCodeProviderError, message)
	default:
		return NewSendError(models.ErrCodeProviderError, message)
	}
}
