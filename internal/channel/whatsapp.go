package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/propline/campaign-engine/internal/models"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// WhatsApp Cloud API error codes that mark a recipient as permanently
// unreachable
var whatsappPermanentCodes = map[int]string{
	131026: models.ErrCodeBlocked,      // message undeliverable, recipient blocked or opted out
	131047: models.ErrCodeUnsubscribed, // re-engagement window closed
	100:    models.ErrCodeInvalidPhone, // invalid parameter (bad recipient)
	131051: models.ErrCodeInvalidPhone, // unsupported message/recipient type
}

// WhatsAppAdapter sends text messages through the WhatsApp Business
// Cloud API
type WhatsAppAdapter struct {
	client  *http.Client
	baseURL string
}

// NewWhatsAppAdapter creates a WhatsApp adapter. baseURL overrides the
// Graph API endpoint, which tests use to point at a local server.
func NewWhatsAppAdapter(client *http.Client, baseURL string) *WhatsAppAdapter {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	return &WhatsAppAdapter{client: client, baseURL: baseURL}
}

// Channel returns the channel this adapter serves
func (a *WhatsAppAdapter) Channel() string {
	return models.ChannelWhatsApp
}

type whatsappSendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             whatsappTextBody `json:"text"`
}

type whatsappTextBody struct {
	Body string `json:"body"`
}

type whatsappSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send performs one WhatsApp text send for a recipient
func (a *WhatsAppAdapter) Send(ctx context.Context, conn *models.Connection, recipient *models.Recipient, body string) (*SendResult, error) {
	if err := validatePhone(recipient.Address); err != nil {
		return nil, err
	}

	var creds models.WhatsAppCredentials
	if err := json.Unmarshal(conn.Credentials, &creds); err != nil {
		return nil, NewSendError(models.ErrCodeConnectionError, fmt.Sprintf("bad whatsapp credentials: %v", err))
	}
	if creds.AccessToken == "" || creds.PhoneNumberID == "" {
		return nil, NewSendError(models.ErrCodeConnectionError, "whatsapp connection is missing access token or phone number id")
	}

	payload, err := json.Marshal(whatsappSendRequest{
		MessagingProduct: "whatsapp",
		To:               recipient.Address,
		Type:             "text",
		Text:             whatsappTextBody{Body: body},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", a.baseURL, creds.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		code, message := Normalize(err)
		return nil, NewSendError(code, message)
	}
	defer resp.Body.Close()

	var decoded whatsappSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewSendError(models.ErrCodeProviderError, fmt.Sprintf("undecodable whatsapp response: %v", err))
	}

	if resp.StatusCode >= 400 {
		return nil, a.normalizeFailure(resp.StatusCode, &decoded)
	}

	if len(decoded.Messages) == 0 || decoded.Messages[0].ID == "" {
		return nil, NewSendError(models.ErrCodeProviderError, "whatsapp response carried no message id")
	}

	return &SendResult{ExternalID: decoded.Messages[0].ID}, nil
}

func (a *WhatsAppAdapter) normalizeFailure(status int, decoded *whatsappSendResponse) *SendError {
	message := fmt.Sprintf("whatsapp send failed with status %d", status)
	providerCode := 0
	if decoded.Error != nil {
		providerCode = decoded.Error.Code
		message = decoded.Error.Message
	}

	if code, ok := whatsappPermanentCodes[providerCode]; ok {
		return NewSendError(code, message)
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
