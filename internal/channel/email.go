package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/propline/campaign-engine/internal/models"
)

// EmailAdapter sends campaign email through SendGrid
type EmailAdapter struct {
	newClient func(apiKey string) emailClient
}

// emailClient is the slice of the SendGrid client the adapter uses;
// tests substitute it.
type emailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// NewEmailAdapter creates an email adapter backed by SendGrid
func NewEmailAdapter() *EmailAdapter {
	return &EmailAdapter{
		newClient: func(apiKey string) emailClient {
			return sendgrid.NewSendClient(apiKey)
		},
	}
}

// Channel returns the channel this adapter serves
func (a *EmailAdapter) Channel() string {
	return models.ChannelEmail
}

// Send performs one email send for a recipient. The campaign name is
// used as the subject; per-recipient personalization has already been
// rendered into the body by the dispatcher.
func (a *EmailAdapter) Send(ctx context.Context, conn *models.Connection, recipient *models.Recipient, body string) (*SendResult, error) {
	var creds models.EmailCredentials
	if err := json.Unmarshal(conn.Credentials, &creds); err != nil {
		return nil, NewSendError(models.ErrCodeConnectionError, fmt.Sprintf("bad email credentials: %v", err))
	}
	if creds.APIKey == "" || creds.FromEmail == "" {
		return nil, NewSendError(models.ErrCodeConnectionError, "email connection is missing api key or from address")
	}

	subject := recipient.TemplateVars["subject"]
	if subject == "" {
		subject = conn.Identifier
	}

	from := mail.NewEmail(creds.FromName, creds.FromEmail)
	to := mail.NewEmail("", recipient.Address)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	resp, err := a.newClient(creds.APIKey).SendWithContext(ctx, message)
	if err != nil {
		code, msg := Normalize(err)
		return nil, NewSendError(code, msg)
	}

	if resp.StatusCode >= 400 {
		return nil, normalizeEmailFailure(resp.StatusCode, resp.Body)
	}

	externalID := resp.Headers["X-Message-Id"]
	if len(externalID) == 0 || externalID[0] == "" {
		return nil, NewSendError(models.ErrCodeProviderError, "sendgrid response carried no message id")
	}

	return &SendResult{ExternalID: externalID[0]}, nil
}

func normalizeEmailFailure(status int, body string) *SendError {
	message := fmt.Sprintf("sendgrid send failed with status %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return NewSendError(models.ErrCodeRateLimited, message)
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return NewSendError(models.ErrCodeBlocked, message)
	case status >= 500:
		return NewSendError(models.ErrCodeProviderError, message)
	default:
		return NewSendError(models.ErrCodeProviderError, message)
	}
}
