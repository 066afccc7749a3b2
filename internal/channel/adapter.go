package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/nyaruka/phonenumbers"

	"github.com/propline/campaign-engine/internal/models"
)

// SendResult carries the provider's answer to a successful send
type SendResult struct {
	ExternalID string
}

// SendError is a failed send normalized to the shared error-code
// vocabulary, so the retry pass can classify it without knowing which
// provider produced it.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSendError creates a normalized send error
func NewSendError(code, message string) *SendError {
	return &SendError{Code: code, Message: message}
}

// Normalize extracts the normalized code and message from any send
// error. Context timeouts become timeout; everything else that is not
// already a SendError is treated as a transient network error.
func Normalize(err error) (code, message string) {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Code, sendErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrCodeTimeout, err.Error()
	}
	return models.ErrCodeNetworkError, err.Error()
}

// Adapter performs one provider send for one recipient. Adapters hold
// no recipient state; they are pure request/response over the
// connection's credentials.
type Adapter interface {
	Channel() string
	Send(ctx context.Context, conn *models.Connection, recipient *models.Recipient, body string) (*SendResult, error)
}

// Registry holds one adapter per channel. The dispatcher selects an
// adapter once per campaign, not per recipient.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Channel()] = a
	}
	return &Registry{adapters: m}
}

// ForChannel returns the adapter registered for a channel
func (r *Registry) ForChannel(channel string) (Adapter, error) {
	adapter, ok := r.adapters[channel]
	if !ok {
		return nil, models.ErrInvalidInput(fmt.Sprintf("no adapter registered for channel: %s", channel))
	}
	return adapter, nil
}

// validatePhone rejects addresses that are not valid E.164 numbers
// before any provider call is spent on them
func validatePhone(address string) error {
	num, err := phonenumbers.Parse(address, "")
	if err != nil {
		return NewSendError(models.ErrCodeInvalidPhone, fmt.Sprintf("unparseable phone number: %s", address))
	}
	if !phonenumbers.IsValidNumber(num) {
		return NewSendError(models.ErrCodeInvalidPhone, fmt.Sprintf("invalid phone number: %s", address))
	}
	return nil
}
