package channel

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/propline/campaign-engine/internal/models"
)

// MockAdapter simulates a provider send for local development. It
// succeeds at the configured rate and hands back uuid message ids.
type MockAdapter struct {
	channel     string
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
}

// NewMockAdapter creates a mock adapter for the given channel.
// successRate: probability of success (0.0 to 1.0), default 0.92.
func NewMockAdapter(channel string, successRate float64) *MockAdapter {
	if successRate <= 0 || successRate > 1.0 {
		successRate = 0.92
	}

	return &MockAdapter{
		channel:     channel,
		successRate: successRate,
		minDelay:    50 * time.Millisecond,
		maxDelay:    200 * time.Millisecond,
	}
}

// Channel returns the channel this adapter serves
func (a *MockAdapter) Channel() string {
	return a.channel
}

// Send simulates sending a message
func (a *MockAdapter) Send(ctx context.Context, conn *models.Connection, recipient *models.Recipient, body string) (*SendResult, error) {
	delay := a.minDelay + time.Duration(rand.Int63n(int64(a.maxDelay-a.minDelay)))

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, NewSendError(models.ErrCodeTimeout, ctx.Err().Error())
	}

	if rand.Float64() > a.successRate {
		return nil, NewSendError(models.ErrCodeProviderError, "mock send failed: simulated provider error")
	}

	return &SendResult{ExternalID: fmt.Sprintf("mock-%s", uuid.NewString())}, nil
}
