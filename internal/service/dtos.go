package service

import (
	"github.com/propline/campaign-engine/internal/models"
)

// Campaign control actions accepted by Execute
const (
	ActionStart        = "start"
	ActionPause        = "pause"
	ActionResume       = "resume"
	ActionProcessBatch = "process_batch"
)

// ExecuteRequest asks the controller to apply one action to a campaign
type ExecuteRequest struct {
	Action string `json:"action"`
}

// Validate performs validation on the execute request
func (r *ExecuteRequest) Validate() error {
	switch r.Action {
	case ActionStart, ActionPause, ActionResume, ActionProcessBatch:
		return nil
	case "":
		return models.ErrInvalidInput("action is required")
	default:
		return models.ErrInvalidInput("invalid action (must be 'start', 'pause', 'resume' or 'process_batch')")
	}
}

// BatchResult reports the outcome of one dispatcher pass
type BatchResult struct {
	Processed int   `json:"processed"`
	Sent      int   `json:"sent"`
	Failed    int   `json:"failed"`
	Remaining int64 `json:"remaining"`
}

// ExecuteResult is the controller's answer to an execute request
type ExecuteResult struct {
	CampaignID int64        `json:"campaign_id"`
	Action     string       `json:"action"`
	Status     string       `json:"status"`
	Batch      *BatchResult `json:"batch,omitempty"`
}

// RetryRequest asks for a retry pass over a campaign's failed recipients
type RetryRequest struct {
	MaxRetries *int `json:"max_retries,omitempty"`
}

// Validate performs validation on the retry request
func (r *RetryRequest) Validate() error {
	if r.MaxRetries != nil && *r.MaxRetries < 1 {
		return models.ErrInvalidInput("max_retries must be at least 1")
	}
	return nil
}

// RetryResult reports the outcome of one retry pass
type RetryResult struct {
	CampaignID int64 `json:"campaign_id"`
	Retried    int   `json:"retried"`
	Skipped    int   `json:"skipped"`
	MaxRetries int   `json:"max_retries"`
}

// ReconcileResult reports how a webhook delivery was absorbed
type ReconcileResult struct {
	Applied int `json:"applied"`
	Dropped int `json:"dropped"`
}

// RecipientListResult represents paginated recipient list results
type RecipientListResult struct {
	Data       []*models.Recipient     `json:"data"`
	Pagination models.PaginationResult `json:"pagination"`
}
