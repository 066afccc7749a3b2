package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/propline/campaign-engine/internal/models"
	"github.com/propline/campaign-engine/internal/service"
)

// BatchProcessor consumes batch jobs from the queue and drives campaign
// continuation. Each job is one dispatcher pass; the controller
// publishes the follow-up job when queued recipients remain, so a
// campaign drains as a chain of paced jobs rather than one long loop.
type BatchProcessor struct {
	campaignSvc service.CampaignService
	interval    time.Duration
	logger      *slog.Logger
}

// NewBatchProcessor creates a new batch processor. interval paces
// successive batches of one campaign to the configured send rate.
func NewBatchProcessor(campaignSvc service.CampaignService, interval time.Duration, logger *slog.Logger) *BatchProcessor {
	return &BatchProcessor{
		campaignSvc: campaignSvc,
		interval:    interval,
		logger:      logger,
	}
}

// Process handles a single batch job
func (p *BatchProcessor) Process(ctx context.Context, job *models.BatchJob) error {
	// The entry-point action already ran its batch inline; waiting
	// here keeps queue-driven continuation at one batch per interval
	select {
	case <-time.After(p.interval):
	case <-ctx.Done():
		return ctx.Err()
	}

	result, err := p.campaignSvc.ProcessBatch(ctx, job.CampaignID)
	if err != nil {
		// Paused or terminal campaigns drop their pending jobs; resume
		// or retry will queue fresh ones
		if errors.Is(err, models.ErrInvalidTransition) {
			p.logger.Info("dropping batch job for inactive campaign",
				slog.Int64("campaign_id", job.CampaignID),
				slog.String("reason", err.Error()),
			)
			return nil
		}
		return err
	}

	if result.Batch != nil {
		p.logger.Info("batch processed",
			slog.Int64("campaign_id", job.CampaignID),
			slog.Int("processed", result.Batch.Processed),
			slog.Int("sent", result.Batch.Sent),
			slog.Int("failed", result.Batch.Failed),
			slog.Int64("remaining", result.Batch.Remaining),
		)
	}

	return nil
}
