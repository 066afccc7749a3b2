package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/propline/campaign-engine/internal/models"
	"github.com/propline/campaign-engine/internal/queue"
	"github.com/propline/campaign-engine/internal/repository"
)

// retryBatchLimit caps how many failed recipients one retry pass touches
const retryBatchLimit = 100

// RetryService re-queues transiently failed recipients under the
// campaign's retry budget. Permanent error codes are excluded for good,
// whatever budget remains.
type RetryService interface {
	Retry(ctx context.Context, campaignID int64, req *RetryRequest) (*RetryResult, error)
}

type retryService struct {
	campaignRepo  repository.CampaignRepository
	recipientRepo repository.RecipientRepository
	auditRepo     repository.AuditRepository
	queueClient   queue.Client
	logger        *slog.Logger
}

// NewRetryService creates a new retry service
func NewRetryService(
	campaignRepo repository.CampaignRepository,
	recipientRepo repository.RecipientRepository,
	auditRepo repository.AuditRepository,
	queueClient queue.Client,
	logger *slog.Logger,
) RetryService {
	return &retryService{
		campaignRepo:  campaignRepo,
		recipientRepo: recipientRepo,
		auditRepo:     auditRepo,
		queueClient:   queueClient,
		logger:        logger,
	}
}

// Retry runs one retry pass for a campaign
func (s *retryService) Retry(ctx context.Context, campaignID int64, req *RetryRequest) (*RetryResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	maxRetries := campaign.RetryCeiling()
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	candidates, err := s.recipientRepo.ListRetryable(ctx, campaignID, maxRetries, retryBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable recipients: %w", err)
	}

	retried, skipped := 0, 0
	for _, recipient := range candidates {
		if recipient.ErrorCode != nil && models.IsPermanentErrorCode(*recipient.ErrorCode) {
			skipped++
			continue
		}

		// The requeue re-checks status and budget inside one write, so
		// a concurrent retry pass cannot double-increment or overshoot
		requeued, err := s.recipientRepo.Requeue(ctx, recipient.ID, maxRetries)
		if err != nil {
			s.logger.Error("failed to requeue recipient",
				slog.Int64("recipient_id", recipient.ID),
				slog.String("error", err.Error()),
			)
			skipped++
			continue
		}
		if !requeued {
			skipped++
			continue
		}
		retried++
	}

	s.audit(ctx, campaignID, "retry_pass",
		fmt.Sprintf("retried=%d skipped=%d max_retries=%d", retried, skipped, maxRetries))

	s.logger.Info("retry pass finished",
		slog.Int64("campaign_id", campaignID),
		slog.Int("retried", retried),
		slog.Int("skipped", skipped),
		slog.Int("max_retries", maxRetries),
	)

	if retried > 0 {
		if err := s.reopenAndDispatch(ctx, campaign); err != nil {
			return nil, err
		}
	}

	return &RetryResult{
		CampaignID: campaignID,
		Retried:    retried,
		Skipped:    skipped,
		MaxRetries: maxRetries,
	}, nil
}

// reopenAndDispatch moves a terminal campaign back to sending and hands
// the requeued recipients to the worker, so retries are not stranded
// waiting for an external trigger
func (s *retryService) reopenAndDispatch(ctx context.Context, campaign *models.Campaign) error {
	if campaign.IsTerminal() {
		reopened, err := s.campaignRepo.TransitionStatus(ctx, campaign.ID,
			[]string{models.CampaignStatusCompleted, models.CampaignStatusFailed},
			models.CampaignStatusSending)
		if err != nil {
			return err
		}
		if reopened {
			s.audit(ctx, campaign.ID, "campaign_reopened", "terminal campaign moved back to sending for retries")
		}
	}

	job := &models.BatchJob{CampaignID: campaign.ID}
	if err := s.queueClient.Publish(ctx, job); err != nil {
		return fmt.Errorf("failed to queue batch after retry: %w", err)
	}

	return nil
}

func (s *retryService) audit(ctx context.Context, campaignID int64, action, details string) {
	entry := &models.AuditEntry{
		CampaignID: campaignID,
		Action:     action,
		ActionType: models.AuditTypeRetry,
		Details:    details,
	}
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.Error("failed to write audit entry",
			slog.Int64("campaign_id", campaignID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
