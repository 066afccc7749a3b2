package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/propline/campaign-engine/internal/models"
	"github.com/propline/campaign-engine/internal/queue"
	"github.com/propline/campaign-engine/internal/repository"
)

// CampaignService owns the campaign state machine. It is the single
// entry point for start/pause/resume/process_batch and the only
// component allowed to move a campaign between lifecycle states.
type CampaignService interface {
	Execute(ctx context.Context, campaignID int64, req *ExecuteRequest) (*ExecuteResult, error)
	Start(ctx context.Context, campaignID int64) (*ExecuteResult, error)
	Pause(ctx context.Context, campaignID int64) (*ExecuteResult, error)
	Resume(ctx context.Context, campaignID int64) (*ExecuteResult, error)
	ProcessBatch(ctx context.Context, campaignID int64) (*ExecuteResult, error)
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	ListRecipients(ctx context.Context, filter models.RecipientFilter) (*RecipientListResult, error)
}

type campaignService struct {
	campaignRepo  repository.CampaignRepository
	recipientRepo repository.RecipientRepository
	auditRepo     repository.AuditRepository
	dispatcher    *BatchDispatcher
	queueClient   queue.Client
	logger        *slog.Logger
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	recipientRepo repository.RecipientRepository,
	auditRepo repository.AuditRepository,
	dispatcher *BatchDispatcher,
	queueClient queue.Client,
	logger *slog.Logger,
) CampaignService {
	return &campaignService{
		campaignRepo:  campaignRepo,
		recipientRepo: recipientRepo,
		auditRepo:     auditRepo,
		dispatcher:    dispatcher,
		queueClient:   queueClient,
		logger:        logger,
	}
}

// Execute applies one control action to a campaign
func (s *campaignService) Execute(ctx context.Context, campaignID int64, req *ExecuteRequest) (*ExecuteResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionStart:
		return s.Start(ctx, campaignID)
	case ActionPause:
		return s.Pause(ctx, campaignID)
	case ActionResume:
		return s.Resume(ctx, campaignID)
	default:
		return s.ProcessBatch(ctx, campaignID)
	}
}

// Start moves a draft or scheduled campaign into sending and runs the
// first dispatcher pass. The store-level condition guarantees that of
// two concurrent start calls only one wins; the loser gets a rejected
// transition.
func (s *campaignService) Start(ctx context.Context, campaignID int64) (*ExecuteResult, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	started, err := s.campaignRepo.MarkStarted(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, models.ErrTransition(ActionStart, campaign.Status)
	}
	campaign.Status = models.CampaignStatusSending

	s.audit(ctx, campaignID, "campaign_started", "")

	s.logger.Info("campaign started",
		slog.Int64("campaign_id", campaignID),
		slog.String("channel", campaign.Channel),
		slog.Int64("total_recipients", campaign.TotalRecipients),
	)

	return s.dispatchAndContinue(ctx, campaign, ActionStart)
}

// Pause stops new batches from starting. In-flight sends are not
// cancelled; their outcomes still land.
func (s *campaignService) Pause(ctx context.Context, campaignID int64) (*ExecuteResult, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	paused, err := s.campaignRepo.TransitionStatus(ctx, campaignID,
		[]string{models.CampaignStatusSending}, models.CampaignStatusPaused)
	if err != nil {
		return nil, err
	}
	if !paused {
		return nil, models.ErrTransition(ActionPause, campaign.Status)
	}

	s.audit(ctx, campaignID, "campaign_paused", "")

	s.logger.Info("campaign paused", slog.Int64("campaign_id", campaignID))

	return &ExecuteResult{
		CampaignID: campaignID,
		Action:     ActionPause,
		Status:     models.CampaignStatusPaused,
	}, nil
}

// Resume picks a paused campaign back up where queued recipients remain
func (s *campaignService) Resume(ctx context.Context, campaignID int64) (*ExecuteResult, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	resumed, err := s.campaignRepo.TransitionStatus(ctx, campaignID,
		[]string{models.CampaignStatusPaused}, models.CampaignStatusSending)
	if err != nil {
		return nil, err
	}
	if !resumed {
		return nil, models.ErrTransition(ActionResume, campaign.Status)
	}
	campaign.Status = models.CampaignStatusSending

	s.audit(ctx, campaignID, "campaign_resumed", "")

	s.logger.Info("campaign resumed", slog.Int64("campaign_id", campaignID))

	return s.dispatchAndContinue(ctx, campaign, ActionResume)
}

// ProcessBatch runs one dispatcher pass for a sending campaign. When no
// queued recipients remain the campaign completes instead.
func (s *campaignService) ProcessBatch(ctx context.Context, campaignID int64) (*ExecuteResult, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if campaign.Status != models.CampaignStatusSending {
		return nil, models.ErrTransition(ActionProcessBatch, campaign.Status)
	}

	queued, err := s.recipientRepo.CountQueued(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if queued == 0 {
		return s.complete(ctx, campaign, ActionProcessBatch)
	}

	return s.dispatchAndContinue(ctx, campaign, ActionProcessBatch)
}

// dispatchAndContinue runs one batch and either completes the campaign
// or queues a follow-up batch job for the worker
func (s *campaignService) dispatchAndContinue(ctx context.Context, campaign *models.Campaign, action string) (*ExecuteResult, error) {
	batch, err := s.dispatcher.Dispatch(ctx, campaign)
	if err != nil {
		return nil, err
	}

	if batch.Remaining == 0 {
		result, err := s.complete(ctx, campaign, action)
		if err != nil {
			return nil, err
		}
		result.Batch = batch
		return result, nil
	}

	// More queued recipients: hand continuation to the worker instead
	// of relying on the caller to poll
	job := &models.BatchJob{CampaignID: campaign.ID}
	if err := s.queueClient.Publish(ctx, job); err != nil {
		s.logger.Error("failed to queue continuation batch",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}

	return &ExecuteResult{
		CampaignID: campaign.ID,
		Action:     action,
		Status:     models.CampaignStatusSending,
		Batch:      batch,
	}, nil
}

// complete moves a drained campaign to completed. Losing the CAS means
// another invocation completed it first, which is fine.
func (s *campaignService) complete(ctx context.Context, campaign *models.Campaign, action string) (*ExecuteResult, error) {
	completed, err := s.campaignRepo.MarkCompleted(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	if completed {
		s.audit(ctx, campaign.ID, "campaign_completed",
			fmt.Sprintf("sent=%d failed=%d", campaign.SentCount, campaign.FailedCount))

		s.logger.Info("campaign completed", slog.Int64("campaign_id", campaign.ID))
	}

	return &ExecuteResult{
		CampaignID: campaign.ID,
		Action:     action,
		Status:     models.CampaignStatusCompleted,
		Batch:      &BatchResult{},
	}, nil
}

// GetByID retrieves a campaign with its aggregate counters
func (s *campaignService) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	return s.campaignRepo.GetByID(ctx, id)
}

// ListRecipients retrieves a campaign's recipients with pagination
func (s *campaignService) ListRecipients(ctx context.Context, filter models.RecipientFilter) (*RecipientListResult, error) {
	recipients, totalCount, err := s.recipientRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}

	models.ValidateAndSetDefaults(&filter.Page, &filter.PageSize)
	pagination := models.NewPaginationResult(filter.Page, filter.PageSize, totalCount)

	return &RecipientListResult{
		Data:       recipients,
		Pagination: pagination,
	}, nil
}

func (s *campaignService) audit(ctx context.Context, campaignID int64, action, details string) {
	entry := &models.AuditEntry{
		CampaignID: campaignID,
		Action:     action,
		ActionType: models.AuditTypeController,
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
