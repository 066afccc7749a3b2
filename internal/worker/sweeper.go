package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/propline/campaign-engine/internal/models"
	"github.com/propline/campaign-engine/internal/repository"
	"github.com/propline/campaign-engine/internal/service"
)

// scheduledStartLimit caps how many due campaigns one sweep starts
const scheduledStartLimit = 20

// Sweeper runs the periodic operational passes: starting scheduled
// campaigns whose time has come, and rescuing recipients stuck in
// sending after a dispatcher crash.
type Sweeper struct {
	campaignRepo  repository.CampaignRepository
	recipientRepo repository.RecipientRepository
	campaignSvc   service.CampaignService
	stuckTimeout  time.Duration
	logger        *slog.Logger
}

// NewSweeper creates a new sweeper
func NewSweeper(
	campaignRepo repository.CampaignRepository,
	recipientRepo repository.RecipientRepository,
	campaignSvc service.CampaignService,
	stuckTimeout time.Duration,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		campaignRepo:  campaignRepo,
		recipientRepo: recipientRepo,
		campaignSvc:   campaignSvc,
		stuckTimeout:  stuckTimeout,
		logger:        logger,
	}
}

// Register adds both sweep jobs to the cron runner on the same schedule
func (s *Sweeper) Register(c *cron.Cron, schedule string) error {
	if _, err := c.AddFunc(schedule, func() {
		s.StartDueCampaigns(context.Background())
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc(schedule, func() {
		s.RequeueStuck(context.Background())
	}); err != nil {
		return err
	}

	return nil
}

// StartDueCampaigns starts scheduled campaigns whose scheduled_at has passed
func (s *Sweeper) StartDueCampaigns(ctx context.Context) {
	due, err := s.campaignRepo.ListDueScheduled(ctx, time.Now(), scheduledStartLimit)
	if err != nil {
		s.logger.Error("failed to list due campaigns", slog.String("error", err.Error()))
		return
	}

	for _, campaign := range due {
		if _, err := s.campaignSvc.Start(ctx, campaign.ID); err != nil {
			// A concurrent trigger may have started it already
			if errors.Is(err, models.ErrInvalidTransition) {
				continue
			}
			s.logger.Error("failed to start scheduled campaign",
				slog.Int64("campaign_id", campaign.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.logger.Info("scheduled campaign started",
			slog.Int64("campaign_id", campaign.ID),
		)
	}
}

// RequeueStuck returns recipients held in sending beyond the timeout to
// the queue. They belong to dispatcher invocations that died mid-batch.
func (s *Sweeper) RequeueStuck(ctx context.Context) {
	requeued, err := s.recipientRepo.RequeueStuck(ctx, s.stuckTimeout)
	if err != nil {
		s.logger.Error("failed to requeue stuck recipients", slog.String("error", err.Error()))
		return
	}

	if requeued > 0 {
		s.logger.Warn("requeued stuck recipients",
			slog.Int64("count", requeued),
			slog.Duration("timeout", s.stuckTimeout),
		)
	}
}
