package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/propline/campaign-engine/internal/channel"
	"github.com/propline/campaign-engine/internal/models"
	"github.com/propline/campaign-engine/internal/repository"
)

// BatchDispatcher claims one rate-limited batch of queued recipients,
// sends to each concurrently through the campaign's channel adapter,
// and commits the per-recipient outcomes. Claiming is a conditional
// write, so concurrent dispatcher passes over the same campaign divide
// the queue instead of double-sending.
type BatchDispatcher struct {
	campaignRepo   repository.CampaignRepository
	recipientRepo  repository.RecipientRepository
	connectionRepo repository.ConnectionRepository
	auditRepo      repository.AuditRepository
	adapters       *channel.Registry
	templateSvc    TemplateService
	logger         *slog.Logger
}

// NewBatchDispatcher creates a new batch dispatcher
func NewBatchDispatcher(
	campaignRepo repository.CampaignRepository,
	recipientRepo repository.RecipientRepository,
	connectionRepo repository.ConnectionRepository,
	auditRepo repository.AuditRepository,
	adapters *channel.Registry,
	templateSvc TemplateService,
	logger *slog.Logger,
) *BatchDispatcher {
	return &BatchDispatcher{
		campaignRepo:   campaignRepo,
		recipientRepo:  recipientRepo,
		connectionRepo: connectionRepo,
		auditRepo:      auditRepo,
		adapters:       adapters,
		templateSvc:    templateSvc,
		logger:         logger,
	}
}

// Dispatch runs one batch pass for a campaign. A campaign without a
// usable connection is a hard failure; per-recipient send failures are
// isolated and reported in the result instead.
func (d *BatchDispatcher) Dispatch(ctx context.Context, campaign *models.Campaign) (*BatchResult, error) {
	conn, err := d.connectionRepo.GetByID(ctx, campaign.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve connection for campaign %d: %w", campaign.ID, err)
	}
	if !conn.IsActive() {
		return nil, models.ErrConflictWithMsg(
			fmt.Sprintf("connection %d is not active (status '%s')", conn.ID, conn.Status),
		)
	}

	adapter, err := d.adapters.ForChannel(campaign.Channel)
	if err != nil {
		return nil, err
	}

	claimed, err := d.recipientRepo.ClaimBatch(ctx, campaign.ID, campaign.BatchSize())
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}

	if len(claimed) == 0 {
		remaining, err := d.recipientRepo.CountQueued(ctx, campaign.ID)
		if err != nil {
			return nil, err
		}
		return &BatchResult{Remaining: remaining}, nil
	}

	d.logger.Info("batch claimed",
		slog.Int64("campaign_id", campaign.ID),
		slog.String("channel", campaign.Channel),
		slog.Int("size", len(claimed)),
	)

	// One goroutine per claimed recipient; the claim already bounds
	// parallelism at the batch size.
	outcomes := make([]bool, len(claimed))
	var wg sync.WaitGroup
	for i, recipient := range claimed {
		wg.Add(1)
		go func(i int, recipient *models.Recipient) {
			defer wg.Done()
			outcomes[i] = d.sendOne(ctx, adapter, conn, campaign, recipient)
		}(i, recipient)
	}
	wg.Wait()

	var sent, failed int64
	for _, ok := range outcomes {
		if ok {
			sent++
		} else {
			failed++
		}
	}

	if err := d.campaignRepo.AddSendCounts(ctx, campaign.ID, sent, failed); err != nil {
		d.logger.Error("failed to update campaign counters",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}

	d.audit(ctx, campaign.ID, "batch_dispatched",
		fmt.Sprintf("processed=%d sent=%d failed=%d", len(claimed), sent, failed))

	remaining, err := d.recipientRepo.CountQueued(ctx, campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count remaining recipients: %w", err)
	}

	return &BatchResult{
		Processed: len(claimed),
		Sent:      int(sent),
		Failed:    int(failed),
		Remaining: remaining,
	}, nil
}

// sendOne performs and commits a single recipient's send attempt,
// reporting whether it went out
func (d *BatchDispatcher) sendOne(ctx context.Context, adapter channel.Adapter, conn *models.Connection, campaign *models.Campaign, recipient *models.Recipient) bool {
	body := d.templateSvc.Render(campaign.TemplateBody, recipient.TemplateVars)

	result, sendErr := adapter.Send(ctx, conn, recipient, body)
	if sendErr != nil {
		code, message := channel.Normalize(sendErr)

		d.logger.Warn("recipient send failed",
			slog.Int64("campaign_id", campaign.ID),
			slog.Int64("recipient_id", recipient.ID),
			slog.String("error_code", code),
			slog.String("error", message),
		)

		applied, err := d.recipientRepo.MarkFailed(ctx, recipient.ID, code, message)
		if err != nil {
			d.logger.Error("failed to mark recipient failed",
				slog.Int64("recipient_id", recipient.ID),
				slog.String("error", err.Error()),
			)
		} else if !applied {
			d.logger.Warn("recipient no longer in sending, skipping failed mark",
				slog.Int64("recipient_id", recipient.ID),
			)
		}

		d.auditRecipient(ctx, campaign.ID, recipient.ID, "send_failed",
			fmt.Sprintf("code=%s message=%s", code, message))

		return false
	}

	applied, err := d.recipientRepo.MarkSent(ctx, recipient.ID, result.ExternalID)
	if err != nil {
		d.logger.Error("failed to mark recipient sent",
			slog.Int64("recipient_id", recipient.ID),
			slog.String("error", err.Error()),
		)
	} else if !applied {
		d.logger.Warn("recipient no longer in sending, skipping sent mark",
			slog.Int64("recipient_id", recipient.ID),
		)
	}

	return true
}

func (d *BatchDispatcher) audit(ctx context.Context, campaignID int64, action, details string) {
	entry := &models.AuditEntry{
		CampaignID: campaignID,
		Action:     action,
		ActionType: models.AuditTypeDispatcher,
		Details:    details,
	}
	if err := d.auditRepo.Append(ctx, entry); err != nil {
		d.logger.Error("failed to write audit entry",
			slog.Int64("campaign_id", campaignID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

func (d *BatchDispatcher) auditRecipient(ctx context.Context, campaignID, recipientID int64, action, details string) {
	entry := &models.AuditEntry{
		CampaignID:  campaignID,
		RecipientID: &recipientID,
		Action:      action,
		ActionType:  models.AuditTypeDispatcher,
		Details:     details,
	}
	if err := d.auditRepo.Append(ctx, entry); err != nil {
		d.logger.Error("failed to write audit entry",
			slog.Int64("campaign_id", campaignID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
