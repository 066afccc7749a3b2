package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/propline/campaign-engine/internal/models"
	"github.com/propline/campaign-engine/internal/repository"
)

// ReconcilerService absorbs asynchronous provider delivery callbacks
// into recipient state. Status application is forward-only and keyed by
// a compare-and-swap on the previous status, so duplicated or
// out-of-order events are no-ops.
type ReconcilerService interface {
	Reconcile(ctx context.Context, events []models.StatusEvent) *ReconcileResult
}

type reconcilerService struct {
	campaignRepo  repository.CampaignRepository
	recipientRepo repository.RecipientRepository
	auditRepo     repository.AuditRepository
	logger        *slog.Logger
}

// NewReconcilerService creates a new reconciler service
func NewReconcilerService(
	campaignRepo repository.CampaignRepository,
	recipientRepo repository.RecipientRepository,
	auditRepo repository.AuditRepository,
	logger *slog.Logger,
) ReconcilerService {
	return &reconcilerService{
		campaignRepo:  campaignRepo,
		recipientRepo: recipientRepo,
		auditRepo:     auditRepo,
		logger:        logger,
	}
}

// Reconcile applies a batch of webhook status events. Events that
// cannot be matched or applied are dropped, never retried: the webhook
// channel is multi-tenant and noisy by nature, and the provider only
// needs a 200.
func (s *reconcilerService) Reconcile(ctx context.Context, events []models.StatusEvent) *ReconcileResult {
	result := &ReconcileResult{}

	for i := range events {
		applied, err := s.applyOne(ctx, &events[i])
		if err != nil {
			s.logger.Error("failed to apply webhook event",
				slog.String("message_id", events[i].MessageID),
				slog.String("status", events[i].Status),
				slog.String("error", err.Error()),
			)
			result.Dropped++
			continue
		}
		if applied {
			result.Applied++
		} else {
			result.Dropped++
		}
	}

	return result
}

// applyOne applies a single status event to its recipient. Returns
// false without error when the event is a benign no-op.
func (s *reconcilerService) applyOne(ctx context.Context, event *models.StatusEvent) (bool, error) {
	if !models.IsValidWebhookStatus(event.Status) {
		s.logger.Warn("unknown webhook status, dropping",
			slog.String("message_id", event.MessageID),
			slog.String("status", event.Status),
		)
		return false, nil
	}

	recipient, err := s.recipientRepo.GetByExternalMessageID(ctx, event.MessageID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Could belong to another tenant's send, or predate this
			// system. Log and move on.
			s.logger.Info("webhook event for unknown message, dropping",
				slog.String("message_id", event.MessageID),
				slog.String("status", event.Status),
			)
			return false, nil
		}
		return false, err
	}

	current := recipient.DeliveryStatus
	if models.IsTerminalDelivery(current) {
		return false, nil
	}

	target := event.Status
	if target != models.DeliveryStatusFailed {
		// Forward-only along sent < delivered < read. A late or
		// duplicate event lands at or behind the current rank and is
		// dropped.
		if models.DeliveryRank(current) == 0 || models.DeliveryRank(target) <= models.DeliveryRank(current) {
			return false, nil
		}
	} else if models.DeliveryRank(current) == 0 {
		// A delivery failure can only follow a send the dispatcher has
		// already committed; anything earlier still belongs to it.
		return false, nil
	}

	var errorCode, errorMessage *string
	if target == models.DeliveryStatusFailed {
		if event.ErrorCode != "" {
			errorCode = &event.ErrorCode
		}
		if event.ErrorMessage != "" {
			errorMessage = &event.ErrorMessage
		}
	}

	applied, err := s.recipientRepo.ApplyStatus(ctx, recipient.ID, current, target, event.Timestamp, errorCode, errorMessage)
	if err != nil {
		return false, err
	}
	if !applied {
		// Lost a race with another event for the same recipient; that
		// event owns the transition.
		return false, nil
	}

	// Counter and audit follow only the winning application, which
	// keeps aggregates idempotent per (message id, status) pair
	if err := s.campaignRepo.IncrementWebhookCounter(ctx, recipient.CampaignID, target); err != nil {
		s.logger.Error("failed to increment campaign counter",
			slog.Int64("campaign_id", recipient.CampaignID),
			slog.String("status", target),
			slog.String("error", err.Error()),
		)
	}

	s.auditRecipient(ctx, recipient.CampaignID, recipient.ID, "status_reconciled",
		fmt.Sprintf("message_id=%s %s->%s", event.MessageID, current, target))

	return true, nil
}

func (s *reconcilerService) auditRecipient(ctx context.Context, campaignID, recipientID int64, action, details string) {
	entry := &models.AuditEntry{
		CampaignID:  campaignID,
		RecipientID: &recipientID,
		Action:      action,
		ActionType:  models.AuditTypeReconciler,
		Details:     details,
	}
	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.Error("failed to write audit entry",
			slog.Int64("campaign_id", campaignID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
