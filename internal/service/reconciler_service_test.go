package service

import (
	"context"
	"testing"
	"time"

	"github.com/propline/campaign-engine/internal/models"
)

func sentRecipient(id, campaignID int64, externalID string) *models.Recipient {
	recipient := testRecipient(id, campaignID, "+14155551001")
	recipient.DeliveryStatus = models.DeliveryStatusSent
	recipient.ExternalMessageID = strPtr(externalID)
	now := time.Now()
	recipient.SentAt = &now
	return recipient
}

func statusEvent(messageID, status string) models.StatusEvent {
	return models.StatusEvent{
		MessageID: messageID,
		Status:    status,
		Timestamp: time.Now(),
	}
}

func TestReconcileAppliesDeliveredStatus(t *testing.T) {
	campaign := testCampaign(1, models.CampaignStatusCompleted, 10)
	env := newTestEnv(campaign, sentRecipient(1, 1, "wamid.001"))
	ctx := context.Background()

	result := env.reconcilerSvc.Reconcile(ctx, []models.StatusEvent{
		statusEvent("wamid.001", models.WebhookStatusDelivered),
	})
	if result.Applied != 1 || result.Dropped != 0 {
		t.Fatalf("expected applied=1 dropped=0, got %+v", result)
	}

	recipient, _ := env.recipientRepo.GetByID(ctx, 1)
	if recipient.DeliveryStatus != models.DeliveryStatusDelivered {
		t.Errorf("expected delivered, got %s", recipient.DeliveryStatus)
	}
	if recipient.DeliveredAt == nil {
		t.Error("expected delivered_at set")
	}

	stored, _ := env.campaignRepo.GetByID(ctx, 1)
	if stored.DeliveredCount != 1 {
		t.Errorf("expected delivered_count 1, got %d", stored.DeliveredCount)
	}
}

func TestReconcileIsForwardOnly(t *testing.T) {
	// A late "sent" event after delivery must not move the recipient back
	campaign := testCampaign(1, models.CampaignStatusCompleted, 10)
	env := newTestEnv(campaign, sentRecipient(1, 1, "wamid.001"))
	ctx := context.Background()

	env.reconcilerSvc.Reconcile(ctx, []models.StatusEvent{
		statusEvent("wamid.001", models.WebhookStatusDelivered),
	})
	result := env.reconcilerSvc.Reconcile(ctx, []models.StatusEvent{
		statusEvent("wamid.001", models.WebhookStatusSent),
	})
	if result.Applied != 0 || result.Dropped != 1 {
		t.Fatalf("expected late event dropped, got %+v", result)
	}

	recipient, _ := env.recipientRepo.GetByID(ctx, 1)
	if recipient.DeliveryStatus != models.DeliveryStatusDelivered {
		t.Errorf("expected still delivered, got %s", recipient.DeliveryStatus)
	}
}

func TestReconcileDuplicateEventIsIdempotent(t *testing.T) {
	campaign := testCampaign(1, models.CampaignStatusCompleted, 10)
	env := newTestEnv(campaign, sentRecipient(1, 1, "wamid.001"))
	ctx := context.Background()

	event := statusEvent("wamid.001", models.WebhookStatusDelivered)
	env.reconcilerSvc.Reconcile(ctx, []models.StatusEvent{event})
	result := env.reconcilerSvc.Reconcile(ctx, []models.StatusEvent{event})
	if result.Applied != 0 {
		t.Errorf("expected duplicate dropped, got %+v", result)
	}

	// Counter incremented once, not twice
	stored, _ := env.campaignRepo.GetByID(ctx, 1)
	if stored.DeliveredCount != 1 {
		t.Errorf("expected delivered_count 1 after duplicate, got %d", stored.DeliveredCount)
	}
}

func TestReconcileSkipsIntermediateStatus(t *testing.T) {
	// read can arrive without an explicit delivered event first
	campaign := testCampaign(1, models.CampaignStatusCompleted, 10)
	env := newTestEnv(campaign, sentRecipient(1, 1, "wamid.001"))
	ctx := context.Background()

	result := env.reconcilerSvc.Reconcile(ctx, []models.StatusEvent{
		statusEvent("wamid.001", models.WebhookStatusRead),
	})
	if result.Applied != 1 {
		t.Fatalf("expected read applied directly from sent, got %+v", result)
	}

	recipient, _ := env.recipientRepo.GetByID(ctx, 1)
	if recipient.DeliveryStatus != models.DeliveryStatusRead {
		t.Errorf("expected read, got %s", recipient.DeliveryStatus)
	}

	stored, _ := env.campaignRepo.GetByID(ctx, 1)
	if stored.OpenedCount != 1 {
		t.Errorf("expected opened_count 1, got %d", stored.OpenedCount)
	}
}

func TestReconcileAppliesDeliveryFailure(t *testing.T) {
	campaign := testCampaign(1, models.CampaignStatusCompleted, 10)
	env := newTestEnv(campaign, sentRecipient(1, 1, "wamid.001"))
	ctx := context.Background()

	event := statusEvent("wamid.001", models.WebhookStatusFailed)
	event.ErrorCode = models.ErrCodeBlocked
	event.ErrorMessage = "recipient has blocked this sender"

	result := env.reconcilerSvc.Reconcile(ctx, []models.StatusEvent{event})
	if result.Applied != 1 {
		t.Fatalf("expected failure applied, got %+v", result)
	}

	recipient, _ := env.recipientRepo.GetByID(ctx, 1)
	if recipient.DeliveryStatus != models.DeliveryStatusFailed {
		t.Errorf("expected failed, got %s", recipient.DeliveryStatus)
	}
	if recipient.ErrorCode == nil || *recipient.ErrorCode != models.ErrCodeBlocked {
		t.Errorf("expected error code blocked, got %v", recipient.ErrorCode)
	}

	stored, _ := env.campaignRepo.GetByID(ctx, 1)
	if stored.FailedCount != 1 {
		t.Errorf("expected failed_count 1, got %d", stored.FailedCount)
	}
}

func TestReconcileIgnoresEventsBeforeSendCommits(t *testing.T) {
	// The dispatcher still owns a recipient in 'sending'; a failure
	// callback racing the send commit is dropped
	campaign := testCampaign(1, models.CampaignStatusSending, 10)
	recipient := testRecipient(1, 1, "+14155551001")
	recipient.DeliveryStatus = models.DeliveryStatusSending
	recipient.ExternalMessageID = strPtr("wamid.001")
	env := newTestEnv(campaign, recipient)
	ctx := context.Background()

	result := env.reconcilerSvc.Reconcile(ctx, []models.StatusEvent{
		statusEvent("wamid.001", models.WebhookStatusFailed),
	})
	if result.Applied != 0 || result.Dropped != 1 {
		t.Fatalf("expected event dropped, got %+v", result)
	}

	stored, _ := env.recipientRepo.GetByID(ctx, 1)
	if stored.DeliveryStatus != models.DeliveryStatusSending {
		t.Errorf("expected still sending, got %s", stored.DeliveryStatus)
	}
}

func TestReconcileLeavesTerminalRecipientsAlone(t *testing.T) {
	campaign := testCampaign(1, models.CampaignStatusCompleted, 10)
	recipient := sentRecipient(1, 1, "wamid.001")
	recipient.DeliveryStatus = models.DeliveryStatusBounced
	env := newTestEnv(campaign, recipient)
	ctx := context.Background()

	result := env.reconcilerSvc.Reconcile(ctx, []models.StatusEvent{
		statusEvent("wamid.001", models.WebhookStatusDelivered),
	})
	if result.Applied != 0 {
		t.Fatalf("expected event on terminal recipient dropped, got %+v", result)
	}

	stored, _ := env.recipientRepo.GetByID(ctx, 1)
	if stored.DeliveryStatus != models.DeliveryStatusBounced {
		t.Errorf("expected still bounced, got %s", stored.DeliveryStatus)
	}
}

func TestReconcileDropsUnknownMessage(t *testing.T) {
	campaign := testCampaign(1, models.CampaignStatusCompleted, 10)
	env := newTestEnv(campaign, sentRecipient(1, 1, "wamid.001"))

	result := env.reconcilerSvc.Reconcile(context.Background(), []models.StatusEvent{
		statusEvent("wamid.unknown", models.WebhookStatusDelivered),
	})
	if result.Applied != 0 || result.Dropped != 1 {
		t.Fatalf("expected unknown message dropped, got %+v", result)
	}
}

func TestReconcileDropsUnknownStatus(t *testing.T) {
	campaign := testCampaign(1, models.CampaignStatusCompleted, 10)
	env := newTestEnv(campaign, sentRecipient(1, 1, "wamid.001"))

	result := env.reconcilerSvc.Reconcile(context.Background(), []models.StatusEvent{
		statusEvent("wamid.001", "warehoused"),
	})
	if result.Applied != 0 || result.Dropped != 1 {
		t.Fatalf("expected unknown status dropped, got %+v", result)
	}
}

func TestReconcileMixedBatch(t *testing.T) {
	campaign := testCampaign(1, models.CampaignStatusCompleted, 10)
	env := newTestEnv(campaign,
		sentRecipient(1, 1, "wamid.001"),
		sentRecipient(2, 1, "wamid.002"),
	)

	result := env.reconcilerSvc.Reconcile(context.Background(), []models.StatusEvent{
		statusEvent("wamid.001", models.WebhookStatusDelivered),
		statusEvent("wamid.002", models.WebhookStatusRead),
		statusEvent("wamid.missing", models.WebhookStatusDelivered),
	})
	if result.Applied != 2 || result.Dropped != 1 {
		t.Fatalf("expected applied=2 dropped=1, got %+v", result)
	}
}
