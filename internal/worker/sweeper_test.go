package worker

import (
	"context"
	"testing"
	"time"

	"github.com/propline/campaign-engine/internal/models"
)

// stubCampaignRepo serves only the sweep queries; everything else is unused
type stubCampaignRepo struct {
	due []*models.Campaign
}

func (s *stubCampaignRepo) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	return nil, models.ErrNotFound
}

func (s *stubCampaignRepo) List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error) {
	return nil, 0, nil
}

func (s *stubCampaignRepo) TransitionStatus(ctx context.Context, id int64, from []string, to string) (bool, error) {
	return false, nil
}

func (s *stubCampaignRepo) MarkStarted(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

func (s *stubCampaignRepo) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

func (s *stubCampaignRepo) AddSendCounts(ctx context.Context, id int64, sent, failed int64) error {
	return nil
}

func (s *stubCampaignRepo) IncrementWebhookCounter(ctx context.Context, id int64, status string) error {
	return nil
}

func (s *stubCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	return s.due, nil
}

type stubRecipientRepo struct {
	stuckRequeued   int64
	gotStuckTimeout time.Duration
}

func (s *stubRecipientRepo) CreateBatch(ctx context.Context, recipients []*models.Recipient) error {
	return nil
}

func (s *stubRecipientRepo) GetByID(ctx context.Context, id int64) (*models.Recipient, error) {
	return nil, models.ErrNotFound
}

func (s *stubRecipientRepo) GetByExternalMessageID(ctx context.Context, externalID string) (*models.Recipient, error) {
	return nil, models.ErrNotFound
}

func (s *stubRecipientRepo) List(ctx context.Context, filter models.RecipientFilter) ([]*models.Recipient, int64, error) {
	return nil, 0, nil
}

func (s *stubRecipientRepo) ClaimBatch(ctx context.Context, campaignID int64, limit int) ([]*models.Recipient, error) {
	return nil, nil
}

func (s *stubRecipientRepo) CountQueued(ctx context.Context, campaignID int64) (int64, error) {
	return 0, nil
}

func (s *stubRecipientRepo) MarkSent(ctx context.Context, id int64, externalID string) (bool, error) {
	return false, nil
}

func (s *stubRecipientRepo) MarkFailed(ctx context.Context, id int64, errorCode, errorMessage string) (bool, error) {
	return false, nil
}

func (s *stubRecipientRepo) ApplyStatus(ctx context.Context, id int64, fromStatus, toStatus string, ts time.Time, errorCode, errorMessage *string) (bool, error) {
	return false, nil
}

func (s *stubRecipientRepo) ListRetryable(ctx context.Context, campaignID int64, maxRetries, limit int) ([]*models.Recipient, error) {
	return nil, nil
}

func (s *stubRecipientRepo) Requeue(ctx context.Context, id int64, maxRetries int) (bool, error) {
	return false, nil
}

func (s *stubRecipientRepo) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.gotStuckTimeout = olderThan
	return s.stuckRequeued, nil
}

func TestStartDueCampaignsStartsEachDueCampaign(t *testing.T) {
	campaignRepo := &stubCampaignRepo{
		due: []*models.Campaign{{ID: 1}, {ID: 2}, {ID: 3}},
	}
	svc := &fakeCampaignService{}
	sweeper := NewSweeper(campaignRepo, &stubRecipientRepo{}, svc, 10*time.Minute, discardLogger())

	sweeper.StartDueCampaigns(context.Background())

	if len(svc.startCalls) != 3 {
		t.Fatalf("expected 3 start calls, got %d", len(svc.startCalls))
	}
}

func TestStartDueCampaignsToleratesLostRaces(t *testing.T) {
	campaignRepo := &stubCampaignRepo{due: []*models.Campaign{{ID: 1}, {ID: 2}}}
	svc := &fakeCampaignService{
		startErr: models.ErrTransition("start", models.CampaignStatusSending),
	}
	sweeper := NewSweeper(campaignRepo, &stubRecipientRepo{}, svc, 10*time.Minute, discardLogger())

	// Another trigger won both starts; the sweep moves on quietly
	sweeper.StartDueCampaigns(context.Background())

	if len(svc.startCalls) != 2 {
		t.Fatalf("expected both campaigns attempted, got %d", len(svc.startCalls))
	}
}

func TestRequeueStuckUsesConfiguredTimeout(t *testing.T) {
	recipientRepo := &stubRecipientRepo{stuckRequeued: 4}
	sweeper := NewSweeper(&stubCampaignRepo{}, recipientRepo, &fakeCampaignService{}, 10*time.Minute, discardLogger())

	sweeper.RequeueStuck(context.Background())

	if recipientRepo.gotStuckTimeout != 10*time.Minute {
		t.Errorf("expected 10m timeout, got %v", recipientRepo.gotStuckTimeout)
	}
}
