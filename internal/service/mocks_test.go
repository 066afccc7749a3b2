package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/propline/campaign-engine/internal/channel"
	"github.com/propline/campaign-engine/internal/models"
	"github.com/propline/campaign-engine/internal/queue"
)

// In-memory fakes that mirror the conditional-write semantics of the
// real repositories, so the concurrency properties under test mean
// something.

type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int64]*models.Campaign
}

func newMemCampaignRepo(campaigns ...*models.Campaign) *memCampaignRepo {
	m := &memCampaignRepo{campaigns: map[int64]*models.Campaign{}}
	for _, c := range campaigns {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *memCampaignRepo) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("campaign not found")
	}
	copied := *campaign
	return &copied, nil
}

func (m *memCampaignRepo) List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error) {
	return nil, 0, nil
}

func (m *memCampaignRepo) TransitionStatus(ctx context.Context, id int64, from []string, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[id]
	if !ok {
		return false, models.ErrNotFoundWithMsg("campaign not found")
	}
	for _, status := range from {
		if campaign.Status == status {
			campaign.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memCampaignRepo) MarkStarted(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[id]
	if !ok {
		return false, models.ErrNotFoundWithMsg("campaign not found")
	}
	if campaign.Status != models.CampaignStatusDraft && campaign.Status != models.CampaignStatusScheduled {
		return false, nil
	}
	now := time.Now()
	campaign.Status = models.CampaignStatusSending
	campaign.StartedAt = &now
	return true, nil
}

func (m *memCampaignRepo) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[id]
	if !ok {
		return false, models.ErrNotFoundWithMsg("campaign not found")
	}
	if campaign.Status != models.CampaignStatusSending {
		return false, nil
	}
	now := time.Now()
	campaign.Status = models.CampaignStatusCompleted
	campaign.CompletedAt = &now
	return true, nil
}

func (m *memCampaignRepo) AddSendCounts(ctx context.Context, id int64, sent, failed int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[id]
	if !ok {
		return models.ErrNotFoundWithMsg("campaign not found")
	}
	campaign.SentCount += sent
	campaign.FailedCount += failed
	return nil
}

func (m *memCampaignRepo) IncrementWebhookCounter(ctx context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	campaign, ok := m.campaigns[id]
	if !ok {
		return models.ErrNotFoundWithMsg("campaign not found")
	}
	switch status {
	case models.DeliveryStatusDelivered:
		campaign.DeliveredCount++
	case models.DeliveryStatusRead:
		campaign.OpenedCount++
	case models.DeliveryStatusFailed:
		campaign.FailedCount++
	case models.DeliveryStatusBounced:
		campaign.BouncedCount++
	}
	return nil
}

func (m *memCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	return nil, nil
}

type memRecipientRepo struct {
	mu         sync.Mutex
	recipients map[int64]*models.Recipient
}

func newMemRecipientRepo(recipients ...*models.Recipient) *memRecipientRepo {
	m := &memRecipientRepo{recipients: map[int64]*models.Recipient{}}
	for _, r := range recipients {
		m.recipients[r.ID] = r
	}
	return m
}

func (m *memRecipientRepo) CreateBatch(ctx context.Context, recipients []*models.Recipient) error {
	return nil
}

func (m *memRecipientRepo) GetByID(ctx context.Context, id int64) (*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recipient, ok := m.recipients[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("recipient not found")
	}
	copied := *recipient
	return &copied, nil
}

func (m *memRecipientRepo) GetByExternalMessageID(ctx context.Context, externalID string) (*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, recipient := range m.recipients {
		if recipient.ExternalMessageID != nil && *recipient.ExternalMessageID == externalID {
			copied := *recipient
			return &copied, nil
		}
	}
	return nil, models.ErrNotFoundWithMsg("no recipient for external message id")
}

func (m *memRecipientRepo) List(ctx context.Context, filter models.RecipientFilter) ([]*models.Recipient, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Recipient{}
	for _, recipient := range m.recipients {
		if recipient.CampaignID == filter.CampaignID &&
			(filter.Status == "" || recipient.DeliveryStatus == filter.Status) {
			copied := *recipient
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memRecipientRepo) ClaimBatch(ctx context.Context, campaignID int64, limit int) ([]*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queued := []*models.Recipient{}
	for _, recipient := range m.recipients {
		if recipient.CampaignID == campaignID && recipient.DeliveryStatus == models.DeliveryStatusQueued {
			queued = append(queued, recipient)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].ID < queued[j].ID
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	if len(queued) > limit {
		queued = queued[:limit]
	}
	claimed := make([]*models.Recipient, 0, len(queued))
	for _, recipient := range queued {
		recipient.DeliveryStatus = models.DeliveryStatusSending
		copied := *recipient
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (m *memRecipientRepo) CountQueued(ctx context.Context, campaignID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, recipient := range m.recipients {
		if recipient.CampaignID == campaignID && recipient.DeliveryStatus == models.DeliveryStatusQueued {
			count++
		}
	}
	return count, nil
}

func (m *memRecipientRepo) MarkSent(ctx context.Context, id int64, externalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recipient, ok := m.recipients[id]
	if !ok || recipient.DeliveryStatus != models.DeliveryStatusSending {
		return false, nil
	}
	now := time.Now()
	recipient.DeliveryStatus = models.DeliveryStatusSent
	recipient.ExternalMessageID = &externalID
	recipient.SentAt = &now
	return true, nil
}

func (m *memRecipientRepo) MarkFailed(ctx context.Context, id int64, errorCode, errorMessage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recipient, ok := m.recipients[id]
	if !ok || recipient.DeliveryStatus != models.DeliveryStatusSending {
		return false, nil
	}
	now := time.Now()
	recipient.DeliveryStatus = models.DeliveryStatusFailed
	recipient.ErrorCode = &errorCode
	recipient.ErrorMessage = &errorMessage
	recipient.FailedAt = &now
	return true, nil
}

func (m *memRecipientRepo) ApplyStatus(ctx context.Context, id int64, fromStatus, toStatus string, ts time.Time, errorCode, errorMessage *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recipient, ok := m.recipients[id]
	if !ok || recipient.DeliveryStatus != fromStatus {
		return false, nil
	}
	recipient.DeliveryStatus = toStatus
	switch toStatus {
	case models.DeliveryStatusDelivered:
		recipient.DeliveredAt = &ts
	case models.DeliveryStatusRead:
		recipient.ReadAt = &ts
	case models.DeliveryStatusFailed, models.DeliveryStatusBounced:
		recipient.FailedAt = &ts
	case models.DeliveryStatusSent:
		recipient.SentAt = &ts
	}
	if errorCode != nil {
		recipient.ErrorCode = errorCode
	}
	if errorMessage != nil {
		recipient.ErrorMessage = errorMessage
	}
	return true, nil
}

func (m *memRecipientRepo) ListRetryable(ctx context.Context, campaignID int64, maxRetries, limit int) ([]*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Recipient{}
	for _, recipient := range m.recipients {
		if recipient.CampaignID == campaignID &&
			recipient.DeliveryStatus == models.DeliveryStatusFailed &&
			recipient.RetryCount < maxRetries {
			copied := *recipient
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRecipientRepo) Requeue(ctx context.Context, id int64, maxRetries int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recipient, ok := m.recipients[id]
	if !ok || recipient.DeliveryStatus != models.DeliveryStatusFailed || recipient.RetryCount >= maxRetries {
		return false, nil
	}
	recipient.DeliveryStatus = models.DeliveryStatusQueued
	recipient.ErrorCode = nil
	recipient.ErrorMessage = nil
	recipient.FailedAt = nil
	recipient.RetryCount++
	return true, nil
}

func (m *memRecipientRepo) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type memConnectionRepo struct {
	connections map[int64]*models.Connection
}

func newMemConnectionRepo(connections ...*models.Connection) *memConnectionRepo {
	m := &memConnectionRepo{connections: map[int64]*models.Connection{}}
	for _, c := range connections {
		m.connections[c.ID] = c
	}
	return m
}

func (m *memConnectionRepo) GetByID(ctx context.Context, id int64) (*models.Connection, error) {
	connection, ok := m.connections[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("connection not found")
	}
	return connection, nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (m *memAuditRepo) Append(ctx context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAuditRepo) ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.AuditEntry{}
	for _, entry := range m.entries {
		if entry.CampaignID == campaignID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memAuditRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.Action)
	}
	return out
}

type memQueue struct {
	mu   sync.Mutex
	jobs []*models.BatchJob
}

func (m *memQueue) Publish(ctx context.Context, job *models.BatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memQueue) Consume(ctx context.Context, handler queue.JobHandler, concurrency int) error {
	return nil
}

func (m *memQueue) Close() error { return nil }

func (m *memQueue) Health(ctx context.Context) error { return nil }

func (m *memQueue) published() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// stubAdapter resolves sends from a per-address script
type stubAdapter struct {
	channelName string
	mu          sync.Mutex
	calls       []string
	fail        map[string]*channel.SendError
	nextID      int
}

func newStubAdapter(channelName string) *stubAdapter {
	return &stubAdapter{channelName: channelName, fail: map[string]*channel.SendError{}}
}

func (a *stubAdapter) Channel() string { return a.channelName }

func (a *stubAdapter) Send(ctx context.Context, conn *models.Connection, recipient *models.Recipient, body string) (*channel.SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, recipient.Address)
	if sendErr, ok := a.fail[recipient.Address]; ok {
		return nil, sendErr
	}
	a.nextID++
	return &channel.SendResult{ExternalID: fmt.Sprintf("ext-%d", a.nextID)}, nil
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// testEnv wires the full service stack over the in-memory fakes
type testEnv struct {
	campaignRepo  *memCampaignRepo
	recipientRepo *memRecipientRepo
	auditRepo     *memAuditRepo
	queue         *memQueue
	adapter       *stubAdapter
	dispatcher    *BatchDispatcher
	campaignSvc   CampaignService
	retrySvc      RetryService
	reconcilerSvc ReconcilerService
}

func newTestEnv(campaign *models.Campaign, recipients ...*models.Recipient) *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	campaignRepo := newMemCampaignRepo(campaign)
	recipientRepo := newMemRecipientRepo(recipients...)
	connectionRepo := newMemConnectionRepo(&models.Connection{
		ID:      campaign.ConnectionID,
		Channel: campaign.Channel,
		Status:  models.ConnectionStatusActive,
	})
	auditRepo := &memAuditRepo{}
	q := &memQueue{}
	adapter := newStubAdapter(campaign.Channel)

	dispatcher := NewBatchDispatcher(
		campaignRepo, recipientRepo, connectionRepo, auditRepo,
		channel.NewRegistry(adapter), NewTemplateService(), logger,
	)

	return &testEnv{
		campaignRepo:  campaignRepo,
		recipientRepo: recipientRepo,
		auditRepo:     auditRepo,
		queue:         q,
		adapter:       adapter,
		dispatcher:    dispatcher,
		campaignSvc:   NewCampaignService(campaignRepo, recipientRepo, auditRepo, dispatcher, q, logger),
		retrySvc:      NewRetryService(campaignRepo, recipientRepo, auditRepo, q, logger),
		reconcilerSvc: NewReconcilerService(campaignRepo, recipientRepo, auditRepo, logger),
	}
}

func testCampaign(id int64, status string, rate int) *models.Campaign {
	return &models.Campaign{
		ID:                 id,
		CompanyID:          1,
		Name:               "launch announcement",
		Channel:            models.ChannelWhatsApp,
		ConnectionID:       10,
		TemplateBody:       "Hi {name}, we are live",
		Status:             status,
		RateLimitPerSecond: rate,
		MaxRetries:         3,
	}
}

func testRecipient(id, campaignID int64, address string) *models.Recipient {
	return &models.Recipient{
		ID:             id,
		CampaignID:     campaignID,
		Address:        address,
		TemplateVars:   map[string]string{"name": "Ada"},
		DeliveryStatus: models.DeliveryStatusQueued,
		CreatedAt:      time.Unix(1700000000, 0).Add(time.Duration(id) * time.Second),
	}
}

func strPtr(s string) *string { return &s }
