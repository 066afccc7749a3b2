package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/propline/campaign-engine/internal/models"
)

// CampaignRepository defines the interface for campaign data access.
// Status moves are conditional writes so concurrent triggers cannot
// race a campaign into an illegal state, and counters are increment-only.
type CampaignRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error)
	TransitionStatus(ctx context.Context, id int64, from []string, to string) (bool, error)
	MarkStarted(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64) (bool, error)
	AddSendCounts(ctx context.Context, id int64, sent, failed int64) error
	IncrementWebhookCounter(ctx context.Context, id int64, status string) error
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
}

// campaignRepository implements CampaignRepository using PostgreSQL
type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

const campaignColumns = `id, company_id, name, channel, connection_id, template_body, status,
	rate_limit_per_second, max_retries, total_recipients, sent_count, delivered_count,
	opened_count, failed_count, bounced_count, scheduled_at, started_at, completed_at,
	created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*models.Campaign, error) {
	campaign := &models.Campaign{}
	err := row.Scan(
		&campaign.ID,
		&campaign.CompanyID,
		&campaign.Name,
		&campaign.Channel,
		&campaign.ConnectionID,
		&campaign.TemplateBody,
		&campaign.Status,
		&campaign.RateLimitPerSecond,
		&campaign.MaxRetries,
		&campaign.TotalRecipients,
		&campaign.SentCount,
		&campaign.DeliveredCount,
		&campaign.OpenedCount,
		&campaign.FailedCount,
		&campaign.BouncedCount,
		&campaign.ScheduledAt,
		&campaign.StartedAt,
		&campaign.CompletedAt,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("campaign with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// List retrieves campaigns with pagination and filtering
func (r *campaignRepository) List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error) {
	models.ValidateAndSetDefaults(&filter.Page, &filter.PageSize)

	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.CompanyID > 0 {
		query += fmt.Sprintf(" AND company_id = $%d", argPos)
		countQuery += fmt.Sprintf(" AND company_id = $%d", argPos)
		args = append(args, filter.CompanyID)
		argPos++
	}

	if filter.Channel != "" {
		query += fmt.Sprintf(" AND channel = $%d", argPos)
		countQuery += fmt.Sprintf(" AND channel = $%d", argPos)
		args = append(args, filter.Channel)
		argPos++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		countQuery += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filter.Status)
		argPos++
	}

	var totalCount int64
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	offset := models.CalculateOffset(filter.Page, filter.PageSize)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.PageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating campaigns: %w", err)
	}

	return campaigns, totalCount, nil
}

// TransitionStatus moves a campaign from one of the given statuses to a
// new status. Returns false when the campaign was not in any of the
// expected statuses, which callers surface as a rejected transition.
func (r *campaignRepository) TransitionStatus(ctx context.Context, id int64, from []string, to string) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`

	result, err := r.db.ExecContext(ctx, query, to, id, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition campaign status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkStarted moves a startable campaign into sending and stamps
// started_at. The condition makes a repeated start a no-op at the store
// level so two concurrent start calls cannot both win.
func (r *campaignRepository) MarkStarted(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = $1, started_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)`

	result, err := r.db.ExecContext(ctx, query,
		models.CampaignStatusSending, id,
		models.CampaignStatusDraft, models.CampaignStatusScheduled,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark campaign started: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkCompleted moves a sending campaign to completed and stamps completed_at
func (r *campaignRepository) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = $1, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3`

	result, err := r.db.ExecContext(ctx, query,
		models.CampaignStatusCompleted, id, models.CampaignStatusSending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark campaign completed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// AddSendCounts adds dispatcher outcomes to the campaign counters.
// The increments happen in SQL so concurrent batches never lose counts.
func (r *campaignRepository) AddSendCounts(ctx context.Context, id int64, sent, failed int64) error {
	if sent == 0 && failed == 0 {
		return nil
	}

	query := `
		UPDATE campaigns
		SET sent_count = sent_count + $1, failed_count = failed_count + $2, updated_at = NOW()
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, sent, failed, id)
	if err != nil {
		return fmt.Errorf("failed to add send counts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return models.ErrNotFoundWithMsg(fmt.Sprintf("campaign with ID %d not found", id))
	}

	return nil
}

// webhookCounterColumns maps a reconciled status to the aggregate
// counter it bumps. Only whitelisted columns ever reach the query.
var webhookCounterColumns = map[string]string{
	models.DeliveryStatusDelivered: "delivered_count",
	models.DeliveryStatusRead:      "opened_count",
	models.DeliveryStatusFailed:    "failed_count",
	models.DeliveryStatusBounced:   "bounced_count",
}

// IncrementWebhookCounter atomically bumps the aggregate counter that
// corresponds to a reconciled delivery status
func (r *campaignRepository) IncrementWebhookCounter(ctx context.Context, id int64, status string) error {
	column, ok := webhookCounterColumns[status]
	if !ok {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE campaigns
		SET %s = %s + 1, updated_at = NOW()
		WHERE id = $1`, column, column)

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}

	return nil
}

// ListDueScheduled returns scheduled campaigns whose scheduled_at has passed
func (r *campaignRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, models.CampaignStatusScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due campaigns: %w", err)
	}

	return campaigns, nil
}
