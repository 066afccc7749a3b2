package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/propline/campaign-engine/internal/models"
)

// AuditRepository appends engine actions to the campaign audit log.
// Entries are append-only; there is no update or delete.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*models.AuditEntry, error)
}

// auditRepository implements AuditRepository using PostgreSQL
type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Append inserts a new audit entry
func (r *auditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO campaign_audit_log (campaign_id, recipient_id, action, action_type, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(
		ctx,
		query,
		entry.CampaignID,
		entry.RecipientID,
		entry.Action,
		entry.ActionType,
		entry.Details,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// ListByCampaign retrieves the most recent audit entries for a campaign
func (r *auditRepository) ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, campaign_id, recipient_id, action, action_type, details, created_at
		FROM campaign_audit_log
		WHERE campaign_id = $1
		ORDER BY id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*models.AuditEntry{}
	for rows.Next() {
		entry := &models.AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.CampaignID,
			&entry.RecipientID,
			&entry.Action,
			&entry.ActionType,
			&entry.Details,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
