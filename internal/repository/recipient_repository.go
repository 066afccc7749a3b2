package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/propline/campaign-engine/internal/models"
)

// RecipientRepository defines the interface for recipient data access.
// Every mutation out of a prior status is a conditional write, which is
// what makes concurrent dispatcher/webhook/retry invocations safe.
type RecipientRepository interface {
	CreateBatch(ctx context.Context, recipients []*models.Recipient) error
	GetByID(ctx context.Context, id int64) (*models.Recipient, error)
	GetByExternalMessageID(ctx context.Context, externalID string) (*models.Recipient, error)
	List(ctx context.Context, filter models.RecipientFilter) ([]*models.Recipient, int64, error)
	ClaimBatch(ctx context.Context, campaignID int64, limit int) ([]*models.Recipient, error)
	CountQueued(ctx context.Context, campaignID int64) (int64, error)
	MarkSent(ctx context.Context, id int64, externalID string) (bool, error)
	MarkFailed(ctx context.Context, id int64, errorCode, errorMessage string) (bool, error)
	ApplyStatus(ctx context.Context, id int64, fromStatus, toStatus string, ts time.Time, errorCode, errorMessage *string) (bool, error)
	ListRetryable(ctx context.Context, campaignID int64, maxRetries, limit int) ([]*models.Recipient, error)
	Requeue(ctx context.Context, id int64, maxRetries int) (bool, error)
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// recipientRepository implements RecipientRepository using PostgreSQL
type recipientRepository struct {
	db *sql.DB
}

// NewRecipientRepository creates a new recipient repository
func NewRecipientRepository(db *sql.DB) RecipientRepository {
	return &recipientRepository{db: db}
}

const recipientColumns = `id, campaign_id, address, lead_id, template_vars, delivery_status,
	external_message_id, sent_at, delivered_at, read_at, failed_at, error_code,
	error_message, retry_count, created_at, updated_at`

func scanRecipient(row interface{ Scan(...interface{}) error }) (*models.Recipient, error) {
	recipient := &models.Recipient{}
	var vars []byte
	err := row.Scan(
		&recipient.ID,
		&recipient.CampaignID,
		&recipient.Address,
		&recipient.LeadID,
		&vars,
		&recipient.DeliveryStatus,
		&recipient.ExternalMessageID,
		&recipient.SentAt,
		&recipient.DeliveredAt,
		&recipient.ReadAt,
		&recipient.FailedAt,
		&recipient.ErrorCode,
		&recipient.ErrorMessage,
		&recipient.RetryCount,
		&recipient.CreatedAt,
		&recipient.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &recipient.TemplateVars); err != nil {
			return nil, fmt.Errorf("failed to decode template vars: %w", err)
		}
	}
	return recipient, nil
}

// CreateBatch inserts recipients for a campaign in a single transaction.
// The recipient-list builder is the normal caller; the engine itself
// only reads and transitions rows.
func (r *recipientRepository) CreateBatch(ctx context.Context, recipients []*models.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // Rollback is safe to call even after Commit
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO campaign_recipients (campaign_id, address, lead_id, template_vars, delivery_status, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, recipient := range recipients {
		vars, err := json.Marshal(recipient.TemplateVars)
		if err != nil {
			return fmt.Errorf("failed to encode template vars: %w", err)
		}

		err = stmt.QueryRowContext(
			ctx,
			recipient.CampaignID,
			recipient.Address,
			recipient.LeadID,
			vars,
			models.DeliveryStatusQueued,
			0,
		).Scan(&recipient.ID, &recipient.CreatedAt, &recipient.UpdatedAt)

		if err != nil {
			return fmt.Errorf("failed to insert recipient: %w", err)
		}
		recipient.DeliveryStatus = models.DeliveryStatusQueued
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a recipient by ID
func (r *recipientRepository) GetByID(ctx context.Context, id int64) (*models.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM campaign_recipients WHERE id = $1`

	recipient, err := scanRecipient(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("recipient with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}

	return recipient, nil
}

// GetByExternalMessageID retrieves a recipient by the provider-assigned
// message id. Webhook events join back to recipients through this key.
func (r *recipientRepository) GetByExternalMessageID(ctx context.Context, externalID string) (*models.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM campaign_recipients WHERE external_message_id = $1`

	recipient, err := scanRecipient(r.db.QueryRowContext(ctx, query, externalID))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("no recipient for external message id %s", externalID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient by external id: %w", err)
	}

	return recipient, nil
}

// List retrieves recipients with pagination and filtering
func (r *recipientRepository) List(ctx context.Context, filter models.RecipientFilter) ([]*models.Recipient, int64, error) {
	models.ValidateAndSetDefaults(&filter.Page, &filter.PageSize)

	query := `SELECT ` + recipientColumns + ` FROM campaign_recipients WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM campaign_recipients WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.CampaignID > 0 {
		query += fmt.Sprintf(" AND campaign_id = $%d", argPos)
		countQuery += fmt.Sprintf(" AND campaign_id = $%d", argPos)
		args = append(args, filter.CampaignID)
		argPos++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND delivery_status = $%d", argPos)
		countQuery += fmt.Sprintf(" AND delivery_status = $%d", argPos)
		args = append(args, filter.Status)
		argPos++
	}

	var totalCount int64
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count recipients: %w", err)
	}

	offset := models.CalculateOffset(filter.Page, filter.PageSize)
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.PageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	recipients := []*models.Recipient{}
	for rows.Next() {
		recipient, err := scanRecipient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating recipients: %w", err)
	}

	return recipients, totalCount, nil
}

// ClaimBatch atomically claims up to limit queued recipients for a
// campaign, oldest first. The inner SELECT locks candidate rows with
// SKIP LOCKED and the outer UPDATE re-checks the status, so two
// concurrent dispatcher passes can never claim the same recipient.
func (r *recipientRepository) ClaimBatch(ctx context.Context, campaignID int64, limit int) ([]*models.Recipient, error) {
	query := `
		UPDATE campaign_recipients
		SET delivery_status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM campaign_recipients
			WHERE campaign_id = $2 AND delivery_status = $3
			ORDER BY created_at ASC, id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		) AND delivery_status = $3
		RETURNING ` + recipientColumns

	rows, err := r.db.QueryContext(ctx, query,
		models.DeliveryStatusSending, campaignID, models.DeliveryStatusQueued, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	defer rows.Close()

	recipients := []*models.Recipient{}
	for rows.Next() {
		recipient, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed recipients: %w", err)
	}

	return recipients, nil
}

// CountQueued returns the number of still-queued recipients for a campaign
func (r *recipientRepository) CountQueued(ctx context.Context, campaignID int64) (int64, error) {
	query := `
		SELECT COUNT(*) FROM campaign_recipients
		WHERE campaign_id = $1 AND delivery_status = $2`

	var count int64
	err := r.db.QueryRowContext(ctx, query, campaignID, models.DeliveryStatusQueued).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queued recipients: %w", err)
	}

	return count, nil
}

// MarkSent resolves a claimed recipient as sent and records the
// provider message id. Conditional on the row still being in sending,
// so only the claiming dispatcher pass can resolve it.
func (r *recipientRepository) MarkSent(ctx context.Context, id int64, externalID string) (bool, error) {
	query := `
		UPDATE campaign_recipients
		SET delivery_status = $1, external_message_id = $2, sent_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND delivery_status = $4`

	result, err := r.db.ExecContext(ctx, query,
		models.DeliveryStatusSent, externalID, id, models.DeliveryStatusSending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark recipient sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkFailed resolves a claimed recipient as failed with the normalized
// error. retry_count is deliberately untouched here; the retry pass
// owns that increment.
func (r *recipientRepository) MarkFailed(ctx context.Context, id int64, errorCode, errorMessage string) (bool, error) {
	query := `
		UPDATE campaign_recipients
		SET delivery_status = $1, error_code = $2, error_message = $3, failed_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND delivery_status = $5`

	result, err := r.db.ExecContext(ctx, query,
		models.DeliveryStatusFailed, errorCode, errorMessage, id, models.DeliveryStatusSending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark recipient failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ApplyStatus moves a recipient from one delivery status to another and
// stamps the timestamp matching the new status. The compare-and-swap on
// fromStatus makes webhook application idempotent: a duplicate or
// out-of-order event finds the row already moved on and affects nothing.
func (r *recipientRepository) ApplyStatus(ctx context.Context, id int64, fromStatus, toStatus string, ts time.Time, errorCode, errorMessage *string) (bool, error) {
	var tsColumn string
	switch toStatus {
	case models.DeliveryStatusDelivered:
		tsColumn = "delivered_at"
	case models.DeliveryStatusRead:
		tsColumn = "read_at"
	case models.DeliveryStatusFailed, models.DeliveryStatusBounced:
		tsColumn = "failed_at"
	case models.DeliveryStatusSent:
		tsColumn = "sent_at"
	default:
		return false, models.ErrInvalidInput(fmt.Sprintf("cannot apply delivery status: %s", toStatus))
	}

	query := fmt.Sprintf(`
		UPDATE campaign_recipients
		SET delivery_status = $1, %s = $2, error_code = COALESCE($3, error_code),
			error_message = COALESCE($4, error_message), updated_at = NOW()
		WHERE id = $5 AND delivery_status = $6`, tsColumn)

	result, err := r.db.ExecContext(ctx, query, toStatus, ts, errorCode, errorMessage, id, fromStatus)
	if err != nil {
		return false, fmt.Errorf("failed to apply delivery status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ListRetryable returns failed recipients that still have retry budget.
// Permanent error codes are filtered by the caller, which owns the
// classification.
func (r *recipientRepository) ListRetryable(ctx context.Context, campaignID int64, maxRetries, limit int) ([]*models.Recipient, error) {
	query := `SELECT ` + recipientColumns + `
		FROM campaign_recipients
		WHERE campaign_id = $1 AND delivery_status = $2 AND retry_count < $3
		ORDER BY created_at ASC, id ASC
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, campaignID, models.DeliveryStatusFailed, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable recipients: %w", err)
	}
	defer rows.Close()

	recipients := []*models.Recipient{}
	for rows.Next() {
		recipient, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retryable recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retryable recipients: %w", err)
	}

	return recipients, nil
}

// Requeue returns a failed recipient to the queue for another attempt.
// The retry counter increments inside the same conditional write, so
// concurrent retry invocations can neither lose an increment nor push
// a recipient past its ceiling.
func (r *recipientRepository) Requeue(ctx context.Context, id int64, maxRetries int) (bool, error) {
	query := `
		UPDATE campaign_recipients
		SET delivery_status = $1, error_code = NULL, error_message = NULL,
			failed_at = NULL, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $2 AND delivery_status = $3 AND retry_count < $4`

	result, err := r.db.ExecContext(ctx, query,
		models.DeliveryStatusQueued, id, models.DeliveryStatusFailed, maxRetries,
	)
	if err != nil {
		return false, fmt.Errorf("failed to requeue recipient: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// RequeueStuck returns recipients left in sending longer than olderThan
// back to queued. This covers a dispatcher that crashed mid-batch.
func (r *recipientRepository) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE campaign_recipients
		SET delivery_status = $1, updated_at = NOW()
		WHERE delivery_status = $2 AND updated_at < NOW() - $3::interval`

	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	result, err := r.db.ExecContext(ctx, query,
		models.DeliveryStatusQueued, models.DeliveryStatusSending, interval,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck recipients: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
