package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/propline/campaign-engine/internal/models"
)

// ConnectionRepository reads channel connections. Connections are
// written by the onboarding flow; the engine never mutates them.
type ConnectionRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Connection, error)
}

// connectionRepository implements ConnectionRepository using PostgreSQL
type connectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

// GetByID retrieves a connection by ID
func (r *connectionRepository) GetByID(ctx context.Context, id int64) (*models.Connection, error) {
	query := `
		SELECT id, company_id, channel, provider, identifier, credentials, status
		FROM connections
		WHERE id = $1`

	connection := &models.Connection{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&connection.ID,
		&connection.CompanyID,
		&connection.Channel,
		&connection.Provider,
		&connection.Identifier,
		&connection.Credentials,
		&connection.Status,
	)

	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("connection with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return connection, nil
}
