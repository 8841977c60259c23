// internal/profile/repository.go

package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository is the durable side of the profile cache. The users table is
// owned by the account service; only match attributes are read or written.
type Repository interface {
	GetMatchAttributes(ctx context.Context, userID string) (*Attributes, error)
	SaveMatchAttributes(ctx context.Context, attrs *Attributes) error
}

// postgresRepository implements Repository using PostgreSQL
type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// GetMatchAttributes retrieves the match attributes for a user
func (r *postgresRepository) GetMatchAttributes(ctx context.Context, userID string) (*Attributes, error) {
	var attrs Attributes
	query := `
		SELECT
			u.id AS user_id,
			COALESCE(u.display_name, u.username, '') AS display_name,
			COALESCE(u.profile_picture, '') AS avatar_url,
			u.latitude, u.longitude,
			COALESCE(u.interests, '{}') AS interests
		FROM users u
		WHERE u.id = $1`

	err := r.db.GetContext(ctx, &attrs, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get match attributes: %w", err)
	}

	return &attrs, nil
}

// SaveMatchAttributes stores location and ranked interests
func (r *postgresRepository) SaveMatchAttributes(ctx context.Context, attrs *Attributes) error {
	query := `
		UPDATE users
		SET latitude = $2, longitude = $3, interests = $4, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, attrs.UserID, attrs.Latitude, attrs.Longitude, attrs.Interests)
	if err != nil {
		return fmt.Errorf("failed to save match attributes: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save match attributes: %w", err)
	}
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}
