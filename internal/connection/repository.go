// internal/connection/repository.go

package connection

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository is the durable record of every connection
type Repository interface {
	CreateConnection(ctx context.Context, user1ID, user2ID string, expiresAt time.Time) (string, error)
	MarkExtended(ctx context.Context, id string, expiresAt time.Time) error
	MarkFriends(ctx context.Context, id string) error
	Archive(ctx context.Context, id string, finalDeleteAt time.Time) error
	FindParticipants(ctx context.Context, id string) (*Record, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateConnection(ctx context.Context, user1ID, user2ID string, expiresAt time.Time) (string, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO connections (id, user1_id, user2_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query, id, user1ID, user2ID, RecordActive, expiresAt); err != nil {
		return "", err
	}
	return id, nil
}

func (r *postgresRepository) MarkExtended(ctx context.Context, id string, expiresAt time.Time) error {
	query := `
		UPDATE connections
		SET expires_at = $2, extended = true, updated_at = NOW()
		WHERE id = $1 AND status = $3`

	_, err := r.db.ExecContext(ctx, query, id, expiresAt, RecordActive)
	return err
}

func (r *postgresRepository) MarkFriends(ctx context.Context, id string) error {
	query := `
		UPDATE connections
		SET status = $2, expires_at = NULL, final_delete_at = NULL, updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, RecordFriend)
	return err
}

// Archive keeps FRIEND connections untouched
func (r *postgresRepository) Archive(ctx context.Context, id string, finalDeleteAt time.Time) error {
	query := `
		UPDATE connections
		SET status = $2, final_delete_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`

	_, err := r.db.ExecContext(ctx, query, id, RecordArchived, finalDeleteAt, RecordActive)
	return err
}

func (r *postgresRepository) FindParticipants(ctx context.Context, id string) (*Record, error) {
	var rec Record
	query := `
		SELECT id, user1_id, user2_id, status, expires_at, final_delete_at
		FROM connections
		WHERE id = $1`

	err := r.db.GetContext(ctx, &rec, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
