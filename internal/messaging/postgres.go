// internal/messaging/postgres.go

package messaging

import (
    "context"

    "github.com/jmoiron/sqlx"
)

type postgresRepository struct {
    db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) HistoryRepository {
    return &postgresRepository{db: db}
}

type unreadRow struct {
    ConnectionID string `db:"connection_id"`
    Unread       int64  `db:"unread"`
}

// UnreadCounts groups unread messages addressed to the user by connection
func (r *postgresRepository) UnreadCounts(ctx context.Context, userID string) (map[string]int64, error) {
    query := `
        SELECT connection_id, COUNT(*) AS unread
        FROM messages
        WHERE receiver_id = $1 AND is_read = false
        GROUP BY connection_id`

    var rows []unreadRow
    if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
        return nil, err
    }

    counts := make(map[string]int64, len(rows))
    for _, row := range rows {
        counts[row.ConnectionID] = row.Unread
    }
    return counts, nil
}

// RecentMessages returns the newest messages of a connection in chronological order
func (r *postgresRepository) RecentMessages(ctx context.Context, connectionID string, limit int) ([]CachedMessage, error) {
    query := `
        SELECT id, content, sender_id, created_at, type
        FROM (
            SELECT id, content, sender_id, created_at, COALESCE(message_type, 'TEXT') AS type
            FROM messages
            WHERE connection_id = $1
            ORDER BY created_at DESC
            LIMIT $2
        ) recent
        ORDER BY created_at ASC`

    var msgs []CachedMessage
    if err := r.db.SelectContext(ctx, &msgs, query, connectionID, limit); err != nil {
        return nil, err
    }
    return msgs, nil
}
