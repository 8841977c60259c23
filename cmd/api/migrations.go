// cmd/api/migrations.go
// Schema for the durable tables this service touches

package main

import (
    "context"
    "fmt"

    "github.com/jmoiron/sqlx"
    "go.uber.org/zap"
)

var migrations = []string{
    // Users are owned by the account service; only the columns read here are ensured
    `CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        username VARCHAR(50),
        display_name VARCHAR(100),
        profile_picture TEXT,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    )`,
    `ALTER TABLE users ADD COLUMN IF NOT EXISTS latitude DOUBLE PRECISION`,
    `ALTER TABLE users ADD COLUMN IF NOT EXISTS longitude DOUBLE PRECISION`,
    `ALTER TABLE users ADD COLUMN IF NOT EXISTS interests TEXT[] DEFAULT '{}'`,

    `CREATE TABLE IF NOT EXISTS connections (
        id TEXT PRIMARY KEY,
        user1_id TEXT NOT NULL,
        user2_id TEXT NOT NULL,
        status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
        expires_at TIMESTAMP NOT NULL,
        extended BOOLEAN DEFAULT false,
        final_delete_at TIMESTAMP,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        CHECK (status IN ('ACTIVE', 'FRIEND', 'ARCHIVED'))
    )`,
    `CREATE INDEX IF NOT EXISTS idx_connections_user1 ON connections(user1_id)`,
    `CREATE INDEX IF NOT EXISTS idx_connections_user2 ON connections(user2_id)`,
    `CREATE INDEX IF NOT EXISTS idx_connections_final_delete ON connections(final_delete_at) WHERE status = 'ARCHIVED'`,

    `CREATE TABLE IF NOT EXISTS messages (
        id BIGSERIAL PRIMARY KEY,
        connection_id TEXT NOT NULL,
        sender_id TEXT NOT NULL,
        receiver_id TEXT NOT NULL,
        content TEXT NOT NULL,
        message_type VARCHAR(20) DEFAULT 'TEXT',
        is_read BOOLEAN DEFAULT false,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    )`,
    `CREATE INDEX IF NOT EXISTS idx_messages_connection ON messages(connection_id, created_at DESC)`,
}

func runMigrations(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
    for i, stmt := range migrations {
        if _, err := db.ExecContext(ctx, stmt); err != nil {
            return fmt.Errorf("migration %d: %w", i+1, err)
        }
    }
    logger.Info("migrations completed", zap.Int("statements", len(migrations)))
    return nil
}
