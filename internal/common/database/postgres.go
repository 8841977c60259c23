// internal/common/database/postgres.go
// PostgreSQL connection for the durable boundary repositories

package database

import (
    "context"
    "fmt"
    "time"

    "github.com/jmoiron/sqlx"
    _ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig holds pool configuration
type PostgresConfig struct {
    MaxOpenConns int
    MaxIdleConns int
    MaxLifetime  time.Duration
}

// DefaultPostgresConfig mirrors the pool the API has always run with
func DefaultPostgresConfig() PostgresConfig {
    return PostgresConfig{
        MaxOpenConns: 25,
        MaxIdleConns: 5,
        MaxLifetime:  5 * time.Minute,
    }
}

// NewPostgresDBFromURL opens a sqlx handle from a URL and pings it
func NewPostgresDBFromURL(ctx context.Context, databaseURL string, cfg PostgresConfig) (*sqlx.DB, error) {
    db, err := sqlx.Open("postgres", databaseURL)
    if err != nil {
        return nil, fmt.Errorf("failed to open database: %w", err)
    }

    // Configure connection pool
    db.SetMaxOpenConns(cfg.MaxOpenConns)
    db.SetMaxIdleConns(cfg.MaxIdleConns)
    db.SetConnMaxLifetime(cfg.MaxLifetime)

    // Test connection
    pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := db.PingContext(pingCtx); err != nil {
        db.Close()
        return nil, fmt.Errorf("failed to ping database: %w", err)
    }

    return db, nil
}
