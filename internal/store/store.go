// internal/store/store.go
// Shared coordination store handle. Every component that touches queue,
// profile, session, presence, vote or unread state receives the same *Store.

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the shared store cannot be reached or
// rejects a command. Callers treat it as retryable.
var ErrUnavailable = errors.New("coordination store unavailable")

// Store wraps the redis client shared by every component of one instance.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// New wraps an already connected client
func New(client *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger.Named("store")}
}

// Redis exposes the underlying client for scripts, pipelines and pub/sub.
func (s *Store) Redis() *redis.Client {
	return s.client
}

// Ping checks the store answers
func (s *Store) Ping(ctx context.Context) error {
	return Wrap(s.client.Ping(ctx).Err())
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.client.Close()
}

// Wrap maps a transport error to ErrUnavailable. redis.Nil passes through
// untouched so callers can still detect missing keys.
func Wrap(err error) error {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// IsNil reports whether err is the redis "no such key" reply
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
