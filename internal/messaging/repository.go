// internal/messaging/repository.go

package messaging

import (
    "context"
)

// HistoryRepository reads the durable chat record. It is only consulted to
// seed empty caches; writes go through the service owning the message table.
type HistoryRepository interface {
    // UnreadCounts returns connection id -> unread messages addressed to userID
    UnreadCounts(ctx context.Context, userID string) (map[string]int64, error)
    // RecentMessages returns up to limit messages of a connection, oldest first
    RecentMessages(ctx context.Context, connectionID string, limit int) ([]CachedMessage, error)
}
