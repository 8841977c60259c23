// internal/messaging/notifications.go

package messaging

import (
    "context"
    "strconv"

    "github.com/go-redis/redis/v8"
    "go.uber.org/zap"

    "github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

// KEYS: notifications hash
// ARGV: receiver, category, delta, channel
var incrementNotificationScript = redis.NewScript(`
local count = redis.call('HINCRBY', KEYS[1], ARGV[2], ARGV[3])
local envelope = cjson.encode({
  receiverId = ARGV[1],
  eventType = 'NOTIFICATION_UPDATE',
  eventData = {category = ARGV[2], count = count}
})
redis.call('PUBLISH', ARGV[4], envelope)
return count
`)

// Notifications keeps per-category badge counters and pushes every change
// to the user's sockets.
type Notifications struct {
    store  *store.Store
    router *Router
    logger *zap.Logger
}

func NewNotifications(st *store.Store, router *Router, logger *zap.Logger) *Notifications {
    return &Notifications{store: st, router: router, logger: logger.Named("notifications")}
}

// Increment bumps a category counter and returns the new count
func (n *Notifications) Increment(ctx context.Context, userID, category string) (int64, error) {
    if !knownCategories[category] {
        return 0, ErrUnknownCategory
    }

    count, err := incrementNotificationScript.Run(ctx, n.store.Redis(),
        []string{store.NotificationsKey(userID)},
        userID, category, 1, n.router.Channel(),
    ).Int64()
    if err != nil {
        return 0, store.Wrap(err)
    }

    RecordPublished(RoutedNotificationUpdate)
    return count, nil
}

// Reset clears a category and tells the user's other devices
func (n *Notifications) Reset(ctx context.Context, userID, category string) error {
    if !knownCategories[category] {
        return ErrUnknownCategory
    }

    if err := n.store.Redis().HDel(ctx, store.NotificationsKey(userID), category).Err(); err != nil {
        return store.Wrap(err)
    }
    return n.router.Publish(ctx, userID, RoutedNotificationUpdate, NotificationUpdate{Category: category, Count: 0})
}

// Counts returns every non-zero category counter
func (n *Notifications) Counts(ctx context.Context, userID string) (map[string]int64, error) {
    raw, err := n.store.Redis().HGetAll(ctx, store.NotificationsKey(userID)).Result()
    if err != nil {
        return nil, store.Wrap(err)
    }

    counts := make(map[string]int64, len(raw))
    for category, v := range raw {
        c, err := strconv.ParseInt(v, 10, 64)
        if err != nil || c <= 0 {
            continue
        }
        counts[category] = c
    }
    return counts, nil
}
