// internal/messaging/ledger.go
// Unread ledger and bounded chat buffer. A message append, its unread
// accounting and its fan-out happen in one script.

package messaging

import (
    "context"
    "encoding/json"
    "strconv"
    "time"

    "github.com/go-redis/redis/v8"
    "go.uber.org/zap"

    "github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

// KEYS: chat buffer, receiver unread hash, receiver active chat
// ARGV: message, cap, ttl seconds, connection id, channel, envelope
var recordMessageScript = redis.NewScript(`
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('LTRIM', KEYS[1], -tonumber(ARGV[2]), -1)
redis.call('EXPIRE', KEYS[1], ARGV[3])
local unread = 0
if redis.call('GET', KEYS[3]) ~= ARGV[4] then
  unread = redis.call('HINCRBY', KEYS[2], ARGV[4], 1)
end
redis.call('PUBLISH', ARGV[5], ARGV[6])
return unread
`)

type LedgerConfig struct {
    HistoryLimit int
    ChatTTL      time.Duration
    TypingTTL    time.Duration
    Channel      string
}

// Ledger owns chat buffers, unread counters and the active chat marker
type Ledger struct {
    store  *store.Store
    repo   HistoryRepository
    cfg    LedgerConfig
    logger *zap.Logger
}

// NewLedger creates a ledger. repo may be nil; hydration is then skipped.
func NewLedger(st *store.Store, repo HistoryRepository, cfg LedgerConfig, logger *zap.Logger) *Ledger {
    if cfg.Channel == "" {
        cfg.Channel = store.DefaultRouterChannel
    }
    if cfg.HistoryLimit < 1 {
        cfg.HistoryLimit = 50
    }
    return &Ledger{store: st, repo: repo, cfg: cfg, logger: logger.Named("ledger")}
}

// RecordMessage appends msg to the conversation buffer, bumps the receiver's
// unread counter unless they are viewing the conversation, and publishes the
// event to the receiver. It returns the receiver's new unread count, 0 when
// the receiver is viewing.
func (l *Ledger) RecordMessage(ctx context.Context, connectionID, receiverID, eventType string, msg *CachedMessage) (int64, error) {
    entry, err := json.Marshal(msg)
    if err != nil {
        return 0, err
    }
    env, err := NewEnvelope(receiverID, eventType, ChatEventData{ConnectionID: connectionID, CachedMessage: *msg})
    if err != nil {
        return 0, err
    }
    rawEnv, err := json.Marshal(env)
    if err != nil {
        return 0, err
    }

    unread, err := recordMessageScript.Run(ctx, l.store.Redis(),
        []string{store.ChatKey(connectionID), store.UnreadKey(receiverID), store.ActiveChatKey(receiverID)},
        entry, l.cfg.HistoryLimit, int64(l.cfg.ChatTTL/time.Second), connectionID, l.cfg.Channel, rawEnv,
    ).Int64()
    if err != nil {
        return 0, store.Wrap(err)
    }

    RecordPublished(eventType)
    return unread, nil
}

// MarkActive records that userID is viewing connectionID and zeroes its unread counter
func (l *Ledger) MarkActive(ctx context.Context, userID, connectionID string) error {
    _, err := l.store.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
        pipe.Set(ctx, store.ActiveChatKey(userID), connectionID, l.cfg.ChatTTL)
        pipe.HDel(ctx, store.UnreadKey(userID), connectionID)
        return nil
    })
    return store.Wrap(err)
}

func (l *Ledger) MarkInactive(ctx context.Context, userID string) error {
    return store.Wrap(l.store.Redis().Del(ctx, store.ActiveChatKey(userID)).Err())
}

// ActiveConversation returns the conversation the user is viewing, "" if none
func (l *Ledger) ActiveConversation(ctx context.Context, userID string) (string, error) {
    id, err := l.store.Redis().Get(ctx, store.ActiveChatKey(userID)).Result()
    if store.IsNil(err) {
        return "", nil
    }
    if err != nil {
        return "", store.Wrap(err)
    }
    return id, nil
}

// UnreadCounts returns connection id -> unread count. The first read seeds
// the hash from the durable store without clobbering live counters.
func (l *Ledger) UnreadCounts(ctx context.Context, userID string) (map[string]int64, error) {
    if err := l.hydrateUnread(ctx, userID); err != nil {
        return nil, err
    }

    raw, err := l.store.Redis().HGetAll(ctx, store.UnreadKey(userID)).Result()
    if err != nil {
        return nil, store.Wrap(err)
    }

    counts := make(map[string]int64, len(raw))
    for connID, v := range raw {
        n, err := strconv.ParseInt(v, 10, 64)
        if err != nil || n <= 0 {
            continue
        }
        counts[connID] = n
    }
    return counts, nil
}

func (l *Ledger) hydrateUnread(ctx context.Context, userID string) error {
    if l.repo == nil {
        return nil
    }

    n, err := l.store.Redis().Exists(ctx, store.UnreadHydratedKey(userID)).Result()
    if err != nil {
        return store.Wrap(err)
    }
    if n == 1 {
        return nil
    }

    durable, err := l.repo.UnreadCounts(ctx, userID)
    if err != nil {
        return err
    }
    active, err := l.ActiveConversation(ctx, userID)
    if err != nil {
        return err
    }

    _, err = l.store.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
        for connID, count := range durable {
            if connID == active || count <= 0 {
                continue
            }
            pipe.HSetNX(ctx, store.UnreadKey(userID), connID, count)
        }
        pipe.Set(ctx, store.UnreadHydratedKey(userID), "1", 0)
        return nil
    })
    if err != nil {
        return store.Wrap(err)
    }

    l.logger.Debug("hydrated unread counts", zap.String("user_id", userID), zap.Int("conversations", len(durable)))
    return nil
}

// History returns the buffered messages of a conversation, oldest first.
// An empty buffer is seeded from the durable store's most recent messages.
func (l *Ledger) History(ctx context.Context, connectionID string) ([]CachedMessage, error) {
    raw, err := l.store.Redis().LRange(ctx, store.ChatKey(connectionID), 0, -1).Result()
    if err != nil {
        return nil, store.Wrap(err)
    }

    if len(raw) > 0 {
        msgs := make([]CachedMessage, 0, len(raw))
        for _, entry := range raw {
            var m CachedMessage
            if err := json.Unmarshal([]byte(entry), &m); err != nil {
                l.logger.Warn("skipping malformed buffered message", zap.String("connection_id", connectionID), zap.Error(err))
                continue
            }
            msgs = append(msgs, m)
        }
        return msgs, nil
    }

    if l.repo == nil {
        return []CachedMessage{}, nil
    }
    msgs, err := l.repo.RecentMessages(ctx, connectionID, l.cfg.HistoryLimit)
    if err != nil {
        return nil, err
    }
    if len(msgs) == 0 {
        return []CachedMessage{}, nil
    }

    entries := make([]interface{}, 0, len(msgs))
    for i := range msgs {
        b, err := json.Marshal(&msgs[i])
        if err != nil {
            return nil, err
        }
        entries = append(entries, b)
    }

    key := store.ChatKey(connectionID)
    _, err = l.store.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
        pipe.RPush(ctx, key, entries...)
        pipe.LTrim(ctx, key, int64(-l.cfg.HistoryLimit), -1)
        pipe.Expire(ctx, key, l.cfg.ChatTTL)
        return nil
    })
    if err != nil {
        return nil, store.Wrap(err)
    }
    return msgs, nil
}

// SetTyping raises or clears the typing flag of userID in a conversation
func (l *Ledger) SetTyping(ctx context.Context, connectionID, userID string, typing bool) error {
    key := store.TypingKey(connectionID, userID)
    if typing {
        return store.Wrap(l.store.Redis().Set(ctx, key, "1", l.cfg.TypingTTL).Err())
    }
    return store.Wrap(l.store.Redis().Del(ctx, key).Err())
}
