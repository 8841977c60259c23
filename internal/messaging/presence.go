// internal/messaging/presence.go
// Presence: which users have a live socket somewhere in the cluster.

package messaging

import (
    "context"
    "time"

    "github.com/go-redis/redis/v8"

    "github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

// Resolves the socket owner, drops the binding and clears the online flag
// when the last socket goes. Returns {userId, remaining}; remaining is -1
// for an unknown socket.
var unregisterSocketScript = redis.NewScript(`
local userId = redis.call('GET', KEYS[1])
if not userId then
  return {'', -1}
end
local socketsKey = ARGV[1] .. userId
redis.call('SREM', socketsKey, ARGV[2])
redis.call('DEL', KEYS[1])
local remaining = redis.call('SCARD', socketsKey)
if remaining == 0 then
  redis.call('DEL', ARGV[3] .. userId)
end
return {userId, remaining}
`)

// Presence tracks socket bindings and the online heartbeat
type Presence struct {
    store     *store.Store
    ttl       time.Duration
    socketTTL time.Duration
}

func NewPresence(st *store.Store, ttl, socketTTL time.Duration) *Presence {
    return &Presence{store: st, ttl: ttl, socketTTL: socketTTL}
}

// RegisterSocket binds socketID to userID and marks the user online
func (p *Presence) RegisterSocket(ctx context.Context, userID, socketID string) error {
    _, err := p.store.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
        pipe.SAdd(ctx, store.SocketsKey(userID), socketID)
        pipe.Expire(ctx, store.SocketsKey(userID), p.socketTTL)
        pipe.Set(ctx, store.SocketKey(socketID), userID, p.socketTTL)
        pipe.Set(ctx, store.PresenceKey(userID), "1", p.ttl)
        return nil
    })
    return store.Wrap(err)
}

// Heartbeat refreshes the online flag
func (p *Presence) Heartbeat(ctx context.Context, userID string) error {
    _, err := p.store.Redis().Pipelined(ctx, func(pipe redis.Pipeliner) error {
        pipe.Set(ctx, store.PresenceKey(userID), "1", p.ttl)
        pipe.Expire(ctx, store.SocketsKey(userID), p.socketTTL)
        return nil
    })
    return store.Wrap(err)
}

// UnregisterSocket removes the binding and returns its owner with the number
// of sockets the owner still holds. An unknown socket yields ("", -1).
func (p *Presence) UnregisterSocket(ctx context.Context, socketID string) (string, int64, error) {
    res, err := unregisterSocketScript.Run(ctx, p.store.Redis(),
        []string{store.SocketKey(socketID)},
        store.SocketsKey(""), socketID, store.PresenceKey(""),
    ).Slice()
    if err != nil {
        return "", 0, store.Wrap(err)
    }

    userID, _ := res[0].(string)
    remaining, _ := res[1].(int64)
    return userID, remaining, nil
}

// IsOnline reports whether the user's heartbeat is current
func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
    n, err := p.store.Redis().Exists(ctx, store.PresenceKey(userID)).Result()
    if err != nil {
        return false, store.Wrap(err)
    }
    return n == 1, nil
}

// SocketCount returns how many sockets the user holds across instances
func (p *Presence) SocketCount(ctx context.Context, userID string) (int64, error) {
    n, err := p.store.Redis().SCard(ctx, store.SocketsKey(userID)).Result()
    if err != nil {
        return 0, store.Wrap(err)
    }
    return n, nil
}
