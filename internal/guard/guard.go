// internal/guard/guard.go
// Rate limit and idempotency primitives backed by the shared store.

package guard

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

// INCR and arm the window on the first hit so the counter and its expiry
// can never be split by a crash.
var rateLimitScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// Guard protects operations from duplicate and abusive invocation
type Guard struct {
	store  *store.Store
	logger *zap.Logger
}

// New creates a guard over the shared store
func New(st *store.Store, logger *zap.Logger) *Guard {
	return &Guard{store: st, logger: logger.Named("guard")}
}

// CheckRateLimit counts a hit against key in a fixed window that starts with
// the first hit. exceeded is true once the count passes limit.
func (g *Guard) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (exceeded bool, count int64, err error) {
	count, err = rateLimitScript.Run(ctx, g.store.Redis(), []string{store.RateLimitKey(key)}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, store.Wrap(err)
	}
	return count > limit, count, nil
}

// CheckIdempotency reports whether this is the first observation of key
// within ttl. Every later call inside the window gets false.
func (g *Guard) CheckIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	first, err := g.store.Redis().SetNX(ctx, store.IdempotencyKey(key), "1", ttl).Result()
	if err != nil {
		return false, store.Wrap(err)
	}
	return first, nil
}

// Release forgets an idempotency key so a failed operation can be retried
func (g *Guard) Release(ctx context.Context, key string) error {
	return store.Wrap(g.store.Redis().Del(ctx, store.IdempotencyKey(key)).Err())
}
