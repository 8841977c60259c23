// internal/matching/queue.go
// Match queue: who is waiting, and the atomic transitions between IDLE,
// QUEUED and MATCHED. Every transition that reads before it writes runs as
// one script on the store.

package matching

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

var (
	ErrProfileIncomplete = errors.New("profile incomplete: location and interests are required")
	ErrAlreadyMatched    = errors.New("user is already matched")
)

// KEYS: profile, queue   ARGV: user, status field
var joinScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[2]) == 'MATCHED' then
  return 0
end
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], ARGV[2], 'QUEUED')
redis.call('PERSIST', KEYS[1])
return 1
`)

// KEYS: profile, queue   ARGV: user, status field, profile ttl ms
var leaveScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[2]) == 'MATCHED' then
  return 0
end
redis.call('LREM', KEYS[2], 0, ARGV[1])
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], ARGV[2], 'IDLE')
  if tonumber(ARGV[3]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[3]) end
end
return 1
`)

// KEYS: profile, queue   ARGV: user, status field
var requeueIfQueuedScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[2]) ~= 'QUEUED' then
  return 0
end
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[1])
redis.call('PERSIST', KEYS[1])
return 1
`)

// KEYS: profileA, profileB, presenceA, presenceB, queue
// ARGV: a, b, status field, profile ttl ms
// 1 committed, 0 a side was not QUEUED, -1 a side was offline
var commitScript = redis.NewScript(`
local sa = redis.call('HGET', KEYS[1], ARGV[3])
local sb = redis.call('HGET', KEYS[2], ARGV[3])
local onlineA = redis.call('EXISTS', KEYS[3]) == 1
local onlineB = redis.call('EXISTS', KEYS[4]) == 1
if not (onlineA and onlineB) then
  if not onlineA then
    redis.call('LREM', KEYS[5], 0, ARGV[1])
    if sa == 'QUEUED' then
      redis.call('HSET', KEYS[1], ARGV[3], 'IDLE')
      if tonumber(ARGV[4]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[4]) end
    end
  end
  if not onlineB then
    redis.call('LREM', KEYS[5], 0, ARGV[2])
    if sb == 'QUEUED' then
      redis.call('HSET', KEYS[2], ARGV[3], 'IDLE')
      if tonumber(ARGV[4]) > 0 then redis.call('PEXPIRE', KEYS[2], ARGV[4]) end
    end
  end
  return -1
end
if sa ~= 'QUEUED' or sb ~= 'QUEUED' then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[3], 'MATCHED')
redis.call('HSET', KEYS[2], ARGV[3], 'MATCHED')
redis.call('PERSIST', KEYS[1])
redis.call('PERSIST', KEYS[2])
redis.call('LREM', KEYS[5], 0, ARGV[1])
redis.call('LREM', KEYS[5], 0, ARGV[2])
return 1
`)

type QueueConfig struct {
	// ScanLimit caps how many users the radius pre-filter returns
	ScanLimit  int
	PopTimeout time.Duration
}

// Queue is the shared match queue
type Queue struct {
	store    *store.Store
	profiles *profile.Cache
	cfg      QueueConfig
	logger   *zap.Logger
}

func NewQueue(st *store.Store, profiles *profile.Cache, cfg QueueConfig, logger *zap.Logger) *Queue {
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 200
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	return &Queue{store: st, profiles: profiles, cfg: cfg, logger: logger.Named("queue")}
}

// Join puts the user in the queue. Joining again only moves them to the head.
func (q *Queue) Join(ctx context.Context, userID string) error {
	p, err := q.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrProfileNotFound) {
		return ErrProfileIncomplete
	}
	if err != nil {
		return err
	}
	if !p.Complete() {
		return ErrProfileIncomplete
	}

	ok, err := joinScript.Run(ctx, q.store.Redis(),
		[]string{store.ProfileKey(userID), store.QueueKey},
		userID, profile.FieldStatus,
	).Int64()
	if err != nil {
		return store.Wrap(err)
	}
	if ok == 0 {
		return ErrAlreadyMatched
	}

	RecordJoin()
	q.logger.Debug("user joined queue", zap.String("user_id", userID))
	return nil
}

// Leave removes the user from the queue and sets target unconditionally.
// Leaving for anything but MATCHED also forgets the connection id.
func (q *Queue) Leave(ctx context.Context, userID string, target profile.QueueStatus) error {
	if target == "" {
		target = profile.StatusIdle
	}

	key := store.ProfileKey(userID)
	_, err := q.store.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, store.QueueKey, 0, userID)
		pipe.HSet(ctx, key, profile.FieldStatus, string(target))
		if target != profile.StatusMatched {
			pipe.HDel(ctx, key, profile.FieldConnectionID)
		}
		q.profiles.Retain(ctx, pipe, userID)
		return nil
	})
	return store.Wrap(err)
}

// LeaveQueue is the user-facing leave. A matched user must skip instead.
func (q *Queue) LeaveQueue(ctx context.Context, userID string) error {
	ok, err := leaveScript.Run(ctx, q.store.Redis(),
		[]string{store.ProfileKey(userID), store.QueueKey},
		userID, profile.FieldStatus, q.profiles.TTL().Milliseconds(),
	).Int64()
	if err != nil {
		return store.Wrap(err)
	}
	if ok == 0 {
		return ErrAlreadyMatched
	}
	return nil
}

// PopNext blocks until a user is waiting at the tail of the queue
func (q *Queue) PopNext(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, err := q.store.Redis().BRPop(ctx, q.cfg.PopTimeout, store.QueueKey).Result()
		if store.IsNil(err) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", store.Wrap(err)
		}
		// [key, member]
		return res[1], nil
	}
}

// FindCandidates returns up to k queued users within radiusKm, most similar first
func (q *Queue) FindCandidates(ctx context.Context, userID string, radiusKm float64, k int) ([]Candidate, error) {
	start := time.Now()
	defer func() { searchDuration.Observe(time.Since(start).Seconds()) }()

	self, err := q.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrProfileNotFound) {
		return nil, ErrProfileIncomplete
	}
	if err != nil {
		return nil, err
	}
	if !self.Complete() {
		return nil, ErrProfileIncomplete
	}

	nearby, err := q.store.Redis().GeoRadius(ctx, store.GeoKey, self.Longitude, self.Latitude, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
		Count:    q.cfg.ScanLimit,
	}).Result()
	if err != nil {
		return nil, store.Wrap(err)
	}

	ids := make([]string, 0, len(nearby))
	dist := make(map[string]float64, len(nearby))
	for _, loc := range nearby {
		if loc.Name == userID {
			continue
		}
		ids = append(ids, loc.Name)
		dist[loc.Name] = loc.Dist
	}

	profiles, err := q.profiles.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(profiles))
	for _, id := range ids {
		p, ok := profiles[id]
		if !ok || p.Status != profile.StatusQueued || !p.Complete() {
			continue
		}
		candidates = append(candidates, Candidate{
			UserID:      id,
			Score:       profile.CosineDistance(self.Vector, p.Vector),
			DistanceKm:  dist[id],
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score < candidates[j].Score
		}
		return candidates[i].DistanceKm < candidates[j].DistanceKm
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	for _, c := range candidates {
		candidateScores.Observe(c.Score)
	}
	return candidates, nil
}

// CommitMatch moves a and b from QUEUED to MATCHED together. It returns
// false when either side was no longer available; a side found offline is
// dropped from the queue on the way.
func (q *Queue) CommitMatch(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return false, nil
	}

	res, err := commitScript.Run(ctx, q.store.Redis(),
		[]string{
			store.ProfileKey(a), store.ProfileKey(b),
			store.PresenceKey(a), store.PresenceKey(b),
			store.QueueKey,
		},
		a, b, profile.FieldStatus, q.profiles.TTL().Milliseconds(),
	).Int64()
	if err != nil {
		return false, store.Wrap(err)
	}

	switch res {
	case 1:
		return true, nil
	case -1:
		RecordConflict("offline")
	default:
		RecordConflict("race")
	}
	return false, nil
}

// Rollback returns both users to the queue tail so they are popped next
func (q *Queue) Rollback(ctx context.Context, a, b string) error {
	_, err := q.store.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range []string{a, b} {
			pipe.HSet(ctx, store.ProfileKey(id), profile.FieldStatus, string(profile.StatusQueued))
			pipe.HDel(ctx, store.ProfileKey(id), profile.FieldConnectionID)
			pipe.Persist(ctx, store.ProfileKey(id))
			pipe.LRem(ctx, store.QueueKey, 0, id)
			pipe.RPush(ctx, store.QueueKey, id)
		}
		return nil
	})
	if err != nil {
		return store.Wrap(err)
	}
	RecordRollback()
	return nil
}

// Requeue puts the user back in the queue whatever their status
func (q *Queue) Requeue(ctx context.Context, userID string) error {
	key := store.ProfileKey(userID)
	_, err := q.store.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, store.QueueKey, 0, userID)
		pipe.LPush(ctx, store.QueueKey, userID)
		pipe.HSet(ctx, key, profile.FieldStatus, string(profile.StatusQueued))
		pipe.HDel(ctx, key, profile.FieldConnectionID)
		pipe.Persist(ctx, key)
		return nil
	})
	return store.Wrap(err)
}

// RequeueIfQueued re-enters a popped user who is still QUEUED
func (q *Queue) RequeueIfQueued(ctx context.Context, userID string) (bool, error) {
	ok, err := requeueIfQueuedScript.Run(ctx, q.store.Redis(),
		[]string{store.ProfileKey(userID), store.QueueKey},
		userID, profile.FieldStatus,
	).Int64()
	if err != nil {
		return false, store.Wrap(err)
	}
	return ok == 1, nil
}

// State returns the user's queue status, connection and the queue length
func (q *Queue) State(ctx context.Context, userID string) (*QueueState, error) {
	pipe := q.store.Redis().Pipeline()
	fields := pipe.HMGet(ctx, store.ProfileKey(userID), profile.FieldStatus, profile.FieldConnectionID)
	length := pipe.LLen(ctx, store.QueueKey)
	if _, err := pipe.Exec(ctx); err != nil && !store.IsNil(err) {
		return nil, store.Wrap(err)
	}

	state := &QueueState{Status: profile.StatusIdle, QueueLength: length.Val()}
	vals := fields.Val()
	if s, ok := vals[0].(string); ok && s != "" {
		state.Status = profile.QueueStatus(s)
	}
	if c, ok := vals[1].(string); ok && state.Status == profile.StatusMatched {
		state.ConnectionID = c
	}
	return state, nil
}
