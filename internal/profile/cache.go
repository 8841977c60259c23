// internal/profile/cache.go
// Profile Cache: denormalized per-user match attributes kept in the shared
// store so the matcher never touches the relational database.

package profile

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

// Hash fields of user:profile:{id}. The status and connection fields are
// written by the matcher and coordinator as well.
const (
	FieldStatus       = "queueStatus"
	FieldConnectionID = "connectionId"

	fieldLat         = "lat"
	fieldLon         = "lon"
	fieldEmbedding   = "embedding"
	fieldInterests   = "interests"
	fieldDisplayName = "displayName"
	fieldAvatarURL   = "avatarUrl"
	fieldUpdatedAt   = "updatedAt"
)

// GEO indexes reject latitudes beyond the web mercator limit
const maxGeoLatitude = 85.05112878

// KEYS: profile   ARGV: status field, ttl ms
// Entries of QUEUED or MATCHED users carry the queue state and never expire.
var retainScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], ARGV[1])
if s == 'QUEUED' or s == 'MATCHED' then
  return redis.call('PERSIST', KEYS[1])
end
if tonumber(ARGV[2]) > 0 then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// Cache reads and writes UserMatchProfile entries
type Cache struct {
	store  *store.Store
	repo   Repository
	vocab  *Vocabulary
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewCache creates a profile cache. repo may be nil, in which case misses
// are reported as ErrProfileNotFound instead of being rehydrated.
func NewCache(st *store.Store, repo Repository, vocab *Vocabulary, ttl time.Duration, logger *zap.Logger) *Cache {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Cache{
		store:  st,
		repo:   repo,
		vocab:  vocab,
		ttl:    ttl,
		logger: logger.Named("profile"),
		now:    time.Now,
	}
}

// TTL is how long an IDLE user's entry lives without being touched
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Retain arms the entry's TTL for its current status: none while the user is
// QUEUED or MATCHED, the cache TTL otherwise. rdb may be a pipeline, in which
// case the script runs inside it.
func (c *Cache) Retain(ctx context.Context, rdb redis.Scripter, userID string) *redis.Cmd {
	return retainScript.Eval(ctx, rdb, []string{store.ProfileKey(userID)}, FieldStatus, c.ttl.Milliseconds())
}

// Vocabulary returns the vocabulary vectors are built over
func (c *Cache) Vocabulary() *Vocabulary {
	return c.vocab
}

// Put writes the attributes into the cache and geo index. The queue status
// is initialised to IDLE but never overwritten.
func (c *Cache) Put(ctx context.Context, attrs *Attributes) error {
	if err := utils.ValidateStruct(attrs); err != nil {
		return err
	}

	interests := attrs.Interests
	if len(interests) > MaxRankedInterests {
		interests = interests[:MaxRankedInterests]
	}
	encodedInterests, err := json.Marshal([]string(interests))
	if err != nil {
		return err
	}

	key := store.ProfileKey(attrs.UserID)
	fields := map[string]interface{}{
		fieldDisplayName: attrs.DisplayName,
		fieldAvatarURL:   attrs.AvatarURL,
		fieldInterests:   string(encodedInterests),
		fieldEmbedding:   encodeVector(c.vocab.BuildVector(attrs.Interests)),
		fieldUpdatedAt:   c.now().UnixMilli(),
	}

	_, err = c.store.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if attrs.HasLocation() {
			fields[fieldLat] = strconv.FormatFloat(*attrs.Latitude, 'f', -1, 64)
			fields[fieldLon] = strconv.FormatFloat(*attrs.Longitude, 'f', -1, 64)
			pipe.GeoAdd(ctx, store.GeoKey, &redis.GeoLocation{
				Name:      attrs.UserID,
				Longitude: *attrs.Longitude,
				Latitude:  clampLatitude(*attrs.Latitude),
			})
		} else {
			pipe.HDel(ctx, key, fieldLat, fieldLon)
			pipe.ZRem(ctx, store.GeoKey, attrs.UserID)
		}
		pipe.HSet(ctx, key, fields)
		pipe.HSetNX(ctx, key, FieldStatus, string(StatusIdle))
		c.Retain(ctx, pipe, attrs.UserID)
		return nil
	})
	return store.Wrap(err)
}

// Get returns the cached profile, rehydrating it from the durable store when
// the entry has expired.
func (c *Cache) Get(ctx context.Context, userID string) (*MatchProfile, error) {
	key := store.ProfileKey(userID)

	h, err := c.store.Redis().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, store.Wrap(err)
	}
	if populated(h) {
		return decodeProfile(userID, h), nil
	}

	if c.repo == nil {
		return nil, ErrProfileNotFound
	}
	attrs, err := c.repo.GetMatchAttributes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := c.Put(ctx, attrs); err != nil {
		return nil, err
	}
	c.logger.Debug("rehydrated match profile", zap.String("user_id", userID))

	h, err = c.store.Redis().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, store.Wrap(err)
	}
	return decodeProfile(userID, h), nil
}

// GetMany reads several profiles in one round trip. Missing entries are
// left out; no rehydration happens here.
func (c *Cache) GetMany(ctx context.Context, userIDs []string) (map[string]*MatchProfile, error) {
	out := make(map[string]*MatchProfile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	pipe := c.store.Redis().Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, store.ProfileKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !store.IsNil(err) {
		return nil, store.Wrap(err)
	}

	for i, id := range userIDs {
		h := cmds[i].Val()
		if populated(h) {
			out[id] = decodeProfile(id, h)
		}
	}
	return out, nil
}

// Invalidate drops the cached attributes so the next Get rehydrates them.
// Queue status and connection id survive.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	_, err := c.store.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, store.ProfileKey(userID),
			fieldLat, fieldLon, fieldEmbedding, fieldInterests, fieldDisplayName, fieldAvatarURL, fieldUpdatedAt)
		pipe.ZRem(ctx, store.GeoKey, userID)
		return nil
	})
	return store.Wrap(err)
}

// Status returns the queue status, IDLE when none is recorded
func (c *Cache) Status(ctx context.Context, userID string) (QueueStatus, error) {
	s, err := c.store.Redis().HGet(ctx, store.ProfileKey(userID), FieldStatus).Result()
	if store.IsNil(err) {
		return StatusIdle, nil
	}
	if err != nil {
		return "", store.Wrap(err)
	}
	return QueueStatus(s), nil
}

func populated(h map[string]string) bool {
	_, ok := h[fieldUpdatedAt]
	return ok
}

func decodeProfile(userID string, h map[string]string) *MatchProfile {
	p := &MatchProfile{
		UserID:       userID,
		Status:       QueueStatus(h[FieldStatus]),
		DisplayName:  h[fieldDisplayName],
		AvatarURL:    h[fieldAvatarURL],
		ConnectionID: h[FieldConnectionID],
		Vector:       decodeVector([]byte(h[fieldEmbedding])),
	}
	if p.Status == "" {
		p.Status = StatusIdle
	}

	lat, latErr := strconv.ParseFloat(h[fieldLat], 64)
	lon, lonErr := strconv.ParseFloat(h[fieldLon], 64)
	if latErr == nil && lonErr == nil {
		p.Latitude, p.Longitude, p.HasLocation = lat, lon, true
	}

	if raw := h[fieldInterests]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &p.Interests)
	}
	if ms, err := strconv.ParseInt(h[fieldUpdatedAt], 10, 64); err == nil {
		p.UpdatedAt = time.UnixMilli(ms)
	}
	return p
}

// encodeVector packs float32 little-endian
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

func clampLatitude(lat float64) float64 {
	return math.Max(-maxGeoLatitude, math.Min(maxGeoLatitude, lat))
}
