// internal/connection/coordinator.go
// Connection lifecycle: a committed pair becomes a timed chat session that
// ends by skip, expiry or mutual conversion. Every transition that both
// participants can race on is one script against the session hash.

package connection

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/matching"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

// Publisher routes an event to whichever instance holds the user's sockets
type Publisher interface {
	Publish(ctx context.Context, receiverID, eventType string, data interface{}) error
}

// Notifier bumps a per-category notification counter
type Notifier interface {
	Increment(ctx context.Context, userID, category string) (int64, error)
}

type Config struct {
	ChatDuration         time.Duration
	ExtendedChatDuration time.Duration
	VoteTTL              time.Duration
	SessionTTL           time.Duration
	TombstoneTTL         time.Duration
	ArchiveHorizon       time.Duration
}

type Coordinator struct {
	store     *store.Store
	repo      Repository
	queue     *matching.Queue
	profiles  *profile.Cache
	publisher Publisher
	notifier  Notifier
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewCoordinator(
	st *store.Store,
	repo Repository,
	queue *matching.Queue,
	profiles *profile.Cache,
	publisher Publisher,
	notifier Notifier,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = 10 * time.Minute
	}
	if cfg.SessionTTL < cfg.ExtendedChatDuration {
		cfg.SessionTTL = cfg.ExtendedChatDuration + cfg.TombstoneTTL
	}
	return &Coordinator{
		store:     st,
		repo:      repo,
		queue:     queue,
		profiles:  profiles,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.Named("connection"),
		now:       time.Now,
	}
}

// OnMatch creates the connection for a freshly committed pair. An error
// leaves no live session behind so the caller can roll the pair back.
func (c *Coordinator) OnMatch(ctx context.Context, a, b string) error {
	now := c.now()
	expiresAt := now.Add(c.cfg.ChatDuration)

	id, err := c.repo.CreateConnection(ctx, a, b, expiresAt)
	if err != nil {
		return err
	}

	key := store.SessionKey(id)
	expiresMs := expiresAt.UnixMilli()
	_, err = c.store.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldUser1, a,
			fieldUser2, b,
			fieldExpiresAt, expiresMs,
			fieldExtended, "0",
			fieldState, string(StateActive),
		)
		pipe.Expire(ctx, key, c.cfg.SessionTTL)
		pipe.ZAdd(ctx, store.ExpiryKey, &redis.Z{Score: float64(expiresMs), Member: id})
		pipe.HSet(ctx, store.ProfileKey(a), profile.FieldConnectionID, id)
		pipe.HSet(ctx, store.ProfileKey(b), profile.FieldConnectionID, id)
		return nil
	})
	if err != nil {
		err = store.Wrap(err)
		if aerr := c.repo.Archive(ctx, id, now); aerr != nil {
			err = errors.Join(err, aerr)
		}
		return err
	}

	profiles, err := c.profiles.GetMany(ctx, []string{a, b})
	if err != nil {
		c.logger.Warn("partner cards unavailable", zap.String("connection_id", id), zap.Error(err))
	}
	c.publish(ctx, a, EventMatchFound, matchFound(id, b, profiles[b], expiresMs))
	c.publish(ctx, b, EventMatchFound, matchFound(id, a, profiles[a], expiresMs))

	RecordTransition("matched")
	c.logger.Info("connection created",
		zap.String("connection_id", id),
		zap.String("user1_id", a),
		zap.String("user2_id", b),
	)
	return nil
}

func matchFound(id, partnerID string, p *profile.MatchProfile, expiresMs int64) MatchFound {
	ev := MatchFound{ConnectionID: id, PartnerID: partnerID, ExpiresAt: expiresMs}
	if p != nil {
		ev.PartnerName = p.DisplayName
		ev.PartnerAvatar = p.AvatarURL
	}
	return ev
}

// Get returns the live session. A session found past its expiry is ended on
// the spot.
func (c *Coordinator) Get(ctx context.Context, id string) (*Session, error) {
	vals, err := c.store.Redis().HGetAll(ctx, store.SessionKey(id)).Result()
	if err != nil {
		return nil, store.Wrap(err)
	}

	sess, ok := decodeSession(id, vals)
	if !ok || sess.State != StateActive {
		return nil, ErrSessionNotFound
	}
	if !sess.ExpiresAt.After(c.now()) {
		if _, err := c.Expire(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func decodeSession(id string, h map[string]string) (*Session, bool) {
	if h[fieldUser1] == "" || h[fieldUser2] == "" {
		return nil, false
	}
	ms, _ := strconv.ParseInt(h[fieldExpiresAt], 10, 64)
	return &Session{
		ID:        id,
		User1ID:   h[fieldUser1],
		User2ID:   h[fieldUser2],
		ExpiresAt: time.UnixMilli(ms),
		Extended:  h[fieldExtended] == "1",
		State:     SessionState(h[fieldState]),
	}, true
}

// RecordVote adds the user's vote for action. The call that completes the
// pair resolves it; every other call sees pending or redundant.
func (c *Coordinator) RecordVote(ctx context.Context, id, userID string, action Action) (*VoteResult, error) {
	if !action.Valid() {
		return nil, ErrInvalidAction
	}

	now := c.now()
	extendedUntil := now.Add(c.cfg.ExtendedChatDuration)
	reply, err := voteScript.Run(ctx, c.store.Redis(),
		[]string{
			store.SessionKey(id),
			store.VotesKey(id, string(action)),
			store.VotesKey(id, string(ActionExtend)),
			store.VotesKey(id, string(ActionConvert)),
			store.ExpiryKey,
		},
		userID,
		string(action),
		now.UnixMilli(),
		c.cfg.VoteTTL.Milliseconds(),
		extendedUntil.UnixMilli(),
		id,
		(c.cfg.ExtendedChatDuration + c.cfg.TombstoneTTL).Milliseconds(),
		c.cfg.TombstoneTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, store.Wrap(err)
	}

	code := replyInt(reply, 0)
	switch code {
	case voteNotFound:
		return nil, ErrSessionNotFound
	case voteNotParticipant:
		return nil, ErrNotParticipant
	case voteExpired:
		if _, err := c.Expire(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}

	partner := replyString(reply, 3)
	result := &VoteResult{ConnectionID: id, Action: action, Count: replyInt(reply, 1)}
	if ms := replyInt(reply, 4); ms > 0 {
		t := time.UnixMilli(ms)
		result.ExpiresAt = &t
	}

	switch code {
	case votePending:
		result.Outcome = VotePending
		if replyInt(reply, 2) == 1 {
			c.publish(ctx, partner, EventSystemEvent, SystemEvent{
				Event:        requestedEvent(action),
				ConnectionID: id,
				SenderID:     userID,
			})
		}
	case voteResolved:
		result.Outcome = VoteResolved
		if action == ActionExtend {
			c.afterExtend(ctx, id, userID, partner, *result.ExpiresAt)
		} else {
			c.afterConvert(ctx, id, userID, partner)
		}
	default:
		result.Outcome = VoteRedundant
	}

	RecordVoteOutcome(action, result.Outcome)
	c.logger.Debug("vote recorded",
		zap.String("connection_id", id),
		zap.String("user_id", userID),
		zap.String("action", string(action)),
		zap.String("outcome", string(result.Outcome)),
	)
	return result, nil
}

func requestedEvent(action Action) string {
	if action == ActionExtend {
		return SystemExtendRequested
	}
	return SystemConvertRequested
}

// Extend moves the expiry of an ACTIVE session to newExpiry
func (c *Coordinator) Extend(ctx context.Context, id string, newExpiry time.Time) error {
	ttl := newExpiry.Sub(c.now()) + c.cfg.TombstoneTTL
	reply, err := extendScript.Run(ctx, c.store.Redis(),
		[]string{store.SessionKey(id), store.ExpiryKey, store.VotesKey(id, string(ActionExtend))},
		newExpiry.UnixMilli(), id, ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return store.Wrap(err)
	}
	if replyInt(reply, 0) != 1 {
		return ErrSessionNotFound
	}

	c.afterExtend(ctx, id, replyString(reply, 1), replyString(reply, 2), newExpiry)
	return nil
}

func (c *Coordinator) afterExtend(ctx context.Context, id, a, b string, expiresAt time.Time) {
	if err := c.repo.MarkExtended(ctx, id, expiresAt); err != nil {
		c.logger.Error("failed to persist extension", zap.String("connection_id", id), zap.Error(err))
	}

	ev := SystemEvent{Event: SystemExtendAccepted, ConnectionID: id, ExpiresAt: expiresAt.UnixMilli()}
	c.publish(ctx, a, EventSystemEvent, ev)
	c.publish(ctx, b, EventSystemEvent, ev)

	RecordTransition("extended")
}

// Convert makes the pair permanent friends and frees both users
func (c *Coordinator) Convert(ctx context.Context, id string) error {
	code, a, b, err := c.end(ctx, id, StateConverted, 0, "")
	if err != nil {
		return err
	}
	if code != endDone {
		return ErrSessionNotFound
	}

	c.afterConvert(ctx, id, a, b)
	return nil
}

func (c *Coordinator) afterConvert(ctx context.Context, id, a, b string) {
	if err := c.repo.MarkFriends(ctx, id); err != nil {
		c.logger.Error("failed to persist friendship", zap.String("connection_id", id), zap.Error(err))
	}

	for _, userID := range []string{a, b} {
		c.release(ctx, id, userID)
		if _, err := c.notifier.Increment(ctx, userID, NotificationNewFriend); err != nil {
			c.logger.Error("failed to notify new friend", zap.String("user_id", userID), zap.Error(err))
		}
		c.publish(ctx, userID, EventSystemEvent, SystemEvent{Event: SystemConvertAccepted, ConnectionID: id})
	}

	RecordTransition("converted")
	c.logger.Info("connection converted", zap.String("connection_id", id))
}

// Skip ends the session on behalf of userID. Pending votes are discarded.
// The partner goes back to the queue.
func (c *Coordinator) Skip(ctx context.Context, id, userID string) error {
	code, a, b, err := c.end(ctx, id, StateArchived, 0, userID)
	if err != nil {
		return err
	}
	switch code {
	case endNotParticipant:
		return ErrNotParticipant
	case endDone:
	default:
		return ErrSessionNotFound
	}

	partner := a
	if partner == userID {
		partner = b
	}

	c.archive(ctx, id)
	if err := c.queue.Requeue(ctx, partner); err != nil {
		c.logger.Error("failed to requeue partner", zap.String("user_id", partner), zap.Error(err))
	}
	c.release(ctx, id, userID)

	c.publish(ctx, partner, EventSystemEvent, SystemEvent{
		Event:        SystemChatEnded,
		ConnectionID: id,
		Reason:       ReasonSkipped,
		Message:      partnerLeftMessage,
	})
	c.publish(ctx, userID, EventSystemEvent, SystemEvent{
		Event:        SystemChatEnded,
		ConnectionID: id,
		Reason:       ReasonSkipped,
	})

	RecordTransition("skipped")
	c.logger.Info("connection skipped", zap.String("connection_id", id), zap.String("user_id", userID))
	return nil
}

// Expire ends the session if its expiry has passed. It reports whether this
// call ended it.
func (c *Coordinator) Expire(ctx context.Context, id string) (bool, error) {
	code, a, b, err := c.end(ctx, id, StateArchived, c.now().UnixMilli(), "")
	if err != nil {
		return false, err
	}

	switch code {
	case endNotLive:
		if err := c.store.Redis().ZRem(ctx, store.ExpiryKey, id).Err(); err != nil {
			return false, store.Wrap(err)
		}
		if a == "" {
			// session hash lapsed without ever being ended
			c.archive(ctx, id)
			c.releaseLapsed(ctx, id)
		}
		return false, nil
	case endNotDue:
		return false, nil
	}

	c.archive(ctx, id)
	for _, userID := range []string{a, b} {
		c.release(ctx, id, userID)
		c.publish(ctx, userID, EventSystemEvent, SystemEvent{
			Event:        SystemChatEnded,
			ConnectionID: id,
			Reason:       ReasonExpired,
		})
	}

	RecordTransition("expired")
	c.logger.Info("connection expired", zap.String("connection_id", id))
	return true, nil
}

// AuthorizeChat checks that sender and receiver are the two users of the
// connection. An empty receiver only checks the sender. Ended connections
// are looked up in the durable store so friends keep chatting.
func (c *Coordinator) AuthorizeChat(ctx context.Context, connectionID, senderID, receiverID string) error {
	if senderID == "" || senderID == receiverID {
		return ErrNotParticipant
	}

	vals, err := c.store.Redis().HGetAll(ctx, store.SessionKey(connectionID)).Result()
	if err != nil {
		return store.Wrap(err)
	}

	if sess, ok := decodeSession(connectionID, vals); ok {
		switch sess.State {
		case StateActive:
			if sess.ExpiresAt.After(c.now()) {
				return checkPair(sess.User1ID, sess.User2ID, senderID, receiverID)
			}
			if _, err := c.Expire(ctx, connectionID); err != nil {
				return err
			}
			return ErrSessionNotFound
		case StateArchived:
			return ErrSessionNotFound
		}
	}

	rec, err := c.repo.FindParticipants(ctx, connectionID)
	if err != nil {
		return err
	}
	if rec.Status != RecordActive && rec.Status != RecordFriend {
		return ErrSessionNotFound
	}
	return checkPair(rec.User1ID, rec.User2ID, senderID, receiverID)
}

// AuthorizeHistory checks that userID may read the conversation. Unlike
// chatting, an archived connection stays readable until its final delete time.
func (c *Coordinator) AuthorizeHistory(ctx context.Context, connectionID, userID string) error {
	if userID == "" {
		return ErrNotParticipant
	}

	vals, err := c.store.Redis().HGetAll(ctx, store.SessionKey(connectionID)).Result()
	if err != nil {
		return store.Wrap(err)
	}

	// a tombstone is always inside the archive horizon
	if sess, ok := decodeSession(connectionID, vals); ok {
		if sess.State == StateActive && !sess.ExpiresAt.After(c.now()) {
			if _, err := c.Expire(ctx, connectionID); err != nil {
				return err
			}
		}
		return checkPair(sess.User1ID, sess.User2ID, userID, "")
	}

	rec, err := c.repo.FindParticipants(ctx, connectionID)
	if err != nil {
		return err
	}
	if rec.Status == RecordArchived && (rec.FinalDeleteAt == nil || !rec.FinalDeleteAt.After(c.now())) {
		return ErrSessionNotFound
	}
	return checkPair(rec.User1ID, rec.User2ID, userID, "")
}

func checkPair(user1, user2, sender, receiver string) error {
	if sender != user1 && sender != user2 {
		return ErrNotParticipant
	}
	if receiver != "" && receiver != user1 && receiver != user2 {
		return ErrNotParticipant
	}
	return nil
}

func (c *Coordinator) end(ctx context.Context, id string, state SessionState, dueBeforeMs int64, participant string) (int64, string, string, error) {
	reply, err := endScript.Run(ctx, c.store.Redis(),
		[]string{
			store.SessionKey(id),
			store.VotesKey(id, string(ActionExtend)),
			store.VotesKey(id, string(ActionConvert)),
			store.ExpiryKey,
		},
		string(state), c.cfg.TombstoneTTL.Milliseconds(), id, dueBeforeMs, participant,
	).Slice()
	if err != nil {
		return 0, "", "", store.Wrap(err)
	}
	return replyInt(reply, 0), replyString(reply, 1), replyString(reply, 2), nil
}

func (c *Coordinator) archive(ctx context.Context, id string) {
	if err := c.repo.Archive(ctx, id, c.now().Add(c.cfg.ArchiveHorizon)); err != nil {
		c.logger.Error("failed to archive connection", zap.String("connection_id", id), zap.Error(err))
	}
}

// release returns a matched user to IDLE
func (c *Coordinator) release(ctx context.Context, id, userID string) {
	if err := c.queue.Leave(ctx, userID, profile.StatusIdle); err != nil {
		c.logger.Error("failed to release user",
			zap.String("connection_id", id),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// releaseLapsed frees the participants of a session whose hash is gone but
// who still point at it
func (c *Coordinator) releaseLapsed(ctx context.Context, id string) {
	rec, err := c.repo.FindParticipants(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			c.logger.Error("failed to load lapsed connection", zap.String("connection_id", id), zap.Error(err))
		}
		return
	}

	for _, userID := range []string{rec.User1ID, rec.User2ID} {
		state, err := c.queue.State(ctx, userID)
		if err != nil {
			c.logger.Error("failed to read queue state",
				zap.String("connection_id", id),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			continue
		}
		if state.Status != profile.StatusMatched || state.ConnectionID != id {
			continue
		}
		c.release(ctx, id, userID)
		c.publish(ctx, userID, EventSystemEvent, SystemEvent{
			Event:        SystemChatEnded,
			ConnectionID: id,
			Reason:       ReasonExpired,
		})
	}
}

func (c *Coordinator) publish(ctx context.Context, userID, eventType string, data interface{}) {
	if err := c.publisher.Publish(ctx, userID, eventType, data); err != nil {
		c.logger.Warn("failed to publish event",
			zap.String("user_id", userID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
