package matching

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/store/storetest"
)

type testEnv struct {
	queue *Queue
	cache *profile.Cache
	store *store.Store
	mr    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, mr := storetest.New(t)
	logger := zaptest.NewLogger(t)
	cache := profile.NewCache(st, nil, nil, time.Hour, logger)
	q := NewQueue(st, cache, QueueConfig{ScanLimit: 50, PopTimeout: time.Second}, logger)
	return &testEnv{queue: q, cache: cache, store: st, mr: mr}
}

func (e *testEnv) putProfile(t *testing.T, id string, lat, lon float64, interests ...string) {
	t.Helper()
	require.NoError(t, e.cache.Put(context.Background(), &profile.Attributes{
		UserID:      id,
		DisplayName: "user " + id,
		Latitude:    &lat,
		Longitude:   &lon,
		Interests:   pq.StringArray(interests),
	}))
}

func (e *testEnv) online(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, e.store.Redis().Set(context.Background(), store.PresenceKey(id), "1", time.Minute).Err())
	}
}

func (e *testEnv) queued(t *testing.T) []string {
	t.Helper()
	ids, err := e.store.Redis().LRange(context.Background(), store.QueueKey, 0, -1).Result()
	require.NoError(t, err)
	return ids
}

func (e *testEnv) status(t *testing.T, id string) profile.QueueStatus {
	t.Helper()
	s, err := e.cache.Status(context.Background(), id)
	require.NoError(t, err)
	return s
}

// assertAgreement checks that QUEUED users and queue entries coincide
func (e *testEnv) assertAgreement(t *testing.T, ids ...string) {
	t.Helper()
	inQueue := map[string]int{}
	for _, id := range e.queued(t) {
		inQueue[id]++
	}
	for _, id := range ids {
		if e.status(t, id) == profile.StatusQueued {
			assert.Equal(t, 1, inQueue[id], "%s is QUEUED and must appear once", id)
		} else {
			assert.Zero(t, inQueue[id], "%s is not QUEUED and must not be in the queue", id)
		}
	}
}

func TestJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("complete profile is queued", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 12.9, 77.6, "hiking", "coding")

		require.NoError(t, e.queue.Join(ctx, "x"))
		assert.Equal(t, profile.StatusQueued, e.status(t, "x"))
		assert.Equal(t, []string{"x"}, e.queued(t))
	})

	t.Run("rejoin does not duplicate", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 12.9, 77.6, "hiking")
		e.putProfile(t, "y", 12.9, 77.6, "hiking")

		require.NoError(t, e.queue.Join(ctx, "x"))
		require.NoError(t, e.queue.Join(ctx, "y"))
		require.NoError(t, e.queue.Join(ctx, "x"))

		assert.Equal(t, []string{"x", "y"}, e.queued(t))
		e.assertAgreement(t, "x", "y")
	})

	t.Run("missing interests", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 12.9, 77.6, "not-a-known-interest")

		assert.ErrorIs(t, e.queue.Join(ctx, "x"), ErrProfileIncomplete)
		assert.Empty(t, e.queued(t))
	})

	t.Run("missing location", func(t *testing.T) {
		e := newTestEnv(t)
		require.NoError(t, e.cache.Put(ctx, &profile.Attributes{UserID: "x", Interests: pq.StringArray{"coding"}}))

		assert.ErrorIs(t, e.queue.Join(ctx, "x"), ErrProfileIncomplete)
	})

	t.Run("unknown user", func(t *testing.T) {
		e := newTestEnv(t)
		assert.ErrorIs(t, e.queue.Join(ctx, "ghost"), ErrProfileIncomplete)
	})

	t.Run("matched user is rejected", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 12.9, 77.6, "coding")
		require.NoError(t, e.queue.Leave(ctx, "x", profile.StatusMatched))

		assert.ErrorIs(t, e.queue.Join(ctx, "x"), ErrAlreadyMatched)
		assert.Equal(t, profile.StatusMatched, e.status(t, "x"))
		assert.Empty(t, e.queued(t))
	})
}

func TestLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("leave queue", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 1, 1, "coding")
		require.NoError(t, e.queue.Join(ctx, "x"))

		require.NoError(t, e.queue.LeaveQueue(ctx, "x"))
		assert.Equal(t, profile.StatusIdle, e.status(t, "x"))
		assert.Empty(t, e.queued(t))
	})

	t.Run("leave queue refuses matched user", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 1, 1, "coding")
		require.NoError(t, e.queue.Leave(ctx, "x", profile.StatusMatched))

		assert.ErrorIs(t, e.queue.LeaveQueue(ctx, "x"), ErrAlreadyMatched)
		assert.Equal(t, profile.StatusMatched, e.status(t, "x"))
	})

	t.Run("leave queue for unknown user is a no-op", func(t *testing.T) {
		e := newTestEnv(t)
		require.NoError(t, e.queue.LeaveQueue(ctx, "ghost"))
		exists, err := e.store.Redis().Exists(ctx, store.ProfileKey("ghost")).Result()
		require.NoError(t, err)
		assert.Zero(t, exists)
	})

	t.Run("leave clears connection id", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 1, 1, "coding")
		require.NoError(t, e.store.Redis().HSet(ctx, store.ProfileKey("x"), profile.FieldConnectionID, "c1").Err())

		require.NoError(t, e.queue.Leave(ctx, "x", ""))
		p, err := e.cache.Get(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, profile.StatusIdle, p.Status)
		assert.Empty(t, p.ConnectionID)
	})
}

func TestPopNext(t *testing.T) {
	ctx := context.Background()

	t.Run("pops in join order", func(t *testing.T) {
		e := newTestEnv(t)
		for _, id := range []string{"a", "b", "c"} {
			e.putProfile(t, id, 1, 1, "coding")
			require.NoError(t, e.queue.Join(ctx, id))
		}

		for _, want := range []string{"a", "b", "c"} {
			got, err := e.queue.PopNext(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("blocks until cancelled", func(t *testing.T) {
		e := newTestEnv(t)
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		_, err := e.queue.PopNext(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("wakes when a user joins", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "late", 1, 1, "coding")

		got := make(chan string, 1)
		go func() {
			id, err := e.queue.PopNext(ctx)
			if err == nil {
				got <- id
			}
		}()

		time.Sleep(150 * time.Millisecond)
		require.NoError(t, e.queue.Join(ctx, "late"))

		select {
		case id := <-got:
			assert.Equal(t, "late", id)
		case <-time.After(2 * time.Second):
			t.Fatal("PopNext did not return")
		}
	})
}

// Scenario A
func TestFindCandidatesNearbyOverlap(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.putProfile(t, "x", 12.9, 77.6, "hiking", "coding")
	e.putProfile(t, "y", 12.91, 77.61, "coding", "gaming")
	require.NoError(t, e.queue.Join(ctx, "x"))
	require.NoError(t, e.queue.Join(ctx, "y"))

	candidates, err := e.queue.FindCandidates(ctx, "x", 10, 5)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "y", c.UserID)
	assert.Less(t, c.Score, 1.0)
	assert.Greater(t, c.Score, 0.0)
	assert.Less(t, c.DistanceKm, 5.0)
	assert.Equal(t, "user y", c.DisplayName)
}

func TestFindCandidatesFiltering(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	e.putProfile(t, "me", 12.9, 77.6, "coding", "music")
	e.putProfile(t, "twin", 12.91, 77.6, "coding", "music")
	e.putProfile(t, "close-but-different", 12.901, 77.6, "yoga")
	e.putProfile(t, "partial", 12.95, 77.65, "music")
	e.putProfile(t, "far", 19.07, 72.87, "coding", "music")
	e.putProfile(t, "idle", 12.9, 77.6, "coding", "music")
	for _, id := range []string{"me", "twin", "close-but-different", "partial", "far"} {
		require.NoError(t, e.queue.Join(ctx, id))
	}

	candidates, err := e.queue.FindCandidates(ctx, "me", 50, 10)
	require.NoError(t, err)

	var ids []string
	for _, c := range candidates {
		ids = append(ids, c.UserID)
	}
	// ranked by similarity, never self, never idle, never beyond the radius
	assert.Equal(t, []string{"twin", "partial", "close-but-different"}, ids)
	assert.InDelta(t, 0.0, candidates[0].Score, 1e-6)
	assert.InDelta(t, 1.0, candidates[2].Score, 1e-6)

	limited, err := e.queue.FindCandidates(ctx, "me", 50, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "twin", limited[0].UserID)
}

func TestFindCandidatesTieBreaksOnDistance(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.putProfile(t, "me", 12.9, 77.6, "coding")
	e.putProfile(t, "further", 12.98, 77.6, "coding")
	e.putProfile(t, "nearer", 12.92, 77.6, "coding")
	for _, id := range []string{"me", "further", "nearer"} {
		require.NoError(t, e.queue.Join(ctx, id))
	}

	candidates, err := e.queue.FindCandidates(ctx, "me", 50, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "nearer", candidates[0].UserID)
	assert.Equal(t, "further", candidates[1].UserID)
}

// Scenario B
func TestCommitMatchOnce(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.putProfile(t, "x", 12.9, 77.6, "hiking", "coding")
	e.putProfile(t, "y", 12.91, 77.61, "coding", "gaming")
	e.online(t, "x", "y")
	require.NoError(t, e.queue.Join(ctx, "x"))
	require.NoError(t, e.queue.Join(ctx, "y"))

	ok, err := e.queue.CommitMatch(ctx, "x", "y")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, profile.StatusMatched, e.status(t, "x"))
	assert.Equal(t, profile.StatusMatched, e.status(t, "y"))
	assert.Empty(t, e.queued(t))

	ok, err = e.queue.CommitMatch(ctx, "x", "y")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, profile.StatusMatched, e.status(t, "x"))
}

func TestCommitMatchEdgeCases(t *testing.T) {
	ctx := context.Background()

	t.Run("self match", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 1, 1, "coding")
		e.online(t, "x")
		require.NoError(t, e.queue.Join(ctx, "x"))

		ok, err := e.queue.CommitMatch(ctx, "x", "x")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, profile.StatusQueued, e.status(t, "x"))
	})

	t.Run("one side idle", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 1, 1, "coding")
		e.putProfile(t, "y", 1, 1, "coding")
		e.online(t, "x", "y")
		require.NoError(t, e.queue.Join(ctx, "x"))

		ok, err := e.queue.CommitMatch(ctx, "x", "y")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, profile.StatusQueued, e.status(t, "x"))
		assert.Equal(t, []string{"x"}, e.queued(t))
	})

	t.Run("offline side is dropped", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 1, 1, "coding")
		e.putProfile(t, "y", 1, 1, "coding")
		e.online(t, "x")
		require.NoError(t, e.queue.Join(ctx, "x"))
		require.NoError(t, e.queue.Join(ctx, "y"))

		ok, err := e.queue.CommitMatch(ctx, "x", "y")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, profile.StatusQueued, e.status(t, "x"))
		assert.Equal(t, profile.StatusIdle, e.status(t, "y"))
		assert.Equal(t, []string{"x"}, e.queued(t))
	})

	t.Run("presence expiry counts as offline", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 1, 1, "coding")
		e.putProfile(t, "y", 1, 1, "coding")
		e.online(t, "x", "y")
		require.NoError(t, e.queue.Join(ctx, "x"))
		require.NoError(t, e.queue.Join(ctx, "y"))
		e.mr.FastForward(2 * time.Minute)

		ok, err := e.queue.CommitMatch(ctx, "x", "y")
		require.NoError(t, err)
		assert.False(t, ok)
		e.assertAgreement(t, "x", "y")
	})
}

func TestConcurrentCommitSingleWinner(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		e.putProfile(t, id, 1, 1, "coding")
		e.online(t, id)
		require.NoError(t, e.queue.Join(ctx, id))
	}

	// every worker races for "a" with a different partner
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		partner := ids[1+i%3]
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := e.queue.CommitMatch(ctx, "a", partner)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, profile.StatusMatched, e.status(t, "a"))

	matched := 0
	for _, id := range ids[1:] {
		if e.status(t, id) == profile.StatusMatched {
			matched++
		}
	}
	assert.Equal(t, 1, matched)
	e.assertAgreement(t, ids...)
}

func TestRollbackAndRequeue(t *testing.T) {
	ctx := context.Background()

	t.Run("rollback restores both at the tail", func(t *testing.T) {
		e := newTestEnv(t)
		for _, id := range []string{"x", "y", "z"} {
			e.putProfile(t, id, 1, 1, "coding")
			e.online(t, id)
		}
		require.NoError(t, e.queue.Join(ctx, "x"))
		require.NoError(t, e.queue.Join(ctx, "y"))
		ok, err := e.queue.CommitMatch(ctx, "x", "y")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, e.queue.Join(ctx, "z"))

		require.NoError(t, e.queue.Rollback(ctx, "x", "y"))
		assert.Equal(t, profile.StatusQueued, e.status(t, "x"))
		assert.Equal(t, profile.StatusQueued, e.status(t, "y"))
		e.assertAgreement(t, "x", "y", "z")

		first, err := e.queue.PopNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "y", first)
		second, err := e.queue.PopNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, "x", second)
	})

	t.Run("requeue forces QUEUED", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 1, 1, "coding")
		require.NoError(t, e.queue.Leave(ctx, "x", profile.StatusMatched))

		require.NoError(t, e.queue.Requeue(ctx, "x"))
		assert.Equal(t, profile.StatusQueued, e.status(t, "x"))
		assert.Equal(t, []string{"x"}, e.queued(t))
	})

	t.Run("requeue if queued", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 1, 1, "coding")
		e.putProfile(t, "y", 1, 1, "coding")
		require.NoError(t, e.queue.Join(ctx, "x"))
		popped, err := e.queue.PopNext(ctx)
		require.NoError(t, err)
		require.Equal(t, "x", popped)

		ok, err := e.queue.RequeueIfQueued(ctx, "x")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"x"}, e.queued(t))

		ok, err = e.queue.RequeueIfQueued(ctx, "y")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{"x"}, e.queued(t))
	})
}

func TestQueueState(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.putProfile(t, "x", 1, 1, "coding")

	state, err := e.queue.State(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, profile.StatusIdle, state.Status)

	require.NoError(t, e.queue.Join(ctx, "x"))
	state, err = e.queue.State(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, profile.StatusQueued, state.Status)
	assert.Equal(t, int64(1), state.QueueLength)
	assert.Empty(t, state.ConnectionID)

	require.NoError(t, e.store.Redis().HSet(ctx, store.ProfileKey("x"),
		profile.FieldStatus, string(profile.StatusMatched),
		profile.FieldConnectionID, "conn-1").Err())
	state, err = e.queue.State(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", state.ConnectionID)
}

// TestProfileTTLKeepsQueueState checks that the status held in the profile
// entry never lapses while the user is queued or matched
func TestProfileTTLKeepsQueueState(t *testing.T) {
	ctx := context.Background()

	t.Run("queued user outlives the profile ttl", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 12.9, 77.6, "coding")
		e.mr.FastForward(59 * time.Minute)

		require.NoError(t, e.queue.Join(ctx, "x"))
		e.mr.FastForward(2 * time.Minute)

		assert.Equal(t, profile.StatusQueued, e.status(t, "x"))
		e.assertAgreement(t, "x")
	})

	t.Run("matched users outlive the profile ttl", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 12.9, 77.6, "coding")
		e.putProfile(t, "y", 12.91, 77.61, "coding")
		e.online(t, "x", "y")
		require.NoError(t, e.queue.Join(ctx, "x"))
		require.NoError(t, e.queue.Join(ctx, "y"))
		ok, err := e.queue.CommitMatch(ctx, "x", "y")
		require.NoError(t, err)
		require.True(t, ok)

		e.mr.FastForward(61 * time.Minute)

		assert.Equal(t, profile.StatusMatched, e.status(t, "x"))
		assert.Equal(t, profile.StatusMatched, e.status(t, "y"))
		assert.ErrorIs(t, e.queue.Join(ctx, "x"), ErrAlreadyMatched)
	})

	t.Run("attribute update while queued keeps the entry", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 12.9, 77.6, "coding")
		require.NoError(t, e.queue.Join(ctx, "x"))

		e.putProfile(t, "x", 12.9, 77.6, "coding", "music")
		assert.Zero(t, e.mr.TTL(store.ProfileKey("x")))
	})

	t.Run("leaving re-arms the ttl", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 12.9, 77.6, "coding")
		require.NoError(t, e.queue.Join(ctx, "x"))
		require.Zero(t, e.mr.TTL(store.ProfileKey("x")))

		require.NoError(t, e.queue.LeaveQueue(ctx, "x"))
		assert.Equal(t, time.Hour, e.mr.TTL(store.ProfileKey("x")))

		e.mr.FastForward(61 * time.Minute)
		assert.False(t, e.mr.Exists(store.ProfileKey("x")))
	})

	t.Run("release after a session re-arms the ttl", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 12.9, 77.6, "coding")
		require.NoError(t, e.queue.Leave(ctx, "x", profile.StatusMatched))
		require.Zero(t, e.mr.TTL(store.ProfileKey("x")))

		require.NoError(t, e.queue.Leave(ctx, "x", profile.StatusIdle))
		assert.Equal(t, time.Hour, e.mr.TTL(store.ProfileKey("x")))
	})

	t.Run("offline side dropped by commit re-arms the ttl", func(t *testing.T) {
		e := newTestEnv(t)
		e.putProfile(t, "x", 12.9, 77.6, "coding")
		e.putProfile(t, "y", 12.91, 77.61, "coding")
		e.online(t, "y")
		require.NoError(t, e.queue.Join(ctx, "x"))
		require.NoError(t, e.queue.Join(ctx, "y"))

		ok, err := e.queue.CommitMatch(ctx, "x", "y")
		require.NoError(t, err)
		require.False(t, ok)

		assert.Equal(t, profile.StatusIdle, e.status(t, "x"))
		assert.Equal(t, time.Hour, e.mr.TTL(store.ProfileKey("x")))
		assert.Zero(t, e.mr.TTL(store.ProfileKey("y")))
	})
}
