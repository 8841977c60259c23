package messaging

import (
    "context"
    "encoding/json"
    "sync"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/go-redis/redis/v8"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap/zaptest"

    "github.com/imadgeboyega/kiekky-matchmaking/internal/store"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/store/storetest"
)

type fakeHistoryRepo struct {
    mu          sync.Mutex
    unread      map[string]int64
    recent      []CachedMessage
    unreadCalls int
    recentCalls int
}

func (r *fakeHistoryRepo) UnreadCounts(_ context.Context, _ string) (map[string]int64, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.unreadCalls++
    return r.unread, nil
}

func (r *fakeHistoryRepo) RecentMessages(_ context.Context, _ string, limit int) ([]CachedMessage, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.recentCalls++
    if len(r.recent) > limit {
        return r.recent[len(r.recent)-limit:], nil
    }
    return r.recent, nil
}

const testChannel = "chat_router_test"

func newTestLedger(t *testing.T, repo HistoryRepository, limit int) (*Ledger, *store.Store, *miniredis.Miniredis) {
    t.Helper()
    st, mr := storetest.New(t)
    l := NewLedger(st, repo, LedgerConfig{
        HistoryLimit: limit,
        ChatTTL:      time.Hour,
        TypingTTL:    5 * time.Second,
        Channel:      testChannel,
    }, zaptest.NewLogger(t))
    return l, st, mr
}

// listen subscribes to the router channel and returns its message stream
func listen(t *testing.T, st *store.Store) <-chan *redis.Message {
    t.Helper()
    ctx := context.Background()
    pubsub := st.Redis().Subscribe(ctx, testChannel)
    _, err := pubsub.Receive(ctx)
    require.NoError(t, err)
    t.Cleanup(func() { pubsub.Close() })
    return pubsub.Channel()
}

func expectEnvelope(t *testing.T, ch <-chan *redis.Message) Envelope {
    t.Helper()
    select {
    case msg := <-ch:
        var env Envelope
        require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
        return env
    case <-time.After(3 * time.Second):
        t.Fatal("no envelope published")
    }
    return Envelope{}
}

func expectQuiet(t *testing.T, ch <-chan *redis.Message) {
    t.Helper()
    select {
    case msg := <-ch:
        t.Fatalf("unexpected publish %s", msg.Payload)
    case <-time.After(100 * time.Millisecond):
    }
}

func textMessage(id, sender, content string) *CachedMessage {
    return &CachedMessage{ID: id, Content: content, SenderID: sender, CreatedAt: time.Now().UTC(), Type: MessageText}
}

func TestRecordMessage(t *testing.T) {
    ctx := context.Background()
    l, st, mr := newTestLedger(t, nil, 50)
    events := listen(t, st)

    unread, err := l.RecordMessage(ctx, "c1", "y", RoutedChatMessage, textMessage("m1", "x", "hello"))
    require.NoError(t, err)
    assert.Equal(t, int64(1), unread)

    env := expectEnvelope(t, events)
    assert.Equal(t, "y", env.ReceiverID)
    assert.Equal(t, RoutedChatMessage, env.EventType)
    var data ChatEventData
    require.NoError(t, json.Unmarshal(env.EventData, &data))
    assert.Equal(t, "c1", data.ConnectionID)
    assert.Equal(t, "hello", data.Content)
    assert.Equal(t, "x", data.SenderID)
    expectQuiet(t, events)

    unread, err = l.RecordMessage(ctx, "c1", "y", RoutedChatMessage, textMessage("m2", "x", "again"))
    require.NoError(t, err)
    assert.Equal(t, int64(2), unread)
    expectEnvelope(t, events)

    history, err := l.History(ctx, "c1")
    require.NoError(t, err)
    require.Len(t, history, 2)
    assert.Equal(t, "m1", history[0].ID)
    assert.Equal(t, "m2", history[1].ID)

    assert.Greater(t, mr.TTL(store.ChatKey("c1")), time.Duration(0))
}

// A receiver viewing the conversation gets the message without an unread bump
func TestRecordMessageWhileViewing(t *testing.T) {
    ctx := context.Background()
    l, st, _ := newTestLedger(t, nil, 50)

    _, err := l.RecordMessage(ctx, "c1", "y", RoutedChatMessage, textMessage("m0", "x", "before"))
    require.NoError(t, err)

    events := listen(t, st)
    require.NoError(t, l.MarkActive(ctx, "y", "c1"))

    counts, err := l.UnreadCounts(ctx, "y")
    require.NoError(t, err)
    assert.Empty(t, counts, "viewing clears the counter")

    unread, err := l.RecordMessage(ctx, "c1", "y", RoutedChatMessage, textMessage("m1", "x", "hi"))
    require.NoError(t, err)
    assert.Zero(t, unread)
    assert.Equal(t, "y", expectEnvelope(t, events).ReceiverID)

    counts, err = l.UnreadCounts(ctx, "y")
    require.NoError(t, err)
    assert.Empty(t, counts)

    t.Run("other conversations still count", func(t *testing.T) {
        unread, err := l.RecordMessage(ctx, "c2", "y", RoutedChatMessage, textMessage("m2", "z", "yo"))
        require.NoError(t, err)
        assert.Equal(t, int64(1), unread)
    })

    t.Run("leaving resumes counting", func(t *testing.T) {
        require.NoError(t, l.MarkInactive(ctx, "y"))
        active, err := l.ActiveConversation(ctx, "y")
        require.NoError(t, err)
        assert.Empty(t, active)

        unread, err := l.RecordMessage(ctx, "c1", "y", RoutedChatMessage, textMessage("m3", "x", "there?"))
        require.NoError(t, err)
        assert.Equal(t, int64(1), unread)
    })
}

func TestChatBufferIsBounded(t *testing.T) {
    ctx := context.Background()
    l, _, _ := newTestLedger(t, nil, 3)

    for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
        _, err := l.RecordMessage(ctx, "c1", "y", RoutedChatMessage, textMessage(id, "x", id))
        require.NoError(t, err)
    }

    history, err := l.History(ctx, "c1")
    require.NoError(t, err)
    ids := make([]string, 0, len(history))
    for _, m := range history {
        ids = append(ids, m.ID)
    }
    assert.Equal(t, []string{"m3", "m4", "m5"}, ids)
}

func TestUnreadHydration(t *testing.T) {
    ctx := context.Background()
    repo := &fakeHistoryRepo{unread: map[string]int64{"c1": 4, "c2": 2, "c3": 7}}
    l, _, _ := newTestLedger(t, repo, 50)

    // live counter recorded before the first read wins over the durable one
    _, err := l.RecordMessage(ctx, "c1", "y", RoutedChatMessage, textMessage("m1", "x", "hi"))
    require.NoError(t, err)
    require.NoError(t, l.MarkActive(ctx, "y", "c3"))

    counts, err := l.UnreadCounts(ctx, "y")
    require.NoError(t, err)
    assert.Equal(t, map[string]int64{"c1": 1, "c2": 2}, counts)

    _, err = l.UnreadCounts(ctx, "y")
    require.NoError(t, err)
    assert.Equal(t, 1, repo.unreadCalls, "hydration happens once")
}

func TestHistorySeeding(t *testing.T) {
    ctx := context.Background()
    base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
    repo := &fakeHistoryRepo{recent: []CachedMessage{
        {ID: "d1", Content: "old", SenderID: "x", CreatedAt: base, Type: MessageText},
        {ID: "d2", Content: "older reply", SenderID: "y", CreatedAt: base.Add(time.Minute), Type: MessageText},
        {ID: "d3", Content: "latest", SenderID: "x", CreatedAt: base.Add(2 * time.Minute), Type: MessageText},
    }}
    l, _, _ := newTestLedger(t, repo, 2)

    history, err := l.History(ctx, "c1")
    require.NoError(t, err)
    require.Len(t, history, 2)
    assert.Equal(t, "d2", history[0].ID)
    assert.Equal(t, "d3", history[1].ID)

    history, err = l.History(ctx, "c1")
    require.NoError(t, err)
    require.Len(t, history, 2)
    assert.True(t, history[1].CreatedAt.Equal(base.Add(2*time.Minute)))
    assert.Equal(t, 1, repo.recentCalls, "second read comes from the buffer")

    t.Run("nothing anywhere", func(t *testing.T) {
        history, err := l.History(ctx, "empty")
        require.NoError(t, err)
        assert.NotNil(t, history)
        assert.Empty(t, history)
    })
}

func TestSetTyping(t *testing.T) {
    ctx := context.Background()
    l, _, mr := newTestLedger(t, nil, 50)
    key := store.TypingKey("c1", "x")

    require.NoError(t, l.SetTyping(ctx, "c1", "x", true))
    assert.True(t, mr.Exists(key))
    assert.Equal(t, 5*time.Second, mr.TTL(key))

    require.NoError(t, l.SetTyping(ctx, "c1", "x", false))
    assert.False(t, mr.Exists(key))
}
