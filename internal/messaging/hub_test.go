package messaging

import (
    "context"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/gorilla/websocket"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"
)

func newTestHub(t *testing.T, e *serviceEnv) *httptest.Server {
    t.Helper()
    hub := NewHub(e.svc, HubConfig{PingPeriod: time.Second, AllowedOrigins: []string{"*"}}, zap.NewNop())
    go hub.Run()

    ctx, cancel := context.WithCancel(context.Background())
    require.NoError(t, e.router.Subscribe(ctx, hub))

    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        hub.ServeWS(w, r, r.URL.Query().Get("user"))
    }))
    t.Cleanup(func() {
        server.Close()
        cancel()
        hub.Shutdown()
    })
    return server
}

func dial(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
    t.Helper()
    url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?user=" + userID
    conn, _, err := websocket.DefaultDialer.Dial(url, nil)
    require.NoError(t, err)
    t.Cleanup(func() { conn.Close() })
    return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) OutboundEvent {
    t.Helper()
    require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
    var ev OutboundEvent
    require.NoError(t, conn.ReadJSON(&ev))
    return ev
}

func TestHubEndToEnd(t *testing.T) {
    ctx := context.Background()
    e := newServiceEnv(t)
    server := newTestHub(t, e)

    x := dial(t, server, "x")
    y := dial(t, server, "y")

    assert.Eventually(t, func() bool {
        ox, _ := e.presence.IsOnline(ctx, "x")
        oy, _ := e.presence.IsOnline(ctx, "y")
        return ox && oy
    }, 3*time.Second, 20*time.Millisecond)

    require.NoError(t, x.WriteJSON(map[string]interface{}{
        "type":    EventChatMessage,
        "payload": ChatMessagePayload{ConnectionID: "c1", ReceiverID: "y", Content: "hello"},
    }))

    ack := readEvent(t, x)
    assert.Equal(t, ReplyMessageAck, ack.Type)

    got := readEvent(t, y)
    assert.Equal(t, RoutedChatMessage, got.Type)
    assert.Contains(t, string(got.Payload), `"content":"hello"`)
    assert.Contains(t, string(got.Payload), `"connectionId":"c1"`)

    t.Run("errors go back to the sender only", func(t *testing.T) {
        require.NoError(t, y.WriteJSON(map[string]interface{}{
            "type":    EventChatMessage,
            "payload": ChatMessagePayload{ConnectionID: "old", ReceiverID: "x", Content: "hi"},
        }))
        assert.Equal(t, ReplyError, readEvent(t, y).Type)
    })

    t.Run("closing the last socket releases the user", func(t *testing.T) {
        require.NoError(t, y.Close())
        assert.Eventually(t, func() bool {
            online, _ := e.presence.IsOnline(ctx, "y")
            return !online
        }, 3*time.Second, 20*time.Millisecond)
        assert.Eventually(t, func() bool {
            for _, id := range e.queue.left() {
                if id == "y" {
                    return true
                }
            }
            return false
        }, 3*time.Second, 20*time.Millisecond)
    })
}
