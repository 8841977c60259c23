// internal/messaging/websocket.go

package messaging

import (
    "encoding/json"
    "net/http"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/gorilla/websocket"
)

// WebSocket configuration constants
const (
    // Time allowed to write a message to the peer
    writeWait = 10 * time.Second

    // Ping period used when none is configured
    defaultPingPeriod = 30 * time.Second

    // Maximum message size allowed from peer
    maxMessageSize = 64 * 1024 // 64KB

    // Maximum number of queued messages per client
    maxQueuedMessages = 256

    // Upper bound for handling one inbound event
    eventTimeout = 10 * time.Second
)

// newUpgrader accepts any origin when the list contains "*"
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
    allowed := make(map[string]bool, len(allowedOrigins))
    for _, o := range allowedOrigins {
        allowed[strings.TrimRight(o, "/")] = true
    }

    return websocket.Upgrader{
        ReadBufferSize:  1024,
        WriteBufferSize: 1024,
        CheckOrigin: func(r *http.Request) bool {
            if allowed["*"] {
                return true
            }
            origin := r.Header.Get("Origin")
            // Non-browser clients send no origin
            return origin == "" || allowed[strings.TrimRight(origin, "/")]
        },
    }
}

func newSocketID() string {
    return uuid.NewString()
}

func closeWithReason(conn *websocket.Conn, code int, reason string) {
    conn.SetWriteDeadline(time.Now().Add(writeWait))
    conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
    conn.Close()
}

// mustMarshal marshals data to JSON, falling back to an empty object
func mustMarshal(v interface{}) json.RawMessage {
    data, err := json.Marshal(v)
    if err != nil {
        return json.RawMessage(`{}`)
    }
    return data
}
