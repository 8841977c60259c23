// internal/messaging/client.go

package messaging

import (
    "context"
    "sync"
    "time"

    "github.com/gorilla/websocket"
    "go.uber.org/zap"
)

// Client represents one websocket of a user
type Client struct {
    hub       *Hub
    conn      *websocket.Conn
    send      chan []byte
    userID    string
    socketID  string
    closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, socketID string) *Client {
    return &Client{
        hub:      hub,
        conn:     conn,
        send:     make(chan []byte, maxQueuedMessages),
        userID:   userID,
        socketID: socketID,
    }
}

func (c *Client) Start() {
    go c.writePump()
    go c.readPump()
}

// Close stops the write pump; safe to call more than once
func (c *Client) Close() {
    c.closeOnce.Do(func() {
        close(c.send)
    })
}

func (c *Client) pongWait() time.Duration {
    return 2 * c.hub.cfg.PingPeriod
}

func (c *Client) readPump() {
    defer func() {
        c.hub.Unregister(c)
        c.conn.Close()
    }()

    c.conn.SetReadLimit(maxMessageSize)
    c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
    c.conn.SetPongHandler(func(string) error {
        c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
        ctx, cancel := context.WithTimeout(c.hub.ctx, writeWait)
        defer cancel()
        if err := c.hub.service.Heartbeat(ctx, c.userID); err != nil {
            c.hub.logger.Warn("heartbeat failed", zap.String("user_id", c.userID), zap.Error(err))
        }
        return nil
    })

    for {
        _, message, err := c.conn.ReadMessage()
        if err != nil {
            if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
                c.hub.logger.Debug("websocket read error", zap.String("user_id", c.userID), zap.Error(err))
            }
            break
        }

        // Events of one socket are handled in order
        c.processMessage(message)
    }
}

func (c *Client) writePump() {
    ticker := time.NewTicker(c.hub.cfg.PingPeriod)
    defer func() {
        ticker.Stop()
        c.conn.Close()
    }()

    for {
        select {
        case message, ok := <-c.send:
            c.conn.SetWriteDeadline(time.Now().Add(writeWait))
            if !ok {
                c.conn.WriteMessage(websocket.CloseMessage, []byte{})
                return
            }

            if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
                return
            }

        case <-ticker.C:
            c.conn.SetWriteDeadline(time.Now().Add(writeWait))
            if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
                return
            }
        }
    }
}

func (c *Client) processMessage(data []byte) {
    ctx, cancel := context.WithTimeout(c.hub.ctx, eventTimeout)
    defer cancel()

    reply := c.hub.service.HandleEvent(ctx, c.userID, data)
    if reply == nil {
        return
    }
    c.reply(reply)
}

// reply goes through the hub lock so it never races with Close
func (c *Client) reply(event *OutboundEvent) {
    data := mustMarshal(event)

    c.hub.clientsMux.RLock()
    defer c.hub.clientsMux.RUnlock()
    if _, ok := c.hub.clients[c.userID][c]; !ok {
        return
    }
    select {
    case c.send <- data:
    default:
        go c.hub.Unregister(c)
    }
}
