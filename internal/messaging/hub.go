// internal/messaging/hub.go

package messaging

import (
    "context"
    "net/http"
    "sync"
    "time"

    "github.com/gorilla/websocket"
    "go.uber.org/zap"
)

// Hub maintains the websocket connections held by this instance
type Hub struct {
    // Registered clients, several per user when they have several devices
    clients    map[string]map[*Client]struct{}
    clientsMux sync.RWMutex

    // Register/unregister clients
    register   chan *Client
    unregister chan *Client

    service  Service
    upgrader websocket.Upgrader
    cfg      HubConfig
    logger   *zap.Logger

    // Context for graceful shutdown
    ctx    context.Context
    cancel context.CancelFunc

    // Run loop and pending disconnects
    wg sync.WaitGroup
}

type HubConfig struct {
    PingPeriod     time.Duration
    AllowedOrigins []string
}

func NewHub(service Service, cfg HubConfig, logger *zap.Logger) *Hub {
    ctx, cancel := context.WithCancel(context.Background())
    if cfg.PingPeriod <= 0 {
        cfg.PingPeriod = defaultPingPeriod
    }

    h := &Hub{
        clients:    make(map[string]map[*Client]struct{}),
        register:   make(chan *Client),
        unregister: make(chan *Client),
        service:    service,
        cfg:        cfg,
        logger:     logger.Named("hub"),
        ctx:        ctx,
        cancel:     cancel,
    }
    h.upgrader = newUpgrader(cfg.AllowedOrigins)
    return h
}

func (h *Hub) Run() {
    h.wg.Add(1)
    defer func() {
        h.cleanup()
        h.wg.Done()
    }()

    for {
        select {
        case client := <-h.register:
            h.registerClient(client)

        case client := <-h.unregister:
            h.unregisterClient(client)

        case <-h.ctx.Done():
            return
        }
    }
}

func (h *Hub) registerClient(client *Client) {
    h.clientsMux.Lock()
    defer h.clientsMux.Unlock()

    set, ok := h.clients[client.userID]
    if !ok {
        set = make(map[*Client]struct{})
        h.clients[client.userID] = set
    }
    set[client] = struct{}{}
    activeSockets.Inc()
    client.Start()

    h.logger.Debug("socket connected",
        zap.String("user_id", client.userID),
        zap.String("socket_id", client.socketID),
        zap.Int("user_sockets", len(set)),
    )
}

func (h *Hub) unregisterClient(client *Client) {
    h.clientsMux.Lock()
    set, exists := h.clients[client.userID]
    if exists {
        if _, exists = set[client]; exists {
            delete(set, client)
            if len(set) == 0 {
                delete(h.clients, client.userID)
            }
        }
    }
    h.clientsMux.Unlock()

    if !exists {
        return
    }
    client.Close()
    activeSockets.Dec()

    h.wg.Add(1)
    go func() {
        defer h.wg.Done()
        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        if err := h.service.Disconnect(ctx, client.userID, client.socketID); err != nil {
            h.logger.Error("failed to release socket",
                zap.String("user_id", client.userID),
                zap.String("socket_id", client.socketID),
                zap.Error(err),
            )
        }
    }()

    h.logger.Debug("socket disconnected", zap.String("user_id", client.userID), zap.String("socket_id", client.socketID))
}

// Deliver implements Dispatcher. A client whose buffer is full is dropped.
func (h *Hub) Deliver(userID string, payload []byte) bool {
    h.clientsMux.RLock()
    defer h.clientsMux.RUnlock()

    delivered := false
    for client := range h.clients[userID] {
        select {
        case client.send <- payload:
            delivered = true
        default:
            go h.Unregister(client)
        }
    }
    return delivered
}

// Unregister queues a client for removal
func (h *Hub) Unregister(client *Client) {
    select {
    case h.unregister <- client:
    case <-h.ctx.Done():
    }
}

// IsUserConnected reports whether this instance holds a socket of userID
func (h *Hub) IsUserConnected(userID string) bool {
    h.clientsMux.RLock()
    defer h.clientsMux.RUnlock()
    return len(h.clients[userID]) > 0
}

func (h *Hub) GetActiveConnections() int {
    h.clientsMux.RLock()
    defer h.clientsMux.RUnlock()

    n := 0
    for _, set := range h.clients {
        n += len(set)
    }
    return n
}

func (h *Hub) cleanup() {
    h.clientsMux.Lock()
    var all []*Client
    for _, set := range h.clients {
        for client := range set {
            all = append(all, client)
        }
    }
    h.clients = make(map[string]map[*Client]struct{})
    h.clientsMux.Unlock()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    for _, client := range all {
        client.Close()
        activeSockets.Dec()
        if err := h.service.Disconnect(ctx, client.userID, client.socketID); err != nil {
            h.logger.Warn("failed to release socket on shutdown", zap.String("socket_id", client.socketID), zap.Error(err))
        }
    }
}

// Shutdown closes every client and waits for pending releases
func (h *Hub) Shutdown() {
    h.cancel()
    h.wg.Wait()
}

// ServeWS upgrades an authenticated request and attaches the socket
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
    conn, err := h.upgrader.Upgrade(w, r, nil)
    if err != nil {
        h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
        return
    }

    client := NewClient(h, conn, userID, newSocketID())
    if err := h.service.Connect(r.Context(), userID, client.socketID); err != nil {
        h.logger.Error("failed to register socket", zap.String("user_id", userID), zap.Error(err))
        closeWithReason(conn, websocket.CloseTryAgainLater, "service unavailable")
        return
    }

    select {
    case h.register <- client:
    case <-h.ctx.Done():
        closeWithReason(conn, websocket.CloseGoingAway, "shutting down")
    }
}
