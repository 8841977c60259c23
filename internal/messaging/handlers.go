// internal/messaging/handlers.go

package messaging

import (
    "errors"
    "net/http"

    "github.com/gorilla/mux"
    "go.uber.org/zap"

    "github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/connection"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

type Handler struct {
    service Service
    hub     *Hub
    logger  *zap.Logger
}

func NewHandler(service Service, hub *Hub, logger *zap.Logger) *Handler {
    return &Handler{
        service: service,
        hub:     hub,
        logger:  logger.Named("messaging.http"),
    }
}

// HandleWebSocket handles WebSocket connections
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
    // Get user ID from context (set by auth middleware)
    userID, ok := auth.GetUserIDFromContext(r.Context())
    if !ok {
        utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
        return
    }

    h.hub.ServeWS(w, r, userID)
}

// GetUnreadCounts returns unread messages per conversation
func (h *Handler) GetUnreadCounts(w http.ResponseWriter, r *http.Request) {
    userID, ok := auth.GetUserIDFromContext(r.Context())
    if !ok {
        utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
        return
    }

    counts, err := h.service.UnreadCounts(r.Context(), userID)
    if err != nil {
        h.respondError(w, err)
        return
    }

    utils.RespondWithData(w, http.StatusOK, counts)
}

// GetChatHistory returns the buffered messages of a conversation
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
    userID, ok := auth.GetUserIDFromContext(r.Context())
    if !ok {
        utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
        return
    }

    connectionID := mux.Vars(r)["id"]
    if connectionID == "" {
        utils.RespondWithError(w, http.StatusBadRequest, "Invalid conversation ID")
        return
    }

    msgs, err := h.service.History(r.Context(), userID, connectionID)
    if err != nil {
        h.respondError(w, err)
        return
    }

    utils.RespondWithData(w, http.StatusOK, msgs)
}

// GetNotifications returns badge counts per category
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
    userID, ok := auth.GetUserIDFromContext(r.Context())
    if !ok {
        utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
        return
    }

    counts, err := h.service.NotificationCounts(r.Context(), userID)
    if err != nil {
        h.respondError(w, err)
        return
    }

    utils.RespondWithData(w, http.StatusOK, counts)
}

// ResetNotification clears one category
func (h *Handler) ResetNotification(w http.ResponseWriter, r *http.Request) {
    userID, ok := auth.GetUserIDFromContext(r.Context())
    if !ok {
        utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
        return
    }

    if err := h.service.ResetNotification(r.Context(), userID, mux.Vars(r)["category"]); err != nil {
        h.respondError(w, err)
        return
    }

    utils.RespondWithMessage(w, http.StatusOK, "Notifications cleared")
}

// HealthCheck reports the sockets held by this instance
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
    utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
        "status":             "healthy",
        "active_connections": h.hub.GetActiveConnections(),
    })
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
    switch {
    case errors.Is(err, ErrUnknownCategory):
        utils.RespondWithError(w, http.StatusBadRequest, err.Error())
    case errors.Is(err, connection.ErrSessionNotFound):
        utils.RespondWithError(w, http.StatusGone, "chat ended")
    case errors.Is(err, connection.ErrNotParticipant):
        utils.RespondWithError(w, http.StatusForbidden, "Not a participant of this conversation")
    case errors.Is(err, store.ErrUnavailable):
        utils.RespondWithError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
    default:
        h.logger.Error("messaging request failed", zap.Error(err))
        utils.RespondWithError(w, http.StatusInternalServerError, "Failed to process request")
    }
}
