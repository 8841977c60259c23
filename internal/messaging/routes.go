// internal/messaging/routes.go

package messaging

import (
    "net/http"

    "github.com/gorilla/mux"
)

// RegisterRoutes registers the websocket, chat and notification routes
func RegisterRoutes(router *mux.Router, handler *Handler, authenticate func(http.Handler) http.Handler) {
    // WebSocket endpoint - requires authentication
    router.Handle("/ws", authenticate(http.HandlerFunc(handler.HandleWebSocket))).Methods("GET")

    chats := router.PathPrefix("/api/v1/chats").Subrouter()
    chats.Use(authenticate)
    chats.HandleFunc("/unread", handler.GetUnreadCounts).Methods("GET")
    chats.HandleFunc("/{id}/messages", handler.GetChatHistory).Methods("GET")

    notifications := router.PathPrefix("/api/v1/notifications").Subrouter()
    notifications.Use(authenticate)
    notifications.HandleFunc("", handler.GetNotifications).Methods("GET")
    notifications.HandleFunc("/{category}", handler.ResetNotification).Methods("DELETE")
}

// RegisterHealthCheck exposes the messaging health endpoint
func RegisterHealthCheck(router *mux.Router, handler *Handler) {
    router.HandleFunc("/health/messaging", handler.HealthCheck).Methods("GET")
}
