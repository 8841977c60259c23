// internal/matching/routes.go

package matching

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/guard"
)

type RouteConfig struct {
	JoinRateLimit  int
	JoinRateWindow time.Duration
	IdempotencyTTL time.Duration
}

// RegisterRoutes registers the queue routes
func RegisterRoutes(router *mux.Router, handler *Handler, authenticate func(http.Handler) http.Handler, g *guard.Guard, cfg RouteConfig) {
	api := router.PathPrefix("/api/v1/match").Subrouter()
	api.Use(authenticate)

	join := g.RateLimit("queue", cfg.JoinRateLimit, cfg.JoinRateWindow)(
		g.Idempotent("queue", cfg.IdempotencyTTL)(http.HandlerFunc(handler.JoinQueue)),
	)
	api.Handle("/queue", join).Methods("POST")
	api.HandleFunc("/queue", handler.LeaveQueue).Methods("DELETE")
	api.HandleFunc("/status", handler.GetStatus).Methods("GET")
	api.HandleFunc("/candidates", handler.GetCandidates).Methods("GET")
}
