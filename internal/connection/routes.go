// internal/connection/routes.go

package connection

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/guard"
)

type RouteConfig struct {
	VoteRateLimit  int
	VoteRateWindow time.Duration
	IdempotencyTTL time.Duration
}

// RegisterRoutes registers the connection routes. Every state change needs
// an idempotency key; votes are rate limited as well.
func RegisterRoutes(router *mux.Router, handler *Handler, authenticate func(http.Handler) http.Handler, g *guard.Guard, cfg RouteConfig) {
	api := router.PathPrefix("/api/v1/connections").Subrouter()
	api.Use(authenticate)

	vote := func(action string, h http.HandlerFunc) http.Handler {
		return g.RateLimit("vote", cfg.VoteRateLimit, cfg.VoteRateWindow)(
			g.Idempotent(action, cfg.IdempotencyTTL)(h),
		)
	}

	api.HandleFunc("/{id}", handler.GetConnection).Methods("GET")
	api.Handle("/{id}/extend", vote("extend", handler.Extend)).Methods("POST")
	api.Handle("/{id}/convert", vote("convert", handler.Convert)).Methods("POST")
	api.Handle("/{id}/skip", g.Idempotent("skip", cfg.IdempotencyTTL)(http.HandlerFunc(handler.Skip))).Methods("POST")
}
