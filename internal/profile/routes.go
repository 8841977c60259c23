// internal/profile/routes.go

package profile

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the match profile routes
func RegisterRoutes(r chi.Router, handler *Handler, authenticate func(http.Handler) http.Handler) {
	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/api/v1/match/profile", handler.GetMyMatchProfile)
		r.Put("/api/v1/match/profile", handler.UpdateMatchAttributes)
		r.Get("/api/v1/match/profile/{id}", handler.GetMatchCard)
	})
}

// NewRouter builds a standalone chi router so the profile routes can be
// mounted under the main mux router.
func NewRouter(handler *Handler, authenticate func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, handler, authenticate)
	return r
}
