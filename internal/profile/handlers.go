//internal/profile/handlers.go

package profile

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

// Handler handles match profile HTTP requests
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler creates a new profile handler
func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.Named("profile.http"),
	}
}

// GetMyMatchProfile returns the caller's cached match profile
func (h *Handler) GetMyMatchProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	p, err := h.service.GetMatchProfile(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.RespondWithData(w, http.StatusOK, p)
}

// UpdateMatchAttributes handles location and interest changes
func (h *Handler) UpdateMatchAttributes(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req UpdateAttributesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.service.UpdateMatchAttributes(r.Context(), userID, &req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.RespondWithData(w, http.StatusOK, p)
}

// GetMatchCard returns another user's public card
func (h *Handler) GetMatchCard(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	if targetID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	card, err := h.service.GetCard(r.Context(), targetID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.RespondWithData(w, http.StatusOK, card)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProfileNotFound):
		utils.RespondWithError(w, http.StatusNotFound, "Profile not found")
	case errors.Is(err, utils.ErrValidation):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		h.logger.Error("profile request failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to process profile")
	}
}
