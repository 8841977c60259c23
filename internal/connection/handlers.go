// internal/connection/handlers.go

package connection

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

type Handler struct {
	coordinator *Coordinator
	logger      *zap.Logger
}

func NewHandler(coordinator *Coordinator, logger *zap.Logger) *Handler {
	return &Handler{coordinator: coordinator, logger: logger.Named("connection.http")}
}

// GetConnection returns the live session to one of its participants
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sess, err := h.coordinator.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !sess.HasParticipant(userID) {
		h.respondError(w, ErrNotParticipant)
		return
	}

	utils.RespondWithData(w, http.StatusOK, sess)
}

func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, ActionExtend)
}

func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, ActionConvert)
}

func (h *Handler) vote(w http.ResponseWriter, r *http.Request, action Action) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	result, err := h.coordinator.RecordVote(r.Context(), mux.Vars(r)["id"], userID, action)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.RespondWithData(w, http.StatusOK, result)
}

// Skip ends the chat for both users
func (h *Handler) Skip(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.coordinator.Skip(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		h.respondError(w, err)
		return
	}

	utils.RespondWithMessage(w, http.StatusOK, "Chat ended")
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		utils.RespondWithError(w, http.StatusGone, err.Error())
	case errors.Is(err, ErrNotParticipant):
		utils.RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidAction):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		h.logger.Error("connection request failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to process request")
	}
}
