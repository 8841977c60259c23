// internal/matching/handlers.go

package matching

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

type Handler struct {
	queue         *Queue
	defaultRadius float64
	defaultK      int
	logger        *zap.Logger
}

func NewHandler(queue *Queue, defaultRadiusKm float64, defaultK int, logger *zap.Logger) *Handler {
	return &Handler{
		queue:         queue,
		defaultRadius: defaultRadiusKm,
		defaultK:      defaultK,
		logger:        logger.Named("matching.http"),
	}
}

// JoinQueue puts the caller in the match queue
func (h *Handler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.queue.Join(r.Context(), userID); err != nil {
		h.respondError(w, err)
		return
	}

	h.respondState(w, r, userID)
}

// LeaveQueue takes the caller out of the match queue
func (h *Handler) LeaveQueue(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.queue.LeaveQueue(r.Context(), userID); err != nil {
		h.respondError(w, err)
		return
	}

	h.respondState(w, r, userID)
}

// GetStatus returns the caller's queue status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	h.respondState(w, r, userID)
}

// GetCandidates previews who the matcher would consider for the caller
func (h *Handler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	query := CandidateQuery{RadiusKm: h.defaultRadius, K: h.defaultK}
	if v := r.URL.Query().Get("radius"); v != "" {
		radius, err := strconv.ParseFloat(v, 64)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid radius")
			return
		}
		query.RadiusKm = radius
	}
	if v := r.URL.Query().Get("k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid k")
			return
		}
		query.K = k
	}
	if err := utils.ValidateStruct(&query); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidates, err := h.queue.FindCandidates(r.Context(), userID, query.RadiusKm, query.K)
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.RespondWithData(w, http.StatusOK, candidates)
}

func (h *Handler) respondState(w http.ResponseWriter, r *http.Request, userID string) {
	state, err := h.queue.State(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	utils.RespondWithData(w, http.StatusOK, state)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProfileIncomplete):
		utils.RespondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrAlreadyMatched):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		h.logger.Error("matching request failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to process request")
	}
}
