// internal/guard/middleware.go

package guard

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

const IdempotencyHeader = "X-Idempotency-Key"

// RateLimit rejects callers that exceed limit requests per window with 429.
// Authenticated callers are keyed by user id, anonymous ones by client IP.
func (g *Guard) RateLimit(scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + callerKey(r)

			exceeded, _, err := g.CheckRateLimit(r.Context(), key, int64(limit), window)
			if err != nil {
				g.respondStoreError(w, err)
				return
			}
			if exceeded {
				RecordRejection("rate_limit", scope)
				utils.RespondWithError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Idempotent collapses retried requests carrying the same idempotency key.
// The key is released when the handler fails with a 5xx so the client may retry.
func (g *Guard) Idempotent(scope string, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if header == "" {
				utils.RespondWithError(w, http.StatusBadRequest, IdempotencyHeader+" header is required")
				return
			}
			key := scope + ":" + callerKey(r) + ":" + header

			first, err := g.CheckIdempotency(r.Context(), key, ttl)
			if err != nil {
				g.respondStoreError(w, err)
				return
			}
			if !first {
				RecordRejection("idempotency", scope)
				utils.RespondWithError(w, http.StatusConflict, "Request already processed or currently processing.")
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				if err := g.Release(r.Context(), key); err != nil {
					g.logger.Warn("failed to release idempotency key", zap.String("scope", scope), zap.Error(err))
				}
			}
		})
	}
}

func (g *Guard) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrUnavailable) {
		g.logger.Error("guard store call failed", zap.Error(err))
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
}

func callerKey(r *http.Request) string {
	if userID, ok := auth.GetUserIDFromContext(r.Context()); ok {
		return userID
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
