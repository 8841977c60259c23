// internal/auth/middleware.go
// Request/session boundary: verifies the access token issued by the account
// service and exposes the caller's user id to handlers.

package auth

import (
    "context"
    "net/http"
    "strings"

    "go.uber.org/zap"

    "github.com/imadgeboyega/kiekky-matchmaking/internal/common/utils"
)

type contextKey string

const userIDKey contextKey = "userID"

// Middleware provides authentication middleware
type Middleware struct {
    secret string
    logger *zap.Logger
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(secret string, logger *zap.Logger) *Middleware {
    return &Middleware{
        secret: secret,
        logger: logger.Named("auth"),
    }
}

// Authenticate is the main middleware function that protects routes
// It verifies the JWT token and adds the user id to the request context
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        // 1. Extract token from header, cookie or query string
        token := extractToken(r)
        if token == "" {
            utils.RespondWithError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
            return
        }

        // 2. Validate token
        claims, err := utils.ValidateJWT(token, m.secret)
        if err != nil {
            m.logger.Debug("rejected token", zap.Error(err), zap.String("path", r.URL.Path))
            utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
            return
        }

        // 3. Pass to the next handler with the user in context
        next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
    })
}

// extractToken looks for "Bearer <token>" first, then the token cookie, then
// the token query parameter. Browsers cannot set headers on websocket upgrades.
func extractToken(r *http.Request) string {
    if authHeader := r.Header.Get("Authorization"); authHeader != "" {
        parts := strings.Split(authHeader, " ")
        if len(parts) != 2 || parts[0] != "Bearer" {
            return ""
        }
        return parts[1]
    }

    if cookie, err := r.Cookie("token"); err == nil && cookie.Value != "" {
        return cookie.Value
    }

    return r.URL.Query().Get("token")
}

// WithUserID stores the authenticated user id in ctx
func WithUserID(ctx context.Context, userID string) context.Context {
    return context.WithValue(ctx, userIDKey, userID)
}

// GetUserIDFromContext extracts user ID from request context
func GetUserIDFromContext(ctx context.Context) (string, bool) {
    userID, ok := ctx.Value(userIDKey).(string)
    return userID, ok && userID != ""
}
