package connection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/auth"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/guard"
)

func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User")
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

func newTestRouter(t *testing.T, e *testEnv) *mux.Router {
	logger := zaptest.NewLogger(t)
	router := mux.NewRouter()
	RegisterRoutes(router, NewHandler(e.coord, logger), fakeAuth, guard.New(e.store, logger), RouteConfig{
		VoteRateLimit:  5,
		VoteRateWindow: time.Minute,
		IdempotencyTTL: time.Minute,
	})
	return router
}

func doRequest(router http.Handler, method, target, userID, idemKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("X-User", userID)
	if idemKey != "" {
		req.Header.Set(guard.IdempotencyHeader, idemKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestConnectionHandlers(t *testing.T) {
	e := newTestEnv(t)
	id := e.match(t, "x", "y")
	router := newTestRouter(t, e)
	base := "/api/v1/connections/" + id

	t.Run("get", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, base, "x", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body struct {
			Data Session `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, id, body.Data.ID)
		assert.Equal(t, StateActive, body.Data.State)

		assert.Equal(t, http.StatusForbidden, doRequest(router, http.MethodGet, base, "intruder", "").Code)
	})

	t.Run("vote", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, base+"/extend", "x", "v1")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body struct {
			Data VoteResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, VotePending, body.Data.Outcome)
		assert.Equal(t, ActionExtend, body.Data.Action)

		assert.Equal(t, http.StatusConflict, doRequest(router, http.MethodPost, base+"/extend", "x", "v1").Code)
		assert.Equal(t, http.StatusBadRequest, doRequest(router, http.MethodPost, base+"/convert", "x", "").Code)
		assert.Equal(t, http.StatusForbidden, doRequest(router, http.MethodPost, base+"/convert", "intruder", "v2").Code)
	})

	t.Run("skip", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, base+"/skip", "y", "s1")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Equal(t, http.StatusGone, doRequest(router, http.MethodGet, base, "x", "").Code)
		assert.Equal(t, http.StatusGone, doRequest(router, http.MethodPost, base+"/convert", "x", "v3").Code)
	})

	t.Run("votes are rate limited", func(t *testing.T) {
		other := e.match(t, "p", "q")
		codes := []int{}
		for _, key := range []string{"a", "b", "c", "d", "e", "f"} {
			codes = append(codes, doRequest(router, http.MethodPost, "/api/v1/connections/"+other+"/extend", "p", key).Code)
		}
		assert.Equal(t, []int{200, 200, 200, 200, 200, http.StatusTooManyRequests}, codes)
	})
}
