// internal/store/storetest/storetest.go
// Test harness backing a *store.Store with an in-process miniredis.

package storetest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

// New starts a miniredis server for the lifetime of the test and returns a
// store bound to it together with the server for fast-forwarding TTLs.
func New(t testing.TB) (*store.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return store.New(client, zaptest.NewLogger(t)), mr
}
