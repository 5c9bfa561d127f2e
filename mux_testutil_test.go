package redismpx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newTestMux wires a Multiplexer to an in-process miniredis instance, the way
// the corpus wires its own Pub/Sub subscriber in tests.
func newTestMux(t *testing.T) (*miniredis.Miniredis, *Multiplexer) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	factory := func(ctx context.Context) (*redis.Client, error) {
		return redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil
	}

	m := New(context.Background(), Options{
		ConnFactory: factory,
		Backoff:     BackoffConfig{Base: 5 * time.Millisecond, Cap: 50 * time.Millisecond, Factor: 2, Jitter: 1},
	})
	t.Cleanup(m.Close)
	return mr, m
}

// eventually polls cond until it is true or the deadline passes, the way the
// corpus's own Pub/Sub tests poll with time.Sleep between a publish and an
// assertion, but without a fixed sleep duration baked into every call site.
func eventually(t *testing.T, cond func() bool, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
