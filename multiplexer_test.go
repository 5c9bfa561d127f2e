package redismpx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelRefKeys snapshots the current set of channels the Multiplexer
// believes it has an active refcount entry for, by running a closure on the
// loop itself rather than polling the wire.
func channelRefKeys(m *Multiplexer) []string {
	var keys []string
	m.submit(func(s *muxState) {
		for k := range s.channelRefs {
			keys = append(keys, k)
		}
	})
	return keys
}

// TestMultiplexer_SubscribeOnlyOnZeroToOneTransition is testable property 2.
func TestMultiplexer_SubscribeOnlyOnZeroToOneTransition(t *testing.T) {
	_, m := newTestMux(t)

	cs1 := m.NewChannelSubscription(Callback[MessageFunc]{}, Callback[DisconnectFunc]{}, Callback[ActivationFunc]{})
	cs2 := m.NewChannelSubscription(Callback[MessageFunc]{}, Callback[DisconnectFunc]{}, Callback[ActivationFunc]{})
	defer cs1.Close()
	defer cs2.Close()

	cs1.Add([]byte("x"))
	require.True(t, eventually(t, func() bool {
		for _, k := range channelRefKeys(m) {
			if k == "x" {
				return true
			}
		}
		return false
	}, time.Second))

	// Second subscriber joining an already-referenced channel must not
	// produce a second entry or duplicate bookkeeping.
	cs2.Add([]byte("x"))
	assert.Len(t, channelRefKeys(m), 1)

	cs1.Remove([]byte("x"))
	assert.Len(t, channelRefKeys(m), 1, "entry must survive while cs2 still references it")

	cs2.Remove([]byte("x"))
	assert.Len(t, channelRefKeys(m), 0, "entry must be deleted on the 1->0 transition")
}

// TestMultiplexer_RefcountUnionAtQuiescence is testable property 1.
func TestMultiplexer_RefcountUnionAtQuiescence(t *testing.T) {
	_, m := newTestMux(t)

	cs1 := m.NewChannelSubscription(Callback[MessageFunc]{}, Callback[DisconnectFunc]{}, Callback[ActivationFunc]{})
	cs2 := m.NewChannelSubscription(Callback[MessageFunc]{}, Callback[DisconnectFunc]{}, Callback[ActivationFunc]{})

	cs1.Add([]byte("a"))
	cs1.Add([]byte("b"))
	cs2.Add([]byte("b"))
	cs2.Add([]byte("c"))
	cs1.Remove([]byte("a"))

	keys := channelRefKeys(m)
	assert.ElementsMatch(t, []string{"b", "c"}, keys)

	cs1.Close()
	cs2.Close()
	assert.Empty(t, channelRefKeys(m))
}

// TestMultiplexer_DisconnectThenReconnectReactivatesEverything is testable
// property 4: every live subscription gets exactly one on_disconnect, and a
// fresh on_activation once the Multiplexer reconnects.
func TestMultiplexer_DisconnectThenReconnectReactivatesEverything(t *testing.T) {
	mr1, err := miniredis.Run()
	require.NoError(t, err)
	defer mr1.Close()

	var targetMu sync.Mutex
	target := mr1.Addr()

	m := New(context.Background(), Options{
		ConnFactory: func(ctx context.Context) (*redis.Client, error) {
			targetMu.Lock()
			addr := target
			targetMu.Unlock()
			return redis.NewClient(&redis.Options{Addr: addr}), nil
		},
		Backoff: BackoffConfig{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond, Factor: 2, Jitter: 1},
	})
	defer m.Close()

	var disconnects, activations int32
	var mu sync.Mutex

	cs := m.NewChannelSubscription(
		Callback[MessageFunc]{},
		Sync[DisconnectFunc](func(error) {
			mu.Lock()
			disconnects++
			mu.Unlock()
		}),
		Sync[ActivationFunc](func([]byte) {
			mu.Lock()
			activations++
			mu.Unlock()
		}),
	)
	defer cs.Close()

	cs.Add([]byte("x"))
	require.True(t, eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return activations == 1
	}, time.Second))

	mr1.Close()

	require.True(t, eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnects == 1
	}, time.Second))

	mr2, err := miniredis.Run()
	require.NoError(t, err)
	defer mr2.Close()
	targetMu.Lock()
	target = mr2.Addr()
	targetMu.Unlock()

	require.True(t, eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return activations == 2
	}, 5*time.Second), "expected a fresh activation after reconnect")

	mu.Lock()
	assert.Equal(t, int32(1), disconnects)
	mu.Unlock()
}

// TestMultiplexer_CloseIsIdempotentAndTearsDownSubscriptions verifies Close
// releases every live subscription and is safe to call twice.
func TestMultiplexer_CloseIsIdempotentAndTearsDownSubscriptions(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	m := New(context.Background(), Options{
		ConnFactory: func(ctx context.Context) (*redis.Client, error) {
			return redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil
		},
	})

	cs := m.NewChannelSubscription(Callback[MessageFunc]{}, Callback[DisconnectFunc]{}, Callback[ActivationFunc]{})
	cs.Add([]byte("x"))

	m.Close()
	cs.mu.Lock()
	closed := cs.closed
	cs.mu.Unlock()
	assert.True(t, closed, "Close must close every live subscription")
	assert.NotPanics(t, m.Close)
}
