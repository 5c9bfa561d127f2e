package redismpx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPatternSubscription_MatchesGlobOnly is scenario S2: a pattern
// subscription on "a.*" receives messages published on matching channels and
// nothing else.
func TestPatternSubscription_MatchesGlobOnly(t *testing.T) {
	mr, m := newTestMux(t)

	rec := &messageRecorder{}
	ps := m.NewPatternSubscription([]byte("a.*"), Sync[MessageFunc](rec.record), Callback[DisconnectFunc]{}, Callback[ActivationFunc]{})
	defer ps.Close()

	time.Sleep(50 * time.Millisecond)

	mr.Publish("a.1", "p")
	require.True(t, eventually(t, func() bool { return rec.count() == 1 }, time.Second))
	ch, payload := rec.last()
	assert.Equal(t, "a.1", string(ch))
	assert.Equal(t, "p", string(payload))

	mr.Publish("b.1", "q")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count(), "non-matching channel must not be delivered")
}

func TestPatternSubscription_PatternIsImmutable(t *testing.T) {
	_, m := newTestMux(t)
	ps := m.NewPatternSubscription([]byte("a.*"), Callback[MessageFunc]{}, Callback[DisconnectFunc]{}, Callback[ActivationFunc]{})
	defer ps.Close()

	assert.Equal(t, "a.*", string(ps.Pattern()))
}

func TestPatternSubscription_ActivationFiresOnAck(t *testing.T) {
	_, m := newTestMux(t)

	activated := make(chan []byte, 1)
	ps := m.NewPatternSubscription([]byte("a.*"), Callback[MessageFunc]{}, Callback[DisconnectFunc]{}, Sync[ActivationFunc](func(name []byte) {
		activated <- append([]byte(nil), name...)
	}))
	defer ps.Close()

	select {
	case name := <-activated:
		assert.Equal(t, "a.*", string(name))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for activation")
	}
}

func TestPatternSubscription_CloseIsIdempotent(t *testing.T) {
	_, m := newTestMux(t)
	ps := m.NewPatternSubscription([]byte("a.*"), Callback[MessageFunc]{}, Callback[DisconnectFunc]{}, Callback[ActivationFunc]{})
	ps.Close()
	assert.NotPanics(t, ps.Close)
}
