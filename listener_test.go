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

func setupListenerTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

type eventRecorder struct {
	mu     sync.Mutex
	events []listenerEvent
}

func (r *eventRecorder) record(ev listenerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []listenerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]listenerEvent, len(r.events))
	copy(out, r.events)
	return out
}

func TestListener_SubscribeAndReceiveMessage(t *testing.T) {
	mr, client := setupListenerTestRedis(t)

	rec := &eventRecorder{}
	var disconnectErr error
	var disconnectMu sync.Mutex

	l := newListener(context.Background(), client, 1, rec.record, func(gen uint64, err error) {
		disconnectMu.Lock()
		disconnectErr = err
		disconnectMu.Unlock()
	})
	defer l.close()

	require.NoError(t, l.subscribe(context.Background(), []byte("ch1")))
	time.Sleep(50 * time.Millisecond)

	mr.Publish("ch1", "hello")
	time.Sleep(50 * time.Millisecond)

	events := rec.snapshot()
	var sawAck, sawMessage bool
	for _, ev := range events {
		if ev.kind == eventSubscribeAck && string(ev.channel) == "ch1" {
			sawAck = true
		}
		if ev.kind == eventMessage && string(ev.channel) == "ch1" && string(ev.payload) == "hello" {
			sawMessage = true
		}
	}
	assert.True(t, sawAck, "expected a subscribe ack for ch1")
	assert.True(t, sawMessage, "expected a message event for ch1")

	disconnectMu.Lock()
	assert.NoError(t, disconnectErr)
	disconnectMu.Unlock()
}

func TestListener_PSubscribeAndReceivePMessage(t *testing.T) {
	mr, client := setupListenerTestRedis(t)

	rec := &eventRecorder{}
	l := newListener(context.Background(), client, 1, rec.record, func(uint64, error) {})
	defer l.close()

	require.NoError(t, l.psubscribe(context.Background(), []byte("a.*")))
	time.Sleep(50 * time.Millisecond)

	mr.Publish("a.1", "p")
	time.Sleep(50 * time.Millisecond)

	events := rec.snapshot()
	var sawPMessage bool
	for _, ev := range events {
		if ev.kind == eventPMessage && string(ev.pattern) == "a.*" && string(ev.channel) == "a.1" && string(ev.payload) == "p" {
			sawPMessage = true
		}
	}
	assert.True(t, sawPMessage, "expected a pmessage event matching a.*")
}

func TestListener_UnsubscribeAcknowledged(t *testing.T) {
	_, client := setupListenerTestRedis(t)

	rec := &eventRecorder{}
	l := newListener(context.Background(), client, 1, rec.record, func(uint64, error) {})
	defer l.close()

	require.NoError(t, l.subscribe(context.Background(), []byte("ch1")))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, l.unsubscribe(context.Background(), []byte("ch1")))
	time.Sleep(30 * time.Millisecond)

	var sawUnsubAck bool
	for _, ev := range rec.snapshot() {
		if ev.kind == eventUnsubscribeAck {
			sawUnsubAck = true
		}
	}
	assert.True(t, sawUnsubAck)
}

func TestListener_ReportsDisconnectExactlyOnce(t *testing.T) {
	mr, client := setupListenerTestRedis(t)

	var calls int
	var mu sync.Mutex
	done := make(chan struct{})

	l := newListener(context.Background(), client, 1, func(listenerEvent) {}, func(gen uint64, err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	})
	defer l.close()

	require.NoError(t, l.subscribe(context.Background(), []byte("ch1")))
	time.Sleep(30 * time.Millisecond)

	mr.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect report")
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}
