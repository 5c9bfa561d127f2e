package redismpx

import "sync"

// ChannelSubscription is a per-client set of exact Redis Pub/Sub channel
// names. Channels can be added and removed at any time; the Multiplexer
// issues SUBSCRIBE on the shared connection only on the 0→1 and UNSUBSCRIBE
// only on the 1→0 refcount transitions across every ChannelSubscription that
// exists.
type ChannelSubscription struct {
	mux *Multiplexer
	id  uint64

	mu       sync.Mutex
	channels map[string][]byte // local set, keyed by string(channel)
	closed   bool

	onMessage    MessageCallback
	onDisconnect DisconnectCallback
	onActivation ActivationCallback
}

func (cs *ChannelSubscription) handleID() uint64 { return cs.id }

// Add declares interest in channel. A no-op if channel is already present in
// this subscription's local set (idempotent: no duplicate activation, no
// second SUBSCRIBE) or if the subscription is closed.
func (cs *ChannelSubscription) Add(channel []byte) {
	key := string(channel)

	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	if _, ok := cs.channels[key]; ok {
		cs.mu.Unlock()
		return
	}
	cs.channels[key] = append([]byte(nil), channel...)
	cs.mu.Unlock()

	cs.mux.addChannel(cs, channel)
}

// Remove withdraws interest in channel. A no-op if channel is not present.
func (cs *ChannelSubscription) Remove(channel []byte) {
	key := string(channel)

	cs.mu.Lock()
	if _, ok := cs.channels[key]; !ok {
		cs.mu.Unlock()
		return
	}
	delete(cs.channels, key)
	cs.mu.Unlock()

	cs.mux.removeChannel(cs, channel)
}

// Close removes every channel this subscription holds (decrementing
// Multiplexer refcounts, issuing UNSUBSCRIBE on 1→0 transitions) and refuses
// subsequent Add/Remove. Idempotent.
func (cs *ChannelSubscription) Close() {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	channels := make([][]byte, 0, len(cs.channels))
	for _, b := range cs.channels {
		channels = append(channels, b)
	}
	cs.channels = nil
	cs.mu.Unlock()

	for _, ch := range channels {
		cs.mux.removeChannel(cs, ch)
	}
	cs.mux.unregisterSub(cs)
}

// deliverMessage is called from the Multiplexer's dispatch loop. It
// re-checks membership in the local set at delivery time, per §4.4: a
// Remove(ch) that has already returned must not produce further on_message
// for ch on this handle, even if a message for ch was already in flight.
func (cs *ChannelSubscription) deliverMessage(channel, payload []byte) {
	cs.mu.Lock()
	_, stillWanted := cs.channels[string(channel)]
	cb := cs.onMessage
	cs.mu.Unlock()

	if !stillWanted {
		return
	}
	invokeMessage(cs.mux.logger, cb, channel, payload)
}

func (cs *ChannelSubscription) deliverActivation(channel []byte) {
	cs.mu.Lock()
	_, stillWanted := cs.channels[string(channel)]
	cb := cs.onActivation
	cs.mu.Unlock()

	if !stillWanted {
		return
	}
	invokeActivation(cs.mux.logger, cb, channel)
}

func (cs *ChannelSubscription) deliverDisconnect(err error) {
	cs.mu.Lock()
	closed := cs.closed
	cb := cs.onDisconnect
	cs.mu.Unlock()

	if closed {
		return
	}
	invokeDisconnect(cs.mux.logger, cb, err)
}
