package redismpx

import "sync"

// PatternSubscription is a single immutable Redis Pub/Sub glob pattern, fixed
// at construction. Matching is performed server-side by PSUBSCRIBE; on_message
// receives the real channel name that matched, never the pattern itself.
type PatternSubscription struct {
	mux     *Multiplexer
	id      uint64
	pattern []byte

	mu     sync.Mutex
	closed bool

	onMessage    MessageCallback
	onDisconnect DisconnectCallback
	onActivation ActivationCallback
}

func (ps *PatternSubscription) handleID() uint64 { return ps.id }

// Pattern returns the glob pattern this subscription was constructed with.
func (ps *PatternSubscription) Pattern() []byte {
	return append([]byte(nil), ps.pattern...)
}

// Close withdraws this subscription's interest in its pattern (issuing
// PUNSUBSCRIBE on the last reference) and refuses further dispatch.
// Idempotent.
func (ps *PatternSubscription) Close() {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return
	}
	ps.closed = true
	ps.mu.Unlock()

	ps.mux.removePattern(ps, ps.pattern)
	ps.mux.unregisterSub(ps)
}

func (ps *PatternSubscription) isClosed() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.closed
}

func (ps *PatternSubscription) deliverMessage(channel, payload []byte) {
	if ps.isClosed() {
		return
	}
	invokeMessage(ps.mux.logger, ps.onMessage, channel, payload)
}

func (ps *PatternSubscription) deliverActivation(pattern []byte) {
	if ps.isClosed() {
		return
	}
	invokeActivation(ps.mux.logger, ps.onActivation, pattern)
}

func (ps *PatternSubscription) deliverDisconnect(err error) {
	if ps.isClosed() {
		return
	}
	invokeDisconnect(ps.mux.logger, ps.onDisconnect, err)
}
