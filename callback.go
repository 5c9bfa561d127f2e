package redismpx

import "go.uber.org/zap"

// callbackKind tags how a Callback must be invoked.
type callbackKind uint8

const (
	callbackNil callbackKind = iota
	callbackSync
	callbackAsync
)

// Callback is a user-supplied hook of one of the three shapes redismpx
// invokes: MessageFunc, DisconnectFunc or ActivationFunc. It is tagged sync
// or async at construction time — Sync wraps a function run inline on the
// Multiplexer's dispatch loop (so it must be fast and must not call back into
// the subscription that owns it), Async wraps one run in its own goroutine.
// The zero value is "not interested": dispatch is a no-op.
//
// A panic escaping either shape is recovered and logged; it never reaches the
// Multiplexer's own goroutine.
type Callback[F any] struct {
	kind callbackKind
	fn   F
}

// Sync tags fn to be invoked inline, synchronously, by the dispatch loop.
func Sync[F any](fn F) Callback[F] {
	return Callback[F]{kind: callbackSync, fn: fn}
}

// Async tags fn to be invoked in its own goroutine, never blocking dispatch.
func Async[F any](fn F) Callback[F] {
	return Callback[F]{kind: callbackAsync, fn: fn}
}

func (c Callback[F]) isSet() bool {
	return c.kind != callbackNil
}

// MessageFunc receives a delivered Pub/Sub payload for a channel. For a
// PatternSubscription, channel is the real message channel that matched the
// pattern, not the pattern itself.
type MessageFunc func(channel, payload []byte)

// DisconnectFunc is notified once per generation when the shared Redis
// connection is lost. The subscription remains live; its local interest set
// is preserved and re-declared once the Multiplexer reconnects.
type DisconnectFunc func(err error)

// ActivationFunc is notified once per generation when a (P)SUBSCRIBE this
// subscription depends on has been acknowledged by Redis.
type ActivationFunc func(name []byte)

// MessageCallback, DisconnectCallback and ActivationCallback are the three
// tagged callback shapes accepted by New*Subscription constructors.
type (
	MessageCallback    = Callback[MessageFunc]
	DisconnectCallback = Callback[DisconnectFunc]
	ActivationCallback = Callback[ActivationFunc]
)

// dispatch runs fn inline for a sync callback, or in its own goroutine for an
// async one, recovering and logging any panic either way.
func dispatch(logger *zap.Logger, kind callbackKind, fn func()) {
	runner := func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("recovered panic in subscription callback", zap.Any("panic", r))
				}
			}
		}()
		fn()
	}
	if kind == callbackAsync {
		go runner()
		return
	}
	runner()
}

func invokeMessage(logger *zap.Logger, cb MessageCallback, channel, payload []byte) {
	if !cb.isSet() || cb.fn == nil {
		return
	}
	dispatch(logger, cb.kind, func() { cb.fn(channel, payload) })
}

func invokeDisconnect(logger *zap.Logger, cb DisconnectCallback, err error) {
	if !cb.isSet() || cb.fn == nil {
		return
	}
	dispatch(logger, cb.kind, func() { cb.fn(err) })
}

func invokeActivation(logger *zap.Logger, cb ActivationCallback, name []byte) {
	if !cb.isSet() || cb.fn == nil {
		return
	}
	dispatch(logger, cb.kind, func() { cb.fn(name) })
}
