package redismpx

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// PromiseSubscription layers the request/response rendezvous pattern over an
// internal PatternSubscription on prefix+"*". A caller creates a Promise for
// a suffix it expects a reply on (e.g. a request ID), publishes the request,
// and awaits the Promise; the next message on prefix+suffix resolves every
// Promise currently pending for that suffix, in the order they were created.
type PromiseSubscription struct {
	mux    *Multiplexer
	id     uint64
	prefix []byte
	inner  *PatternSubscription

	mu      sync.Mutex
	active  bool
	closed  bool
	pending map[string][]*Promise

	waiterSeq         uint64
	activationWaiters map[uint64]chan struct{}
	newPromiseWaiters map[uint64]chan struct{}
}

func newPromiseSubscription(mux *Multiplexer, prefix []byte) *PromiseSubscription {
	ps := &PromiseSubscription{
		mux:               mux,
		id:                mux.nextHandleID(),
		prefix:            append([]byte(nil), prefix...),
		pending:           make(map[string][]*Promise),
		activationWaiters: make(map[uint64]chan struct{}),
		newPromiseWaiters: make(map[uint64]chan struct{}),
	}

	pattern := make([]byte, 0, len(prefix)+1)
	pattern = append(pattern, prefix...)
	pattern = append(pattern, '*')

	ps.inner = mux.NewPatternSubscription(
		pattern,
		Sync[MessageFunc](ps.onInnerMessage),
		Sync[DisconnectFunc](ps.onInnerDisconnect),
		Sync[ActivationFunc](ps.onInnerActivation),
	)
	return ps
}

// Prefix returns the channel prefix this PromiseSubscription was constructed
// with; Promises are created against prefix+suffix.
func (ps *PromiseSubscription) Prefix() []byte {
	return append([]byte(nil), ps.prefix...)
}

// WaitForActivation blocks until the underlying PSUBSCRIBE has been
// acknowledged by Redis at least once since the most recent (re)connect, the
// subscription is closed, or ctx is done. A disconnect that happens while a
// caller is already active does not wake a concurrent WaitForActivation
// caller that starts waiting afterward — reactivation does.
func (ps *PromiseSubscription) WaitForActivation(ctx context.Context) error {
	for {
		ps.mu.Lock()
		if ps.closed {
			ps.mu.Unlock()
			return ErrSubscriptionClosed
		}
		if ps.active {
			ps.mu.Unlock()
			return nil
		}
		id := ps.waiterSeq
		ps.waiterSeq++
		ch := make(chan struct{})
		ps.activationWaiters[id] = ch
		ps.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			ps.mu.Lock()
			delete(ps.activationWaiters, id)
			ps.mu.Unlock()
			return ctx.Err()
		}
	}
}

// NewPromise creates a Promise for suffix, pending immediately. It fails with
// ErrInactiveSubscription if the pattern is not currently active (disconnected
// or never yet acknowledged) and with ErrSubscriptionClosed once Close has
// been called.
func (ps *PromiseSubscription) NewPromise(suffix []byte, timeout time.Duration) (*Promise, error) {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil, ErrSubscriptionClosed
	}
	if !ps.active {
		ps.mu.Unlock()
		return nil, ErrInactiveSubscription
	}
	p := newPromise(ps, suffix, timeout)
	key := string(p.suffix)
	ps.pending[key] = append(ps.pending[key], p)
	ps.mu.Unlock()

	ps.mux.metrics.incPendingPromises(1)
	return p, nil
}

// WaitForNewPromise is NewPromise composed with WaitForActivation: if the
// subscription is not currently active it waits for the next activation (or
// failure) instead of returning ErrInactiveSubscription immediately. It is
// atomic with respect to a concurrent disconnect or Close — it always either
// returns a live Promise or a terminal error, never a Promise that was
// silently dropped by a race.
func (ps *PromiseSubscription) WaitForNewPromise(ctx context.Context, suffix []byte, timeout time.Duration) (*Promise, error) {
	for {
		ps.mu.Lock()
		if ps.closed {
			ps.mu.Unlock()
			return nil, ErrSubscriptionClosed
		}
		if ps.active {
			ps.mu.Unlock()
			return ps.NewPromise(suffix, timeout)
		}
		id := ps.waiterSeq
		ps.waiterSeq++
		ch := make(chan struct{})
		ps.newPromiseWaiters[id] = ch
		ps.mu.Unlock()

		select {
		case <-ch:
			ps.mu.Lock()
			closed, active := ps.closed, ps.active
			ps.mu.Unlock()
			if closed {
				return nil, ErrSubscriptionClosed
			}
			if active {
				continue
			}
			return nil, ErrCancelled
		case <-ctx.Done():
			ps.mu.Lock()
			delete(ps.newPromiseWaiters, id)
			ps.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// Close cancels every pending Promise, releases every waiter (activation
// waiters and new-promise waiters alike, with ErrSubscriptionClosed visible
// to the latter), and withdraws the underlying pattern subscription.
// Idempotent.
func (ps *PromiseSubscription) Close() {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return
	}
	ps.closed = true
	pending := ps.pending
	ps.pending = nil
	aw := ps.activationWaiters
	nw := ps.newPromiseWaiters
	ps.activationWaiters = nil
	ps.newPromiseWaiters = nil
	ps.mu.Unlock()

	for _, list := range pending {
		for _, p := range list {
			p.cancelWith(ErrCancelled)
		}
	}
	for _, ch := range aw {
		close(ch)
	}
	for _, ch := range nw {
		close(ch)
	}

	ps.inner.Close()
	ps.mux.unregisterPromiseSub(ps)
}

// detach removes a single Promise from the pending set without disturbing
// any other Promise pending on the same suffix. Used by Promise.Cancel and by
// the timeout path, where nothing else has already detached the Promise.
func (ps *PromiseSubscription) detach(p *Promise) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	key := string(p.suffix)
	list := ps.pending[key]
	for i, q := range list {
		if q == p {
			ps.pending[key] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(ps.pending[key]) == 0 {
		delete(ps.pending, key)
	}
}

// onInnerMessage is the internal PatternSubscription's on_message callback.
// It resolves every Promise pending on the message's suffix, in the order
// they were created, then clears that suffix's pending set entirely.
func (ps *PromiseSubscription) onInnerMessage(channel, payload []byte) {
	if !bytes.HasPrefix(channel, ps.prefix) {
		return
	}
	suffix := channel[len(ps.prefix):]
	key := string(suffix)

	ps.mu.Lock()
	list := ps.pending[key]
	delete(ps.pending, key)
	ps.mu.Unlock()

	for _, p := range list {
		p.resolveWith(payload)
	}
}

// onInnerActivation marks the subscription active and releases every
// activation waiter and every new-promise waiter.
func (ps *PromiseSubscription) onInnerActivation([]byte) {
	ps.mu.Lock()
	ps.active = true
	aw := ps.activationWaiters
	nw := ps.newPromiseWaiters
	ps.activationWaiters = make(map[uint64]chan struct{})
	ps.newPromiseWaiters = make(map[uint64]chan struct{})
	ps.mu.Unlock()

	for _, ch := range aw {
		close(ch)
	}
	for _, ch := range nw {
		close(ch)
	}
}

// onInnerDisconnect marks the subscription inactive, cancels every pending
// Promise and every new-promise waiter (both fail with ErrCancelled), and
// leaves activation waiters blocked until reactivation or Close.
func (ps *PromiseSubscription) onInnerDisconnect(error) {
	ps.mu.Lock()
	ps.active = false
	pending := ps.pending
	ps.pending = make(map[string][]*Promise)
	nw := ps.newPromiseWaiters
	ps.newPromiseWaiters = make(map[uint64]chan struct{})
	ps.mu.Unlock()

	for _, list := range pending {
		for _, p := range list {
			p.cancelWith(ErrCancelled)
		}
	}
	for _, ch := range nw {
		close(ch)
	}
}
