package redismpx

import (
	"context"
	"sync"
	"time"
)

// Promise is a single-use, timed rendezvous with the next Pub/Sub message on
// one channel (a PromiseSubscription's prefix plus a caller-chosen suffix).
// It has exactly one terminal state: Resolved (Await returns the payload and
// a nil error), TimedOut (Await returns ErrTimedOut), or Cancelled (Await
// returns ErrCancelled) — whichever happens first.
type Promise struct {
	ps      *PromiseSubscription
	suffix  []byte
	timeout time.Duration
	timer   *time.Timer

	done chan struct{}

	mu       sync.Mutex
	terminal bool
	payload  []byte
	err      error
}

func newPromise(ps *PromiseSubscription, suffix []byte, timeout time.Duration) *Promise {
	p := &Promise{
		ps:      ps,
		suffix:  append([]byte(nil), suffix...),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	p.timer = time.AfterFunc(timeout, p.fireTimeout)
	return p
}

// Suffix returns the caller-chosen rendezvous token this Promise was created
// with; the channel it listens on is the owning PromiseSubscription's prefix
// plus this suffix.
func (p *Promise) Suffix() []byte {
	return append([]byte(nil), p.suffix...)
}

// Await blocks until the Promise resolves, times out, is cancelled, or ctx is
// done. A done ctx both returns ctx.Err() and cancels the Promise — it never
// leaves it dangling in the pending set.
func (p *Promise) Await(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		payload, err := p.payload, p.err
		p.mu.Unlock()
		return payload, err
	case <-ctx.Done():
		p.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel detaches the Promise from its PromiseSubscription without affecting
// any other pending Promise, and completes it with ErrCancelled. A no-op if
// the Promise has already reached a terminal state.
func (p *Promise) Cancel() {
	if !p.markTerminal(nil, ErrCancelled) {
		return
	}
	p.timer.Stop()
	p.ps.detach(p)
	p.ps.mux.metrics.incPendingPromises(-1)
	p.ps.mux.metrics.incPromiseOutcome("cancelled")
}

// resolveWith completes the Promise with a delivered payload. The caller
// (PromiseSubscription.onInnerMessage) has already detached p from the
// pending set before calling this.
func (p *Promise) resolveWith(payload []byte) {
	if !p.markTerminal(append([]byte(nil), payload...), nil) {
		return
	}
	p.timer.Stop()
	p.ps.mux.metrics.incPendingPromises(-1)
	p.ps.mux.metrics.incPromiseOutcome("resolved")
}

// cancelWith completes the Promise with err (ErrCancelled from a disconnect
// or subscription Close). The caller has already detached the whole pending
// set p belonged to before calling this.
func (p *Promise) cancelWith(err error) {
	if !p.markTerminal(nil, err) {
		return
	}
	p.timer.Stop()
	p.ps.mux.metrics.incPendingPromises(-1)
	p.ps.mux.metrics.incPromiseOutcome("cancelled")
}

// fireTimeout is the time.AfterFunc callback. Unlike resolveWith/cancelWith,
// it must detach itself: nothing else removed it from the pending set.
func (p *Promise) fireTimeout() {
	if !p.markTerminal(nil, ErrTimedOut) {
		return
	}
	p.ps.detach(p)
	p.ps.mux.metrics.incPendingPromises(-1)
	p.ps.mux.metrics.incPromiseOutcome("timed_out")
}

// markTerminal reports whether this call is the one that wins the race to
// complete p — at most one of resolveWith/cancelWith/fireTimeout/Cancel ever
// succeeds.
func (p *Promise) markTerminal(payload []byte, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal {
		return false
	}
	p.terminal = true
	p.payload = payload
	p.err = err
	close(p.done)
	return true
}
