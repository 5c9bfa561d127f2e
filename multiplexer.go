package redismpx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// muxState is mutated only from the Multiplexer's run loop goroutine — the
// Go rendering of the spec's "single-threaded cooperative event loop"
// (§5). Every other goroutine reaches it exclusively through submit/submitAsync.
type muxState struct {
	channelRefs    map[string]refSet
	patternRefs    map[string]refSet
	activeChannels map[string]bool
	activePatterns map[string]bool
	allSubs        map[uint64]subscriptionHandle
	promiseSubs    map[uint64]*PromiseSubscription
	listener       *listener
	generation     uint64
	closed         bool
}

func newMuxState() *muxState {
	return &muxState{
		channelRefs:    make(map[string]refSet),
		patternRefs:    make(map[string]refSet),
		activeChannels: make(map[string]bool),
		activePatterns: make(map[string]bool),
		allSubs:        make(map[uint64]subscriptionHandle),
		promiseSubs:    make(map[uint64]*PromiseSubscription),
	}
}

// Multiplexer consolidates every local subscriber's interest onto one shared
// Redis Pub/Sub connection, reference-counts (P)SUBSCRIBE/(P)UNSUBSCRIBE so
// the connection only carries channels someone still cares about, and
// transparently reconnects with backoff.
type Multiplexer struct {
	opts    Options
	logger  *zap.Logger
	metrics *Metrics
	backoff *Backoff

	ctx    context.Context
	cancel context.CancelFunc

	cmdCh    chan func(*muxState)
	stopCh   chan struct{}
	loopDone chan struct{}

	idSeq uint64

	closeOnce sync.Once
}

// New constructs a Multiplexer and immediately begins establishing its first
// connection in the background via opts.ConnFactory. ctx bounds the
// Multiplexer's entire lifetime; cancelling it is equivalent to calling Close.
func New(ctx context.Context, opts Options) *Multiplexer {
	opts = opts.withDefaults()
	loopCtx, cancel := context.WithCancel(ctx)

	m := &Multiplexer{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		backoff:  NewBackoff(opts.Backoff),
		ctx:      loopCtx,
		cancel:   cancel,
		cmdCh:    make(chan func(*muxState)),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	go m.run()
	go func() {
		select {
		case <-loopCtx.Done():
			m.Close()
		case <-m.loopDone:
		}
	}()
	m.startReconnectLoop(0)
	return m
}

func (m *Multiplexer) run() {
	state := newMuxState()
	defer close(m.loopDone)
	for {
		select {
		case fn := <-m.cmdCh:
			fn(state)
		case <-m.stopCh:
			return
		}
	}
}

// submit hands fn to the run loop and blocks until it has executed, giving
// the caller a synchronous view of the mutation — the Go rendering of the
// spec's "synchronous, non-blocking, loop-local mutations" for add/remove/
// close. Safe to call after the Multiplexer has stopped: fn is silently
// dropped rather than deadlocking.
func (m *Multiplexer) submit(fn func(*muxState)) {
	done := make(chan struct{})
	select {
	case m.cmdCh <- func(s *muxState) { fn(s); close(done) }:
		<-done
	case <-m.loopDone:
	}
}

// submitAsync hands fn to the run loop without waiting for it to execute. It
// is used exclusively by a Listener's own reader goroutine to forward
// classified frames and disconnect reports; the blocking channel send still
// gives per-event backpressure and in-order delivery (§5's ordering
// guarantees) without making the reader goroutine wait out the handler.
func (m *Multiplexer) submitAsync(fn func(*muxState)) {
	select {
	case m.cmdCh <- fn:
	case <-m.loopDone:
	}
}

func (m *Multiplexer) nextHandleID() uint64 {
	return atomic.AddUint64(&m.idSeq, 1)
}

// NewChannelSubscription returns a fresh ChannelSubscription with an empty
// local channel set. Channels are declared via ChannelSubscription.Add.
func (m *Multiplexer) NewChannelSubscription(onMessage MessageCallback, onDisconnect DisconnectCallback, onActivation ActivationCallback) *ChannelSubscription {
	cs := &ChannelSubscription{
		mux:          m,
		id:           m.nextHandleID(),
		channels:     make(map[string][]byte),
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
		onActivation: onActivation,
	}
	m.registerSub(cs)
	return cs
}

// NewPatternSubscription returns a PatternSubscription fixed to pattern for
// its whole lifetime and immediately declares interest in it (PSUBSCRIBE).
func (m *Multiplexer) NewPatternSubscription(pattern []byte, onMessage MessageCallback, onDisconnect DisconnectCallback, onActivation ActivationCallback) *PatternSubscription {
	ps := &PatternSubscription{
		mux:          m,
		id:           m.nextHandleID(),
		pattern:      append([]byte(nil), pattern...),
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
		onActivation: onActivation,
	}
	m.registerSub(ps)
	m.addPattern(ps, ps.pattern)
	return ps
}

// NewPromiseSubscription returns a PromiseSubscription listening for messages
// on any channel named prefix+suffix, via an internal PatternSubscription on
// prefix+"*".
func (m *Multiplexer) NewPromiseSubscription(prefix []byte) *PromiseSubscription {
	ps := newPromiseSubscription(m, prefix)
	m.registerPromiseSub(ps)
	return ps
}

func (m *Multiplexer) registerPromiseSub(ps *PromiseSubscription) {
	m.submit(func(s *muxState) {
		if s.closed {
			return
		}
		s.promiseSubs[ps.id] = ps
	})
}

func (m *Multiplexer) unregisterPromiseSub(ps *PromiseSubscription) {
	m.submit(func(s *muxState) {
		delete(s.promiseSubs, ps.id)
	})
}

// Close closes every registered subscription (including every
// PromiseSubscription, which Multiplexer tracks separately from the
// channel/pattern handles in allSubs since it is not itself a
// subscriptionHandle), terminates the Listener, and stops the reconnect loop.
// Idempotent.
func (m *Multiplexer) Close() {
	m.closeOnce.Do(func() {
		m.cancel()

		var subs []subscriptionHandle
		var promiseSubs []*PromiseSubscription
		m.submit(func(s *muxState) {
			s.closed = true
			for _, h := range s.allSubs {
				subs = append(subs, h)
			}
			for _, ps := range s.promiseSubs {
				promiseSubs = append(promiseSubs, ps)
			}
		})

		for _, ps := range promiseSubs {
			ps.Close()
		}
		for _, h := range subs {
			h.Close()
		}

		m.submit(func(s *muxState) {
			if s.listener != nil {
				_ = s.listener.close()
				s.listener = nil
			}
		})

		close(m.stopCh)
		<-m.loopDone
	})
}

func (m *Multiplexer) registerSub(h subscriptionHandle) {
	m.submit(func(s *muxState) {
		if s.closed {
			return
		}
		s.allSubs[h.handleID()] = h
	})
}

func (m *Multiplexer) unregisterSub(h subscriptionHandle) {
	m.submit(func(s *muxState) {
		delete(s.allSubs, h.handleID())
	})
}

// addChannel implements the refcount protocol of §4.3 for exact channels.
func (m *Multiplexer) addChannel(h subscriptionHandle, channel []byte) {
	m.submit(func(s *muxState) {
		if s.closed {
			return
		}
		key := string(channel)
		set, ok := s.channelRefs[key]
		if !ok {
			set = newRefSet()
			s.channelRefs[key] = set
			set.add(h)
			m.metrics.setActiveChannelRefs(len(s.channelRefs))
			if s.listener != nil {
				if err := s.listener.subscribe(m.ctx, channel); err != nil {
					m.logger.Error("redismpx: subscribe failed", zap.Error(err), zap.ByteString("channel", channel))
				} else {
					m.metrics.incCommand("subscribe")
				}
			}
			return
		}
		if set.has(h) {
			return
		}
		set.add(h)
		if s.activeChannels[key] {
			h.deliverActivation(channel)
		}
	})
}

func (m *Multiplexer) removeChannel(h subscriptionHandle, channel []byte) {
	m.submit(func(s *muxState) {
		key := string(channel)
		set, ok := s.channelRefs[key]
		if !ok || !set.has(h) {
			return
		}
		set.remove(h)
		if len(set) == 0 {
			delete(s.channelRefs, key)
			delete(s.activeChannels, key)
			m.metrics.setActiveChannelRefs(len(s.channelRefs))
			if s.listener != nil {
				if err := s.listener.unsubscribe(m.ctx, channel); err != nil {
					m.logger.Error("redismpx: unsubscribe failed", zap.Error(err), zap.ByteString("channel", channel))
				} else {
					m.metrics.incCommand("unsubscribe")
				}
			}
		}
	})
}

// addPattern/removePattern mirror addChannel/removeChannel for PSUBSCRIBE.
func (m *Multiplexer) addPattern(h subscriptionHandle, pattern []byte) {
	m.submit(func(s *muxState) {
		if s.closed {
			return
		}
		key := string(pattern)
		set, ok := s.patternRefs[key]
		if !ok {
			set = newRefSet()
			s.patternRefs[key] = set
			set.add(h)
			m.metrics.setActivePatternRefs(len(s.patternRefs))
			if s.listener != nil {
				if err := s.listener.psubscribe(m.ctx, pattern); err != nil {
					m.logger.Error("redismpx: psubscribe failed", zap.Error(err), zap.ByteString("pattern", pattern))
				} else {
					m.metrics.incCommand("psubscribe")
				}
			}
			return
		}
		if set.has(h) {
			return
		}
		set.add(h)
		if s.activePatterns[key] {
			h.deliverActivation(pattern)
		}
	})
}

func (m *Multiplexer) removePattern(h subscriptionHandle, pattern []byte) {
	m.submit(func(s *muxState) {
		key := string(pattern)
		set, ok := s.patternRefs[key]
		if !ok || !set.has(h) {
			return
		}
		set.remove(h)
		if len(set) == 0 {
			delete(s.patternRefs, key)
			delete(s.activePatterns, key)
			m.metrics.setActivePatternRefs(len(s.patternRefs))
			if s.listener != nil {
				if err := s.listener.punsubscribe(m.ctx, pattern); err != nil {
					m.logger.Error("redismpx: punsubscribe failed", zap.Error(err), zap.ByteString("pattern", pattern))
				} else {
					m.metrics.incCommand("punsubscribe")
				}
			}
		}
	})
}

// onListenerEvent is the Listener's event sink, invoked from its reader
// goroutine. It does not wait for its own event to be dispatched, but the
// hand-off blocks until the run loop is free, which includes any sync
// callback still running for an earlier event. Dispatch happens inline on
// the run loop: fast map work plus (for sync callbacks) whatever the
// caller's handler does — async callbacks are off-loaded to their own
// goroutine before dispatch returns.
func (m *Multiplexer) onListenerEvent(ev listenerEvent) {
	m.submitAsync(func(s *muxState) { m.handleEvent(s, ev) })
}

func (m *Multiplexer) onListenerDisconnect(gen uint64, err error) {
	m.submitAsync(func(s *muxState) { m.handleDisconnect(s, gen, err) })
}

func (m *Multiplexer) handleEvent(s *muxState, ev listenerEvent) {
	if s.closed || ev.gen != s.generation {
		return
	}
	switch ev.kind {
	case eventMessage:
		if set, ok := s.channelRefs[string(ev.channel)]; ok {
			for _, h := range set.snapshot() {
				h.deliverMessage(ev.channel, ev.payload)
			}
		}
	case eventPMessage:
		if set, ok := s.patternRefs[string(ev.pattern)]; ok {
			for _, h := range set.snapshot() {
				h.deliverMessage(ev.channel, ev.payload)
			}
		}
	case eventSubscribeAck:
		key := string(ev.channel)
		if set, ok := s.channelRefs[key]; ok {
			s.activeChannels[key] = true
			for _, h := range set.snapshot() {
				h.deliverActivation(ev.channel)
			}
		}
	case eventPSubscribeAck:
		key := string(ev.pattern)
		if set, ok := s.patternRefs[key]; ok {
			s.activePatterns[key] = true
			for _, h := range set.snapshot() {
				h.deliverActivation(ev.pattern)
			}
		}
	case eventUnsubscribeAck, eventPUnsubscribeAck:
		// Accepted; dispatch does not act on unsubscribe acks (§4.3).
	}
}

// handleDisconnect implements §4.3's disconnect handling: bump the
// generation, clear per-generation activation marks, notify every live
// subscription exactly once, and kick off the reconnect loop.
func (m *Multiplexer) handleDisconnect(s *muxState, gen uint64, err error) {
	if s.closed || gen != s.generation {
		return
	}
	m.metrics.incDisconnects()
	s.generation++
	s.activeChannels = make(map[string]bool)
	s.activePatterns = make(map[string]bool)
	if s.listener != nil {
		_ = s.listener.close()
		s.listener = nil
	}

	connErr := newConnectionError(err)
	for _, h := range s.allSubs {
		h.deliverDisconnect(connErr)
	}

	m.startReconnectLoop(s.generation)
}

// startReconnectLoop repeatedly invokes the connection factory until it
// succeeds or the Multiplexer is closed, waiting Backoff.Next() between
// attempts. On success it installs the new Listener and re-declares every
// channel/pattern still referenced, exactly once each, per §4.3 step 4.
func (m *Multiplexer) startReconnectLoop(gen uint64) {
	go func() {
		for {
			select {
			case <-m.ctx.Done():
				return
			default:
			}

			client, err := m.opts.ConnFactory(m.ctx)
			if err == nil {
				// go-redis clients connect lazily; an unreachable server must
				// count as a failed attempt, not as a new generation.
				if perr := client.Ping(m.ctx).Err(); perr != nil {
					_ = client.Close()
					err = perr
				}
			}
			if err != nil {
				m.logger.Warn("redismpx: connect attempt failed", zap.Error(err))
				delay := m.backoff.Next()
				m.metrics.observeReconnectDelaySeconds(delay.Seconds())
				select {
				case <-m.ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}

			installed := false
			m.submit(func(s *muxState) {
				if s.closed || s.generation != gen {
					_ = client.Close()
					return
				}
				l := newListener(m.ctx, client, gen, m.onListenerEvent, m.onListenerDisconnect)
				s.listener = l
				for key := range s.channelRefs {
					if err := l.subscribe(m.ctx, []byte(key)); err != nil {
						m.logger.Error("redismpx: resubscribe failed", zap.Error(err), zap.String("channel", key))
					} else {
						m.metrics.incCommand("subscribe")
					}
				}
				for key := range s.patternRefs {
					if err := l.psubscribe(m.ctx, []byte(key)); err != nil {
						m.logger.Error("redismpx: re-psubscribe failed", zap.Error(err), zap.String("pattern", key))
					} else {
						m.metrics.incCommand("psubscribe")
					}
				}
				installed = true
			})

			if installed {
				m.backoff.Reset()
				if gen > 0 {
					m.metrics.incReconnects()
				}
				m.logger.Info("redismpx: connected", zap.Uint64("generation", gen))
			}
			return
		}
	}()
}
