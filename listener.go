package redismpx

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ConnFactory obtains a connection the Multiplexer's Listener can own.
// Connection configuration (address, TLS, auth, sentinel/cluster awareness)
// is an opaque detail of the factory; the Multiplexer never inspects it.
type ConnFactory func(ctx context.Context) (*redis.Client, error)

// eventKind classifies one inbound RESP Pub/Sub frame.
type eventKind uint8

const (
	eventMessage eventKind = iota
	eventPMessage
	eventSubscribeAck
	eventPSubscribeAck
	eventUnsubscribeAck
	eventPUnsubscribeAck
)

// listenerEvent is the classified form of one frame read off the Listener's
// connection, tagged with the generation of the Listener that produced it so
// the Multiplexer can discard frames from a Listener it has already replaced.
type listenerEvent struct {
	gen     uint64
	kind    eventKind
	channel []byte
	pattern []byte
	payload []byte
}

// listener owns exactly one Redis connection and issues (P)SUBSCRIBE /
// (P)UNSUBSCRIBE on it. It never reconnects itself: any I/O or protocol error
// is reported exactly once via onDisconnect, after which the listener is
// terminal and must be replaced by the Multiplexer.
type listener struct {
	gen    uint64
	client *redis.Client
	pubsub *redis.PubSub

	onEvent      func(listenerEvent)
	onDisconnect func(gen uint64, err error)

	// writeMu serializes (P)SUBSCRIBE/(P)UNSUBSCRIBE so concurrent callers
	// observe FIFO command order on the wire, per spec §4.2.
	writeMu sync.Mutex

	cancel   context.CancelFunc
	doneOnce sync.Once
}

// newListener starts a listener bound to client, and immediately begins
// reading frames in its own goroutine. gen identifies this incarnation to the
// Multiplexer; onEvent and onDisconnect are invoked from the reader goroutine
// and must not block.
func newListener(ctx context.Context, client *redis.Client, gen uint64, onEvent func(listenerEvent), onDisconnect func(uint64, error)) *listener {
	ctx, cancel := context.WithCancel(ctx)
	l := &listener{
		gen:          gen,
		client:       client,
		pubsub:       client.Subscribe(ctx),
		onEvent:      onEvent,
		onDisconnect: onDisconnect,
		cancel:       cancel,
	}
	go l.readLoop(ctx)
	return l
}

func (l *listener) readLoop(ctx context.Context) {
	for {
		msg, err := l.pubsub.Receive(ctx)
		if err != nil {
			l.reportDisconnect(err)
			return
		}

		switch v := msg.(type) {
		case *redis.Subscription:
			l.onEvent(l.subscriptionEvent(v))
		case *redis.Message:
			l.onEvent(l.messageEvent(v))
		case *redis.Pong:
			// Health check reply; not part of the Pub/Sub dispatch surface.
		}
	}
}

func (l *listener) subscriptionEvent(sub *redis.Subscription) listenerEvent {
	ev := listenerEvent{gen: l.gen}
	switch sub.Kind {
	case "subscribe":
		ev.kind = eventSubscribeAck
		ev.channel = []byte(sub.Channel)
	case "unsubscribe":
		ev.kind = eventUnsubscribeAck
		ev.channel = []byte(sub.Channel)
	case "psubscribe":
		ev.kind = eventPSubscribeAck
		ev.pattern = []byte(sub.Channel)
	case "punsubscribe":
		ev.kind = eventPUnsubscribeAck
		ev.pattern = []byte(sub.Channel)
	}
	return ev
}

func (l *listener) messageEvent(msg *redis.Message) listenerEvent {
	if msg.Pattern != "" {
		return listenerEvent{
			gen:     l.gen,
			kind:    eventPMessage,
			pattern: []byte(msg.Pattern),
			channel: []byte(msg.Channel),
			payload: []byte(msg.Payload),
		}
	}
	return listenerEvent{
		gen:     l.gen,
		kind:    eventMessage,
		channel: []byte(msg.Channel),
		payload: []byte(msg.Payload),
	}
}

func (l *listener) reportDisconnect(err error) {
	l.doneOnce.Do(func() {
		l.onDisconnect(l.gen, err)
	})
}

func (l *listener) subscribe(ctx context.Context, channel []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.pubsub.Subscribe(ctx, string(channel))
}

func (l *listener) unsubscribe(ctx context.Context, channel []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.pubsub.Unsubscribe(ctx, string(channel))
}

func (l *listener) psubscribe(ctx context.Context, pattern []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.pubsub.PSubscribe(ctx, string(pattern))
}

func (l *listener) punsubscribe(ctx context.Context, pattern []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.pubsub.PUnsubscribe(ctx, string(pattern))
}

// close tears down the underlying connection and the client that owns it. It
// does not itself invoke onDisconnect: a listener being retired by the
// Multiplexer (on disconnect or on Multiplexer.Close) already knows it is
// going away.
func (l *listener) close() error {
	l.cancel()
	err := l.pubsub.Close()
	if err != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	if cerr := l.client.Close(); err == nil {
		err = cerr
	}
	return err
}
