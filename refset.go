package redismpx

// subscriptionHandle is whatever the Multiplexer registers in channel_refs /
// pattern_refs: a ChannelSubscription, a PatternSubscription, or the inner
// PatternSubscription a PromiseSubscription owns. Identity is by handleID,
// not by Go equality, since callbacks are stored by value inside each handle.
type subscriptionHandle interface {
	handleID() uint64
	deliverMessage(channel, payload []byte)
	deliverActivation(name []byte)
	deliverDisconnect(err error)
	// Close is idempotent; Multiplexer.Close calls it on every still
	// registered handle while tearing down.
	Close()
}

// refSet is the non-empty-by-construction set of handles interested in one
// channel or pattern. The Multiplexer deletes the map entry entirely rather
// than ever holding an empty refSet, per the data model's invariant 3.
type refSet map[uint64]subscriptionHandle

func newRefSet() refSet {
	return make(refSet)
}

func (s refSet) add(h subscriptionHandle) {
	s[h.handleID()] = h
}

func (s refSet) remove(h subscriptionHandle) {
	delete(s, h.handleID())
}

func (s refSet) has(h subscriptionHandle) bool {
	_, ok := s[h.handleID()]
	return ok
}

// snapshot copies the set into a slice for dispatch to iterate. Iteration
// order is unspecified. Add/remove commands issued by async callbacks run
// on the loop only after the current dispatch has finished.
func (s refSet) snapshot() []subscriptionHandle {
	out := make([]subscriptionHandle, 0, len(s))
	for _, h := range s {
		out = append(out, h)
	}
	return out
}
