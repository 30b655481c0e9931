package rocket

// streamRecord is the registry's bookkeeping entry for one active stream.
type streamRecord struct {
	id         StreamID
	subscriber *StreamSubscriber
}

// StreamRegistry maps stream IDs to active stream records, plus a second map
// of FrameContexts parked while awaiting continuation fragments. All
// operations run on the owning ConnectionCore's event-loop goroutine and
// require no locking (§5).
type StreamRegistry struct {
	streams       map[StreamID]*streamRecord
	partialFrames map[StreamID]*FrameContext
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		streams:       make(map[StreamID]*streamRecord),
		partialFrames: make(map[StreamID]*FrameContext),
	}
}

// Insert adds a new stream record. It returns false if id is already
// present — the caller (ConnectionCore) must treat that as a protocol
// violation (INVALID) per the duplicate-insertion policy.
func (r *StreamRegistry) Insert(id StreamID, sub *StreamSubscriber) bool {
	if _, exists := r.streams[id]; exists {
		return false
	}
	r.streams[id] = &streamRecord{id: id, subscriber: sub}
	return true
}

// Lookup returns the subscriber for id, or nil if absent.
func (r *StreamRegistry) Lookup(id StreamID) *StreamSubscriber {
	rec, ok := r.streams[id]
	if !ok {
		return nil
	}
	return rec.subscriber
}

// Remove drops id from the registry. It is a no-op if id is absent.
func (r *StreamRegistry) Remove(id StreamID) {
	delete(r.streams, id)
}

// Len reports the number of active streams.
func (r *StreamRegistry) Len() int {
	return len(r.streams)
}

// ForEach invokes fn for every active stream, in an order-independent sweep.
// Used for shutdown: ConnectionCore.closeIfNeeded cancels every stream this
// way before transitioning to CLOSED.
func (r *StreamRegistry) ForEach(fn func(id StreamID, sub *StreamSubscriber)) {
	for id, rec := range r.streams {
		fn(id, rec.subscriber)
	}
}

// ParkPartial records a FrameContext awaiting further fragments (the
// request's initial frame had FlagFollows set).
func (r *StreamRegistry) ParkPartial(id StreamID, ctx *FrameContext) {
	r.partialFrames[id] = ctx
}

// LookupPartial returns the parked FrameContext for id, or nil if none.
func (r *StreamRegistry) LookupPartial(id StreamID) *FrameContext {
	return r.partialFrames[id]
}

// RemovePartial drops the parked FrameContext for id, if any.
func (r *StreamRegistry) RemovePartial(id StreamID) {
	delete(r.partialFrames, id)
}

// PartialLen reports the number of FrameContexts currently parked awaiting
// a continuation fragment.
func (r *StreamRegistry) PartialLen() int {
	return len(r.partialFrames)
}

// DrainPartials removes and returns every parked FrameContext, used when
// tearing a connection down so each one's inflight slot can be released.
func (r *StreamRegistry) DrainPartials() []*FrameContext {
	if len(r.partialFrames) == 0 {
		return nil
	}
	ctxs := make([]*FrameContext, 0, len(r.partialFrames))
	for _, ctx := range r.partialFrames {
		ctxs = append(ctxs, ctx)
	}
	r.partialFrames = make(map[StreamID]*FrameContext)
	return ctxs
}
