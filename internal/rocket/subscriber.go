package rocket

import "math"

// maxBufferedItems is the soft per-stream buffer bound for demand overruns
// (spec §9 Open Question: "not explicit in the source; implementations MUST
// choose and document one"). A producer that pushes OnNext faster than the
// peer grants REQUEST_N credit may get up to this many items buffered before
// the stream is dropped to Erred with APPLICATION_ERROR.
const maxBufferedItems = 256

// SubscriberState is the per-stream outbound state machine (§4.3).
type SubscriberState int

const (
	StatePendingDemand SubscriberState = iota
	StateProducing
	StateCompleting
	StateCancelled
	StateErred
	StateTerminal
)

func (s SubscriberState) String() string {
	switch s {
	case StatePendingDemand:
		return "PendingDemand"
	case StateProducing:
		return "Producing"
	case StateCompleting:
		return "Completing"
	case StateCancelled:
		return "Cancelled"
	case StateErred:
		return "Erred"
	case StateTerminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// Subscription is the handle a StreamSubscriber holds on the application
// producer it is driving. Request/Cancel flow from the subscriber to the
// producer; the producer pushes back via OnNext/OnComplete/OnError on the
// StreamSubscriber itself. This is the Go shape of the reactive-streams
// Publisher/Subscriber/Subscription triangle the original boost::Flowable
// source uses.
type Subscription interface {
	// Request signals the producer that n additional items may be pushed.
	Request(n uint32)
	// Cancel tells the producer to stop; called at most once.
	Cancel()
}

// frameSink is the subset of ConnectionCore a StreamSubscriber needs: enqueue
// an outbound frame and retire the stream from the registry.
type frameSink interface {
	enqueueWrite(Frame)
	retireStream(StreamID)
}

// StreamSubscriber is the per-stream outbound state machine driving a lazy
// producer of payloads (§4.3). It is created by ConnectionCore when a
// REQUEST_STREAM frame is dispatched and handed to the application handler
// as the `source` half of the contract; the handler calls OnSubscribe once
// it has a producer ready, then the producer calls OnNext/OnComplete/OnError
// as it makes progress.
type StreamSubscriber struct {
	id    StreamID
	sink  frameSink
	state SubscriberState

	demand   uint32
	sub      Subscription
	buffered []Payload

	// canceledBeforeSubscribed mirrors RocketServerStreamSubscriber's
	// canceledBeforeSubscribed_: a CANCEL frame may race OnSubscribe; if it
	// arrives first, the subscription is cancelled synchronously once it
	// exists instead of being lost.
	canceledBeforeSubscribed bool

	// maxBuffered is this stream's demand-overrun buffer bound. Defaulted
	// to the package-wide maxBufferedItems by NewStreamSubscriber when the
	// caller passes 0, but overridable per connection via
	// ConnectionCore.SetMaxBufferedItems.
	maxBuffered uint32
}

// NewStreamSubscriber creates a subscriber for stream id, recording the
// REQUEST_STREAM frame's initialRequestN as the starting demand. maxBuffered
// is the demand-overrun buffer bound for this stream; 0 selects the package
// default (maxBufferedItems).
func NewStreamSubscriber(id StreamID, sink frameSink, initialN uint32, maxBuffered uint32) *StreamSubscriber {
	if maxBuffered == 0 {
		maxBuffered = maxBufferedItems
	}
	return &StreamSubscriber{
		id:          id,
		sink:        sink,
		state:       StatePendingDemand,
		demand:      initialN,
		maxBuffered: maxBuffered,
	}
}

// OnSubscribe captures the application producer. If initial demand was
// already recorded, it applies immediately: the state becomes Producing if
// demand>0, otherwise stays PendingDemand.
func (s *StreamSubscriber) OnSubscribe(sub Subscription) {
	if s.state == StateCancelled || s.state == StateErred || s.state == StateTerminal {
		sub.Cancel()
		return
	}
	s.sub = sub
	if s.canceledBeforeSubscribed {
		s.state = StateCancelled
		sub.Cancel()
		return
	}
	if s.demand > 0 {
		s.state = StateProducing
		sub.Request(s.demand)
	}
}

// Request adds n credits (saturating at 2^32-1, per spec §9's recommended
// resolution of the REQUEST_N saturation Open Question). If a producer is
// already subscribed and was pending demand, it transitions to Producing and
// forwards the request.
func (s *StreamSubscriber) Request(n uint32) {
	switch s.state {
	case StateCancelled, StateErred, StateTerminal, StateCompleting:
		return
	}
	s.demand = saturatingAdd(s.demand, n)

	if len(s.buffered) > 0 {
		s.flushBuffered()
	}
	if s.state == StatePendingDemand && s.demand > 0 {
		s.state = StateProducing
	}
	if s.sub != nil && n > 0 {
		s.sub.Request(n)
	}
}

func saturatingAdd(a, b uint32) uint32 {
	sum := uint64(a) + uint64(b)
	if sum > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(sum)
}

// OnNext is called by the application producer with the next item. If
// sufficient demand is outstanding it is emitted immediately as a
// PAYLOAD(next) frame and demand is decremented; otherwise it is buffered up
// to this stream's maxBuffered bound, beyond which the stream drops to Erred with
// APPLICATION_ERROR (the demand-overrun policy, §4.3).
func (s *StreamSubscriber) OnNext(p Payload) {
	switch s.state {
	case StateCancelled, StateErred, StateTerminal:
		return
	}
	if s.demand == 0 {
		if uint32(len(s.buffered)) >= s.maxBuffered {
			s.overrun()
			return
		}
		s.buffered = append(s.buffered, p)
		return
	}
	s.emitNext(p)
}

func (s *StreamSubscriber) emitNext(p Payload) {
	s.demand--
	flags := FlagNext
	if !p.IsEmpty() && len(p.Metadata) > 0 {
		flags |= FlagMetadata
	}
	s.sink.enqueueWrite(Frame{
		Type:     FrameTypePayload,
		StreamID: s.id,
		Flags:    flags,
		Payload:  p,
	})
	if s.demand == 0 {
		s.state = StatePendingDemand
	}
}

func (s *StreamSubscriber) flushBuffered() {
	for s.demand > 0 && len(s.buffered) > 0 {
		p := s.buffered[0]
		s.buffered = s.buffered[1:]
		s.emitNext(p)
	}
}

func (s *StreamSubscriber) overrun() {
	s.state = StateErred
	if s.sub != nil {
		s.sub.Cancel()
	}
	s.sink.enqueueWrite(GenerateErrorFrame(s.id, ErrorCodeApplicationError,
		NewStreamError(uint32(s.id), ErrorCodeApplicationError, "demand buffer overrun")))
	s.sink.retireStream(s.id)
}

// OnComplete emits a terminal PAYLOAD(complete) with an empty body and
// retires the stream.
func (s *StreamSubscriber) OnComplete() {
	switch s.state {
	case StateCancelled, StateErred, StateTerminal:
		return
	}
	s.state = StateCompleting
	s.sink.enqueueWrite(Frame{
		Type:     FrameTypePayload,
		StreamID: s.id,
		Flags:    FlagComplete,
	})
	s.state = StateTerminal
	s.sink.retireStream(s.id)
}

// OnError emits an ERROR frame and retires the stream.
func (s *StreamSubscriber) OnError(err error) {
	switch s.state {
	case StateCancelled, StateErred, StateTerminal:
		return
	}
	s.state = StateErred
	s.sink.enqueueWrite(GenerateErrorFrame(s.id, ErrorCodeApplicationError, err))
	s.sink.retireStream(s.id)
}

// Cancel is invoked on a peer CANCEL frame or a local close sweep. It
// synchronously notifies the producer (if subscribed) and emits no frame.
// If CANCEL races OnSubscribe, the cancellation is remembered and applied
// once a producer subscribes.
func (s *StreamSubscriber) Cancel() {
	switch s.state {
	case StateCancelled, StateErred, StateTerminal:
		return
	}
	s.state = StateCancelled
	if s.sub != nil {
		s.sub.Cancel()
	} else {
		s.canceledBeforeSubscribed = true
	}
}

// State returns the subscriber's current state, primarily for tests.
func (s *StreamSubscriber) State() SubscriberState { return s.state }
