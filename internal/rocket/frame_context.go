package rocket

import "fmt"

// requestKind tags which REQUEST_* frame a FrameContext is assembling,
// playing the role of the SetupFrame/RequestXFrame tagged variant described
// in the Design Notes.
type requestKind int

const (
	kindRequestResponse requestKind = iota
	kindRequestFNF
	kindRequestStream
)

// FrameContext is the short-lived handle tying an inbound request frame to
// its reply path (§4.4). It is created on the first fragment of a request
// and is conceptually move-only: after it dispatches to the handler (or,
// for REQUEST_RESPONSE, after exactly one terminal send) it must
// not be used again. Go has no move semantics, so this is enforced with a
// `consumed` guard rather than the type system; using a FrameContext after
// it reports consumed is a programming error in the handler, exactly as the
// source's move-only C++ type made it a use-after-move bug there.
type FrameContext struct {
	core *ConnectionCore
	id   StreamID
	kind requestKind

	initialRequestN uint32
	assembled       Payload
	flags           Flags
	setupMeta       SetupMetadata

	consumed     bool
	sentTerminal bool
}

func newFrameContext(core *ConnectionCore, id StreamID, kind requestKind) *FrameContext {
	core.onContextConstructed()
	return &FrameContext{core: core, id: id, kind: kind}
}

// onRequestFrame processes the first fragment of a REQUEST_RESPONSE,
// REQUEST_FNF, or REQUEST_STREAM frame. If FlagFollows is unset it dispatches
// immediately; otherwise it parks itself in the registry's partialFrames map
// awaiting continuation PAYLOAD frames.
func (c *FrameContext) onRequestFrame(f Frame) {
	c.flags = f.Flags
	c.assembled = f.Payload
	if f.Type == FrameTypeRequestStream {
		c.initialRequestN = f.InitialRequestN
	}
	if f.Type == FrameTypeSetup {
		c.setupMeta = f.Setup
	}
	if f.Flags.Has(FlagFollows) {
		c.core.registry.ParkPartial(c.id, c)
		return
	}
	c.dispatch()
}

// onPayloadFrame appends a continuation fragment. If FlagFollows is unset
// this was the last fragment: the context is unparked and dispatched.
func (c *FrameContext) onPayloadFrame(f Frame) {
	c.assembled.Metadata = append(c.assembled.Metadata, f.Payload.Metadata...)
	c.assembled.Data = append(c.assembled.Data, f.Payload.Data...)
	c.flags = f.Flags
	if f.Flags.Has(FlagFollows) {
		return
	}
	c.core.registry.RemovePartial(c.id)
	c.dispatch()
}

// dispatch hands the fully-assembled request to the application handler,
// per the kind recorded at construction.
func (c *FrameContext) dispatch() {
	h := c.core.handler
	switch c.kind {
	case kindSetup:
		h.HandleSetupFrame(SetupFrame{Setup: c.setupMeta, Payload: c.assembled}, c)
		c.finish()
	case kindRequestResponse:
		h.HandleRequestResponseFrame(RequestResponseFrame{StreamID: c.id, Payload: c.assembled}, c)
	case kindRequestFNF:
		h.HandleRequestFnfFrame(RequestFnfFrame{StreamID: c.id, Payload: c.assembled}, c)
		// Fire-and-forget never replies: the context's job ends the moment
		// the handler returns.
		c.finish()
	case kindRequestStream:
		sub := NewStreamSubscriber(c.id, c.core, c.initialRequestN, c.core.maxBufferedItems)
		if !c.core.registry.Insert(c.id, sub) {
			c.core.closeWithProtocolError(fmt.Sprintf("duplicate stream id %d", c.id))
			c.finish()
			return
		}
		c.core.onStreamStarted()
		// The FrameContext's own obligation (assembling + dispatching the
		// request) is done; the stream's lifetime is now tracked via the
		// subscriber, not this context.
		c.finish()
		h.HandleRequestStreamFrame(RequestStreamFrame{StreamID: c.id, InitialRequestN: c.initialRequestN, Payload: c.assembled}, sub)
	}
}

// sendPayload synthesizes a PAYLOAD frame and hands it to the write batcher.
// Exactly one terminal send (sendPayload xor sendError) is permitted per
// context.
func (c *FrameContext) sendPayload(p Payload, flags Flags) {
	if c.sentTerminal {
		panic(fmt.Sprintf("rocket: FrameContext for stream %d: sendPayload called after a terminal send", c.id))
	}
	c.sentTerminal = true
	if len(p.Metadata) > 0 {
		flags |= FlagMetadata
	}
	c.core.enqueueWrite(Frame{Type: FrameTypePayload, StreamID: c.id, Flags: flags, Payload: p})
	c.finish()
}

// sendError synthesizes an ERROR frame reporting an application failure on
// this stream. The connection itself stays ALIVE.
func (c *FrameContext) sendError(err *StreamError) {
	if c.sentTerminal {
		panic(fmt.Sprintf("rocket: FrameContext for stream %d: sendError called after a terminal send", c.id))
	}
	c.sentTerminal = true
	c.core.enqueueWrite(GenerateErrorFrame(c.id, err.Code, err))
	c.finish()
}

func (c *FrameContext) finish() {
	if c.consumed {
		return
	}
	c.consumed = true
	c.core.onContextDestroyed()
}
