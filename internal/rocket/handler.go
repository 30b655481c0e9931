package rocket

// SetupFrame, RequestResponseFrame, RequestFnfFrame and RequestStreamFrame
// are the fully-assembled, application-facing views of their wire frames
// (fragments already coalesced by FrameContext).

type SetupFrame struct {
	Setup   SetupMetadata
	Payload Payload
}

type RequestResponseFrame struct {
	StreamID StreamID
	Payload  Payload
}

type RequestFnfFrame struct {
	StreamID StreamID
	Payload  Payload
}

type RequestStreamFrame struct {
	StreamID        StreamID
	InitialRequestN uint32
	Payload         Payload
}

// Handler is the contract HandlerInterface (§4.7) exposes to ConnectionCore.
// All methods are invoked on the connection's event-loop goroutine.
//
// Obligations:
//   - HandleRequestResponseFrame must eventually call exactly one of
//     ctx.SendPayload or ctx.SendError.
//   - HandleRequestFnfFrame must not reply.
//   - HandleRequestStreamFrame must subscribe a producer to sub via
//     sub.OnSubscribe, synchronously or from another goroutine (in which
//     case the producer must marshal its OnNext/OnComplete/OnError calls
//     back onto the connection's event loop — see ConnectionCore.Post).
type Handler interface {
	HandleSetupFrame(f SetupFrame, ctx *FrameContext)
	HandleRequestResponseFrame(f RequestResponseFrame, ctx *FrameContext)
	HandleRequestFnfFrame(f RequestFnfFrame, ctx *FrameContext)
	HandleRequestStreamFrame(f RequestStreamFrame, sub *StreamSubscriber)
}

// SendPayload is the handler-facing entry point for FrameContext.sendPayload;
// exported so handler implementations outside this package can call it.
func (c *FrameContext) SendPayload(p Payload, flags Flags) { c.sendPayload(p, flags) }

// SendError is the handler-facing entry point for FrameContext.sendError.
func (c *FrameContext) SendError(err *StreamError) { c.sendError(err) }

// StreamID returns the stream this context is assembling/replying to.
func (c *FrameContext) StreamID() StreamID { return c.id }
