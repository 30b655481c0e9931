package rocket

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/outervation/rocketcore/internal/logger"
)

// readChunkSize is how much is read from the socket per Read call; frames
// spanning multiple reads are reassembled by accumulating into readLoop's
// buffer until Decode stops returning ErrNeedMoreData.
const readChunkSize = 32 * 1024

// loopQueueSize bounds how many pending work items (inbound frames, posted
// callbacks) the event-loop goroutine will buffer before the reader
// goroutine blocks. This provides natural backpressure from a slow handler
// back to the socket reader.
const loopQueueSize = 64

// Metrics is the full set of instrumentation hooks ConnectionCore and its
// StreamSubscribers report through. internal/metrics.Metrics satisfies it;
// ConnManager only needs the narrower ConnMetrics subset declared in
// manager.go, kept separate so this package never imports internal/metrics
// directly.
type Metrics interface {
	ConnMetrics
	FrameDecoded(frameType string)
	FrameWritten()
	WriteBatch(frameCount int)
	StreamOpened()
	StreamClosed()
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()        {}
func (noopMetrics) ConnectionClosed(string)  {}
func (noopMetrics) FrameDecoded(string)      {}
func (noopMetrics) FrameWritten()            {}
func (noopMetrics) WriteBatch(int)           {}
func (noopMetrics) StreamOpened()            {}
func (noopMetrics) StreamClosed()            {}

// ConnectionCore owns the socket, the parser state, the stream registry, the
// partial-frame map, and the write batcher for one peer connection (§4.6).
// Every field below is touched only from the single goroutine running
// runLoop; anything outside that goroutine (the reader goroutine, a
// manager's shutdown sweep, a handler's asynchronous producer) must go
// through Post/the ManagedConnection methods, which marshal onto the loop
// via the loop channel rather than mutating state directly — this is the Go
// rendering of the single-threaded event-loop model described in §5.
type ConnectionCore struct {
	id      string
	conn    net.Conn
	log     *logger.Logger
	handler Handler
	manager Manager
	metrics Metrics

	registry *StreamRegistry
	batcher  *WriteBatcher

	state              ConnectionState
	setupFrameReceived bool
	inflight           int
	maxBufferedItems   uint32

	loop    chan func()
	closed  chan struct{}
	readBuf []byte
}

// NewConnectionCore constructs a core for an already-accepted connection. It
// does not start processing frames; call Serve to do that.
func NewConnectionCore(conn net.Conn, handler Handler, manager Manager, metrics Metrics, log *logger.Logger) *ConnectionCore {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	c := &ConnectionCore{
		id:      uuid.NewString(),
		conn:    conn,
		log:     log,
		handler: handler,
		manager: manager,
		metrics: metrics,
		state:   StateAlive,
		loop:    make(chan func(), loopQueueSize),
		closed:  make(chan struct{}),
	}
	c.registry = NewStreamRegistry()
	c.batcher = NewWriteBatcher(conn, func(n int) { c.metrics.WriteBatch(n) })
	return c
}

// ID returns the connection's correlation identifier.
func (c *ConnectionCore) ID() string { return c.id }

// SetMaxBufferedItems overrides the per-stream demand-overrun buffer bound
// (§4.3) used for every REQUEST_STREAM accepted from this point on; 0
// restores the package default. Intended to be called once, right after
// construction and before Serve, from the config-driven
// ServerConfig.MaxBufferedItemsPerStream knob.
func (c *ConnectionCore) SetMaxBufferedItems(n uint32) { c.maxBufferedItems = n }

// Serve installs the connection as the socket's reader and runs its
// event loop until the connection is closed or ctx is cancelled. It
// registers with the manager on entry and deregisters on exit.
func (c *ConnectionCore) Serve(ctx context.Context) error {
	c.manager.AddConnection(c)
	c.log.Debug("rocket: connection accepted", logger.LogFields{"conn_id": c.id, "remote": c.conn.RemoteAddr().String()})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.readLoop() })
	g.Go(func() error { return c.runLoop(gctx) })

	err := g.Wait()
	c.manager.RemoveConnection(c)
	return err
}

// readLoop reads bytes from the socket, decodes frames, and posts each
// decoded frame onto the event loop for handling. It never touches core
// state directly.
func (c *ConnectionCore) readLoop() error {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	for {
		n, err := c.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				f, consumed, derr := Decode(buf)
				if derr == ErrNeedMoreData {
					break
				}
				if derr != nil {
					ce, ok := derr.(*ConnectionError)
					if !ok {
						ce = NewConnectionErrorWithCause(ErrorCodeInvalid, "malformed frame", derr)
					}
					c.postClose(ce)
					return nil
				}
				buf = buf[consumed:]
				frame := f
				c.post(func() { c.handleFrame(frame) })
			}
		}
		if err != nil {
			c.postClose(NewConnectionErrorWithCause(ErrorCodeConnectionError, "read failed", err))
			return nil
		}
	}
}

// post enqueues fn to run on the event-loop goroutine. It never blocks past
// the connection's closure.
func (c *ConnectionCore) post(fn func()) {
	select {
	case c.loop <- fn:
	case <-c.closed:
	}
}

func (c *ConnectionCore) postClose(err *ConnectionError) {
	c.post(func() { c.close(err) })
}

// runLoop is the single goroutine that owns all ConnectionCore state.
func (c *ConnectionCore) runLoop(ctx context.Context) error {
	for {
		select {
		case fn, ok := <-c.loop:
			if !ok {
				return nil
			}
			fn()
			if err := c.batcher.Flush(); err != nil {
				c.close(NewConnectionErrorWithCause(ErrorCodeConnectionError, "write failed", err))
			}
			if c.state == StateClosed {
				c.conn.Close()
				close(c.closed)
				return nil
			}
		case <-ctx.Done():
			c.close(NewConnectionError(ErrorCodeConnectionClose, "server shutting down"))
			c.conn.Close()
			close(c.closed)
			return ctx.Err()
		}
	}
}

// Post schedules fn to run on the connection's event-loop goroutine. Handler
// producers that do work off the loop goroutine (e.g. a background stream
// generator) must use this to deliver OnNext/OnComplete/OnError back safely.
func (c *ConnectionCore) Post(fn func(*ConnectionCore)) {
	c.post(func() { fn(c) })
}

// handleFrame dispatches one decoded inbound frame (§4.6). Runs on the loop
// goroutine only.
func (c *ConnectionCore) handleFrame(f Frame) {
	c.metrics.FrameDecoded(f.Type.String())
	if c.state != StateAlive {
		return
	}

	if !c.setupFrameReceived {
		if f.Type != FrameTypeSetup {
			c.close(NewConnectionError(ErrorCodeInvalidSetup, "first frame must be SETUP"))
			return
		}
		c.setupFrameReceived = true
	} else if f.Type == FrameTypeSetup {
		c.close(NewConnectionError(ErrorCodeInvalidSetup, "More than one SETUP frame received"))
		return
	}

	switch f.Type {
	case FrameTypeSetup:
		ctx := newFrameContext(c, ConnStreamID, kindSetup)
		ctx.onRequestFrame(f)
	case FrameTypeRequestResponse:
		ctx := newFrameContext(c, f.StreamID, kindRequestResponse)
		ctx.onRequestFrame(f)
	case FrameTypeRequestFNF:
		ctx := newFrameContext(c, f.StreamID, kindRequestFNF)
		ctx.onRequestFrame(f)
	case FrameTypeRequestStream:
		ctx := newFrameContext(c, f.StreamID, kindRequestStream)
		ctx.onRequestFrame(f)
	case FrameTypeRequestN:
		if sub := c.registry.Lookup(f.StreamID); sub != nil {
			sub.Request(f.RequestN)
		}
	case FrameTypeCancel:
		if sub := c.registry.Lookup(f.StreamID); sub != nil {
			sub.Cancel()
			c.retireStream(f.StreamID)
		}
	case FrameTypePayload:
		ctx := c.registry.LookupPartial(f.StreamID)
		if ctx == nil {
			c.close(NewConnectionError(ErrorCodeInvalid, fmt.Sprintf("Unexpected PAYLOAD frame received on stream %d", f.StreamID)))
			return
		}
		ctx.onPayloadFrame(f)
	default:
		c.close(NewConnectionError(ErrorCodeInvalid, fmt.Sprintf("unknown frame type %d", f.Type)))
	}
}

// enqueueWrite implements frameSink: encode f and hand it to the write
// batcher. A no-op unless the connection is ALIVE; close() enqueues its
// stream-0 ERROR here before leaving ALIVE.
func (c *ConnectionCore) enqueueWrite(f Frame) {
	if c.state != StateAlive {
		return
	}
	c.batcher.Enqueue(Encode(f))
	c.metrics.FrameWritten()
}

// retireStream removes a stream from the registry, accounts for it in the
// inflight count, and re-evaluates closeIfNeeded. Implements frameSink.
func (c *ConnectionCore) retireStream(id StreamID) {
	if c.registry.Lookup(id) == nil {
		return
	}
	c.registry.Remove(id)
	c.inflight--
	c.metrics.StreamClosed()
	c.closeIfNeeded()
}

// onStreamStarted accounts for a newly inserted stream's inflight slot,
// which persists for the stream's whole lifetime (§4.6 invariant: inflight
// >= active streams in the registry).
func (c *ConnectionCore) onStreamStarted() {
	c.inflight++
	c.metrics.StreamOpened()
}

// onContextConstructed/onContextDestroyed track FrameContexts that have not
// yet produced their terminal reply, mirroring RocketServerConnection's
// inflight_ bookkeeping.
func (c *ConnectionCore) onContextConstructed() { c.inflight++ }

func (c *ConnectionCore) onContextDestroyed() {
	c.inflight--
	c.closeIfNeeded()
}

func (c *ConnectionCore) closeWithProtocolError(msg string) {
	c.close(NewConnectionError(ErrorCodeInvalid, msg))
}

// close sends a connection-level ERROR on stream 0, transitions to CLOSING,
// and invokes closeIfNeeded. The reader goroutine keeps running until the
// socket is closed, but handleFrame ignores every frame once the state is no
// longer ALIVE.
func (c *ConnectionCore) close(err *ConnectionError) {
	if c.state != StateAlive {
		return
	}
	c.log.Warn("rocket: closing connection", logger.LogFields{"conn_id": c.id, "code": err.Code.String(), "msg": err.Msg})
	c.enqueueWrite(GenerateErrorFrame(ConnStreamID, err.Code, err))
	c.state = StateClosing
	c.closeIfNeeded()
}

// closeIfNeeded is the fixed-point check invoked on every state change that
// might permit shutdown (§4.6). It proceeds only once CLOSING and every
// inflight slot belongs to an active stream or a parked partial frame (no
// handler task is outstanding elsewhere); it then cancels every stream,
// releases every parked partial frame, flushes pending writes and discards
// whatever could not be written, and transitions to CLOSED. Deregistration
// from the manager happens in Serve once both goroutines have exited.
func (c *ConnectionCore) closeIfNeeded() {
	if c.state != StateClosing {
		return
	}
	if c.inflight != 0 || c.registry.Len() != 0 || c.registry.PartialLen() != 0 {
		if c.inflight != c.registry.Len()+c.registry.PartialLen() {
			return
		}
		if c.registry.Len() != 0 {
			// Sweep: cancel every remaining stream so producers observe
			// Cancelled rather than being silently abandoned, then clear
			// the registry in one shot (avoids mutating it while ranging).
			ids := make([]StreamID, 0, c.registry.Len())
			c.registry.ForEach(func(id StreamID, sub *StreamSubscriber) {
				sub.Cancel()
				ids = append(ids, id)
			})
			for _, id := range ids {
				c.registry.Remove(id)
				c.inflight--
				c.metrics.StreamClosed()
			}
		}
		if c.registry.PartialLen() != 0 {
			// A REQUEST_* frame with FlagFollows set parked itself here
			// awaiting a continuation that will now never arrive; finish()
			// releases the inflight slot its construction claimed.
			for _, ctx := range c.registry.DrainPartials() {
				ctx.finish()
			}
		}
		if c.inflight != 0 {
			return
		}
	}
	if err := c.batcher.Flush(); err != nil {
		c.log.Error("rocket: final flush failed during close", logger.LogFields{"conn_id": c.id, "error": err})
	}
	c.batcher.Discard()
	c.state = StateClosed
}

// isBusy reports whether the connection has outstanding work: in-flight
// handler tasks/streams, or a pending write batch.
func (c *ConnectionCore) isBusy() bool {
	return c.inflight > 0 || c.batcher.Pending()
}

// NotifyPendingShutdown implements ManagedConnection. It is a no-op marker;
// a concrete Manager may choose to act on it (e.g. stop routing new work to
// this connection) but the core itself does nothing beyond logging.
func (c *ConnectionCore) NotifyPendingShutdown() {
	c.post(func() {
		c.log.Debug("rocket: pending shutdown notified", logger.LogFields{"conn_id": c.id})
	})
}

// DropConnection implements ManagedConnection: forces an immediate close.
func (c *ConnectionCore) DropConnection() {
	c.post(func() {
		c.close(NewConnectionError(ErrorCodeConnectionClose, "dropped by manager"))
	})
}

// CloseWhenIdle implements ManagedConnection: closes gracefully, a no-op if
// busy.
func (c *ConnectionCore) CloseWhenIdle() {
	c.post(func() {
		if c.isBusy() {
			return
		}
		c.close(NewConnectionError(ErrorCodeConnectionClose, "closed by manager (idle)"))
	})
}

// TimeoutExpired implements ManagedConnection: triggers CloseWhenIdle unless
// busy, in which case the manager is expected to retry later.
func (c *ConnectionCore) TimeoutExpired() {
	c.post(func() {
		if !c.isBusy() {
			c.close(NewConnectionError(ErrorCodeConnectionClose, "idle timeout"))
		}
	})
}

var _ frameSink = (*ConnectionCore)(nil)
var _ ManagedConnection = (*ConnectionCore)(nil)

// kindSetup is handled alongside the request kinds in FrameContext.dispatch.
const kindSetup requestKind = -1
