package rocket

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outervation/rocketcore/internal/logger"
	"github.com/outervation/rocketcore/internal/rockettest"
)

// testHarness drives a ConnectionCore over an in-memory net.Pipe, playing
// the role of a single peer: write() sends frames to the core, readFrame()
// reads the core's next outbound frame.
type testHarness struct {
	t      *testing.T
	client net.Conn
	core   *ConnectionCore
	done   chan error
	readBuf []byte
}

func newTestHarness(t *testing.T, handler Handler) *testHarness {
	client, server := net.Pipe()
	manager := NewConnManager(nil)
	core := NewConnectionCore(server, handler, manager, nil, logger.NewDiscard())

	h := &testHarness{t: t, client: client, core: core, done: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		client.Close()
	})
	go func() { h.done <- core.Serve(ctx) }()
	return h
}

func (h *testHarness) write(f Frame) {
	require.NoError(h.t, h.client.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := h.client.Write(Encode(f))
	require.NoError(h.t, err)
}

// readFrame reads exactly one frame from the client side, failing the test
// if none arrives within the timeout.
func (h *testHarness) readFrame() Frame {
	require.NoError(h.t, h.client.SetReadDeadline(time.Now().Add(2*time.Second)))
	chunk := make([]byte, 256)
	for {
		if f, consumed, err := Decode(h.readBuf); err == nil {
			h.readBuf = h.readBuf[consumed:]
			return f
		}
		n, err := h.client.Read(chunk)
		require.NoError(h.t, err)
		h.readBuf = append(h.readBuf, chunk[:n]...)
	}
}

// expectNoMoreFrames asserts the core sends nothing further within a short
// window (used for the CANCEL scenario).
func (h *testHarness) expectNoMoreFrames() {
	if _, _, err := Decode(h.readBuf); err == nil {
		h.t.Fatalf("expected no further frames, but one was already buffered")
	}
	require.NoError(h.t, h.client.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	buf := make([]byte, 16)
	n, err := h.client.Read(buf)
	if err == nil {
		h.t.Fatalf("expected no further frames, got %d bytes", n)
	}
	h.readBuf = append(h.readBuf, buf[:n]...)
}

// onLoop runs fn synchronously on the core's event-loop goroutine and waits
// for it to finish, for white-box assertions on core state from the test
// goroutine without racing the loop.
func (h *testHarness) onLoop(fn func()) {
	done := make(chan struct{})
	h.core.post(func() { fn(); close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for event-loop callback")
	}
}

func basicSetup() Frame {
	return Frame{
		Type: FrameTypeSetup,
		Setup: SetupMetadata{
			MajorVersion: 1, MinorVersion: 0,
			MetadataMimeype: "application/octet-stream",
			DataMimeType:    "application/octet-stream",
		},
	}
}

// Scenario 1: SETUP then REQUEST_RESPONSE("ping") echoes verbatim.
func TestBoundaryEchoAfterSetup(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())
	h.write(Frame{Type: FrameTypeRequestResponse, StreamID: 1, Payload: Payload{Data: []byte("ping")}})

	resp := h.readFrame()
	assert.Equal(t, FrameTypePayload, resp.Type)
	assert.Equal(t, StreamID(1), resp.StreamID)
	assert.True(t, resp.Flags.Has(FlagNext))
	assert.True(t, resp.Flags.Has(FlagComplete))
	assert.Equal(t, []byte("ping"), resp.Payload.Data)
	assert.Empty(t, resp.Payload.Metadata)
}

// Scenario 2: a request before any SETUP closes with INVALID_SETUP.
func TestBoundaryRequestBeforeSetupClosesConnection(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(Frame{Type: FrameTypeRequestResponse, StreamID: 1, Payload: Payload{Data: []byte("error:application")}})

	resp := h.readFrame()
	assert.Equal(t, FrameTypeError, resp.Type)
	assert.Equal(t, ConnStreamID, resp.StreamID)
	assert.Equal(t, ErrorCodeInvalidSetup, resp.ErrorCode)

	err := <-h.done
	assert.NoError(t, err)
}

// Scenario 3: a second SETUP closes the connection with the literal
// close-reason message reproduced from the original source.
func TestBoundaryDoubleSetupCloses(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())
	h.write(basicSetup())

	resp := h.readFrame()
	assert.Equal(t, FrameTypeError, resp.Type)
	assert.Equal(t, ConnStreamID, resp.StreamID)
	assert.Equal(t, ErrorCodeInvalidSetup, resp.ErrorCode)
	assert.Equal(t, "More than one SETUP frame received", string(resp.Payload.Data))
}

// Scenario 4: generate:5 with initialRequestN=2 emits 2 payloads, stalls,
// then a REQUEST_N(3) yields the remaining 3 plus a terminal complete.
func TestBoundaryStreamDemandPropagation(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())
	h.write(Frame{
		Type: FrameTypeRequestStream, StreamID: 3, InitialRequestN: 2,
		Payload: Payload{Data: []byte("generate:5")},
	})

	for i := 0; i < 2; i++ {
		f := h.readFrame()
		assert.Equal(t, FrameTypePayload, f.Type)
		assert.True(t, f.Flags.Has(FlagNext))
		assert.False(t, f.Flags.Has(FlagComplete))
	}
	h.expectNoMoreFrames()

	h.write(Frame{Type: FrameTypeRequestN, StreamID: 3, RequestN: 3})
	for i := 0; i < 3; i++ {
		f := h.readFrame()
		assert.True(t, f.Flags.Has(FlagNext))
	}
	complete := h.readFrame()
	assert.True(t, complete.Flags.Has(FlagComplete))
	assert.False(t, complete.Flags.Has(FlagNext))
}

// Scenario 5: CANCEL mid-stream stops further output and retires the
// stream from the registry.
func TestBoundaryCancelStopsStream(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())
	h.write(Frame{
		Type: FrameTypeRequestStream, StreamID: 5, InitialRequestN: 1,
		Payload: Payload{Data: []byte("generate:10")},
	})
	first := h.readFrame()
	assert.True(t, first.Flags.Has(FlagNext))

	h.write(Frame{Type: FrameTypeCancel, StreamID: 5})
	h.expectNoMoreFrames()

	h.onLoop(func() {
		assert.Nil(t, h.core.registry.Lookup(5))
	})
}

// Scenario 6: an application error on REQUEST_RESPONSE reports ERROR on
// that stream while the connection stays ALIVE.
func TestBoundaryApplicationErrorKeepsConnectionAlive(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())
	h.write(Frame{Type: FrameTypeRequestResponse, StreamID: 7, Payload: Payload{Data: []byte("error:application")}})

	resp := h.readFrame()
	assert.Equal(t, FrameTypeError, resp.Type)
	assert.Equal(t, StreamID(7), resp.StreamID)
	assert.Equal(t, ErrorCodeApplicationError, resp.ErrorCode)
	assert.Equal(t, "Application error occurred", string(resp.Payload.Data))

	h.onLoop(func() {
		assert.Equal(t, StateAlive, h.core.state)
	})

	// The connection really is still usable: another request gets a reply.
	h.write(Frame{Type: FrameTypeRequestResponse, StreamID: 9, Payload: Payload{Data: []byte("hello")}})
	resp2 := h.readFrame()
	assert.Equal(t, []byte("hello"), resp2.Payload.Data)
}

// Scenario 7: an orphan PAYLOAD (no prior request fragment) is a protocol
// violation that closes the connection.
func TestBoundaryOrphanPayloadCloses(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())
	h.write(Frame{Type: FrameTypePayload, StreamID: 9, Flags: FlagNext, Payload: Payload{Data: []byte("x")}})

	resp := h.readFrame()
	assert.Equal(t, FrameTypeError, resp.Type)
	assert.Equal(t, ConnStreamID, resp.StreamID)
	assert.Equal(t, ErrorCodeInvalid, resp.ErrorCode)
	assert.Equal(t, "Unexpected PAYLOAD frame received on stream 9", string(resp.Payload.Data))
}

// Fragmentation: a REQUEST_RESPONSE split across a first fragment with
// FlagFollows and a continuation PAYLOAD is reassembled before dispatch.
func TestFragmentedRequestResponseReassembled(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())
	h.write(Frame{
		Type: FrameTypeRequestResponse, StreamID: 11, Flags: FlagFollows,
		Payload: Payload{Data: []byte("data_echo:hello")[:10]},
	})
	h.write(Frame{
		Type: FrameTypePayload, StreamID: 11,
		Payload: Payload{Data: []byte("data_echo:hello")[10:]},
	})

	resp := h.readFrame()
	assert.Equal(t, []byte("hello"), resp.Payload.Data)
}

// RequestFNF never produces a reply.
func TestRequestFnfNeverReplies(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())
	h.write(Frame{Type: FrameTypeRequestFNF, StreamID: 13, Payload: Payload{Data: []byte("fire")}})
	h.expectNoMoreFrames()
}

// An unknown frame type closes the connection with INVALID.
func TestUnknownFrameTypeCloses(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())

	buf := Encode(Frame{Type: FrameTypeRequestN, StreamID: 1, RequestN: 1})
	buf[7] = 40 << 2 // type=40: outside both the known-type switch and the reserved-extension range
	require.NoError(t, h.client.SetWriteDeadline(time.Now().Add(time.Second)))
	_, err := h.client.Write(buf)
	require.NoError(t, err)

	resp := h.readFrame()
	assert.Equal(t, FrameTypeError, resp.Type)
	assert.Equal(t, ErrorCodeInvalid, resp.ErrorCode)
}

// A REQUEST_RESPONSE fragment parked awaiting a continuation that never
// arrives must still release its inflight slot when the peer disconnects,
// or the fixed-point shutdown check in closeIfNeeded never reaches zero and
// Serve never returns (§8).
func TestBoundaryClientDisconnectDuringFragmentedRequestReleasesInflight(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())
	h.write(Frame{
		Type: FrameTypeRequestResponse, StreamID: 21, Flags: FlagFollows,
		Payload: Payload{Data: []byte("data_echo:partial")},
	})
	h.onLoop(func() {
		assert.NotNil(t, h.core.registry.LookupPartial(21))
	})

	h.client.Close()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after client disconnect; inflight leak from a parked partial frame?")
	}
}

// REQUEST_N/CANCEL for an unknown stream are silently ignored, not
// protocol violations (the peer may race termination).
func TestRequestNAndCancelOnUnknownStreamAreIgnored(t *testing.T) {
	h := newTestHarness(t, rockettest.EchoHandler{})
	h.write(basicSetup())
	h.write(Frame{Type: FrameTypeRequestN, StreamID: 99, RequestN: 1})
	h.write(Frame{Type: FrameTypeCancel, StreamID: 99})
	h.expectNoMoreFrames()

	// connection must still be ALIVE and usable.
	h.write(Frame{Type: FrameTypeRequestResponse, StreamID: 1, Payload: Payload{Data: []byte("ok")}})
	resp := h.readFrame()
	assert.Equal(t, []byte("ok"), resp.Payload.Data)
}
