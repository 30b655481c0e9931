package rocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, f Frame) Frame {
	buf := Encode(f)
	got, consumed, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), consumed)
	return got
}

func TestRoundTripRequestResponse(t *testing.T) {
	f := Frame{
		Type:     FrameTypeRequestResponse,
		StreamID: 7,
		Flags:    FlagMetadata,
		Payload:  Payload{Metadata: []byte("md"), Data: []byte("ping")},
	}
	got := roundTrip(t, f)
	assert.Equal(t, f.Type, got.Type)
	assert.Equal(t, f.StreamID, got.StreamID)
	assert.Equal(t, f.Flags, got.Flags)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestRoundTripRequestStream(t *testing.T) {
	f := Frame{
		Type:            FrameTypeRequestStream,
		StreamID:        3,
		InitialRequestN: 5,
		Payload:         Payload{Data: []byte("generate:10")},
	}
	got := roundTrip(t, f)
	assert.Equal(t, f.InitialRequestN, got.InitialRequestN)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestRoundTripRequestN(t *testing.T) {
	f := Frame{Type: FrameTypeRequestN, StreamID: 3, RequestN: 42}
	got := roundTrip(t, f)
	assert.Equal(t, uint32(42), got.RequestN)
}

func TestRoundTripCancel(t *testing.T) {
	f := Frame{Type: FrameTypeCancel, StreamID: 5}
	got := roundTrip(t, f)
	assert.Equal(t, FrameTypeCancel, got.Type)
	assert.Equal(t, StreamID(5), got.StreamID)
}

func TestRoundTripPayload(t *testing.T) {
	f := Frame{
		Type:     FrameTypePayload,
		StreamID: 9,
		Flags:    FlagNext | FlagComplete | FlagMetadata,
		Payload:  Payload{Metadata: []byte("m"), Data: []byte("d")},
	}
	got := roundTrip(t, f)
	assert.Equal(t, f.Flags, got.Flags)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestRoundTripError(t *testing.T) {
	f := Frame{Type: FrameTypeError, StreamID: 0, ErrorCode: ErrorCodeInvalidSetup, Payload: Payload{Data: []byte("bad setup")}}
	got := roundTrip(t, f)
	assert.Equal(t, ErrorCodeInvalidSetup, got.ErrorCode)
	assert.Equal(t, []byte("bad setup"), got.Payload.Data)
}

func TestRoundTripSetup(t *testing.T) {
	f := Frame{
		Type:     FrameTypeSetup,
		StreamID: 0,
		Setup: SetupMetadata{
			MajorVersion:    1,
			MinorVersion:    0,
			KeepaliveMillis: 30000,
			MaxLifetimeMS:   600000,
			ResumeToken:     []byte("token"),
			MetadataMimeype: "application/octet-stream",
			DataMimeType:    "application/octet-stream",
		},
		Payload: Payload{Data: []byte("setup-payload")},
	}
	got := roundTrip(t, f)
	assert.Equal(t, f.Setup, got.Setup)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestDecodeNeedsMoreData(t *testing.T) {
	f := Frame{Type: FrameTypeRequestResponse, StreamID: 1, Payload: Payload{Data: []byte("ping")}}
	buf := Encode(f)

	_, _, err := Decode(buf[:len(buf)-2])
	assert.ErrorIs(t, err, ErrNeedMoreData)

	_, _, err = Decode(buf[:2])
	assert.ErrorIs(t, err, ErrNeedMoreData)
}

func TestDecodeMultipleFramesInOneBuffer(t *testing.T) {
	a := Encode(Frame{Type: FrameTypeRequestN, StreamID: 1, RequestN: 1})
	b := Encode(Frame{Type: FrameTypeCancel, StreamID: 1})
	buf := append(append([]byte{}, a...), b...)

	f1, n1, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, FrameTypeRequestN, f1.Type)

	f2, n2, err := Decode(buf[n1:])
	require.NoError(t, err)
	assert.Equal(t, FrameTypeCancel, f2.Type)
	assert.Equal(t, n1+n2, len(buf))
}

func TestDecodeUnknownFrameTypeIsInvalid(t *testing.T) {
	buf := Encode(Frame{Type: FrameTypeRequestN, StreamID: 1, RequestN: 1})
	// Corrupt the type field (bits 10..15 of the 2-byte type/flags word,
	// which sits right after the 3-byte length prefix + 4-byte stream id).
	buf[7] = 40 << 2 // type=40 (<48, so not in the reserved-extension range), flags cleared
	_, _, err := Decode(buf)
	require.Error(t, err)
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrorCodeInvalid, ce.Code)
}

func TestDecodeReservedExtensionRangeDoesNotError(t *testing.T) {
	buf := Encode(Frame{Type: FrameTypeRequestN, StreamID: 1, RequestN: 1})
	buf[7] = 48 << 2 // type=48, within [reservedExtensionMin, frameTypeMax]
	f, _, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, FrameTypeReserved, f.Type)
}

func TestDecodeTruncatedLengthIsInvalid(t *testing.T) {
	// length field declares fewer bytes than the fixed header needs.
	buf := []byte{0, 0, 2, 0, 0, 0, 1, 0, 0}
	_, _, err := Decode(buf)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNeedMoreData)
}

func TestDecodeTruncatedRequestNBody(t *testing.T) {
	buf := Encode(Frame{Type: FrameTypeRequestN, StreamID: 1, RequestN: 1})
	truncated := buf[:len(buf)-2] // drop 2 of the 4 RequestN bytes; the length prefix still declares the full body.
	_, _, err := Decode(truncated)
	// Either ErrNeedMoreData (buffer looks short per the length prefix) or
	// an explicit INVALID is acceptable; what must never happen is a panic
	// or a frame being returned.
	if err == nil {
		t.Fatal("expected an error for a truncated buffer")
	}
}

func TestPayloadWithMetadataFlagButNoMetadataBytes(t *testing.T) {
	f := Frame{
		Type:     FrameTypePayload,
		StreamID: 1,
		Flags:    FlagNext | FlagMetadata,
		Payload:  Payload{Metadata: []byte{}, Data: []byte("x")},
	}
	got := roundTrip(t, f)
	assert.Equal(t, []byte("x"), got.Payload.Data)
}
