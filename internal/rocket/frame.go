package rocket

import "fmt"

// FrameType is the 6-bit frame type tag carried in every frame header.
type FrameType uint8

const (
	FrameTypeReserved        FrameType = 0
	FrameTypeSetup           FrameType = 1
	FrameTypeRequestResponse FrameType = 2
	FrameTypeRequestFNF      FrameType = 3
	FrameTypeRequestStream   FrameType = 4
	FrameTypeRequestN        FrameType = 5
	FrameTypeCancel          FrameType = 6
	FrameTypePayload         FrameType = 7
	FrameTypeError           FrameType = 8

	// frameTypeMax is the largest value representable in the 6-bit type
	// field (2^6 - 1).
	frameTypeMax = 63

	// reservedExtensionMin is the start of the range reserved for future
	// protocol frame types. Frames in [reservedExtensionMin, frameTypeMax]
	// decode successfully (as FrameTypeReserved) instead of failing with
	// INVALID; ConnectionCore's dispatch still closes the connection for
	// any type it does not have a case for, per spec.
	reservedExtensionMin = 48
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeSetup:
		return "SETUP"
	case FrameTypeRequestResponse:
		return "REQUEST_RESPONSE"
	case FrameTypeRequestFNF:
		return "REQUEST_FNF"
	case FrameTypeRequestStream:
		return "REQUEST_STREAM"
	case FrameTypeRequestN:
		return "REQUEST_N"
	case FrameTypeCancel:
		return "CANCEL"
	case FrameTypePayload:
		return "PAYLOAD"
	case FrameTypeError:
		return "ERROR"
	case FrameTypeReserved:
		return "RESERVED"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

// Flags is the 10-bit flag field carried in every frame header.
type Flags uint16

const (
	FlagMetadata Flags = 1 << 0
	FlagFollows  Flags = 1 << 1
	FlagComplete Flags = 1 << 2
	FlagNext     Flags = 1 << 3

	// flagsMask masks the 10 bits of the flags field (2^10 - 1). Any bits
	// set outside this mask are a codec bug, not wire data; Encode never
	// produces them and Decode never reads them.
	flagsMask Flags = (1 << 10) - 1
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	s := ""
	if f.Has(FlagMetadata) {
		s += "M"
	}
	if f.Has(FlagFollows) {
		s += "F"
	}
	if f.Has(FlagComplete) {
		s += "C"
	}
	if f.Has(FlagNext) {
		s += "N"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Frame is a decoded wire frame, represented as a tagged variant: Type
// selects which of the per-type fields below are meaningful. This mirrors
// the SetupFrame/RequestXFrame/PayloadFrame hierarchy from the source
// protocol as a single Go struct rather than a class hierarchy, per the
// polymorphic-frame-handler design note — dispatch is a switch on Type, not
// dynamic inheritance.
type Frame struct {
	Type     FrameType
	Flags    Flags
	StreamID StreamID

	// REQUEST_STREAM
	InitialRequestN uint32

	// REQUEST_N
	RequestN uint32

	// SETUP
	Setup SetupMetadata

	// ERROR
	ErrorCode ErrorCode

	// SETUP / REQUEST_RESPONSE / REQUEST_FNF / REQUEST_STREAM / PAYLOAD /
	// ERROR (message carried in Payload.Data for ERROR frames).
	Payload Payload
}

// SetupMetadata carries the connection-parameter fields of a SETUP frame.
type SetupMetadata struct {
	MajorVersion    uint16
	MinorVersion    uint16
	KeepaliveMillis uint32
	MaxLifetimeMS   uint32
	ResumeToken     []byte
	MetadataMimeype string
	DataMimeType    string
}
