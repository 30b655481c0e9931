package rocket

import (
	"encoding/binary"
)

// frameLengthFieldSize is the 3-byte (24-bit) length prefix that precedes
// every frame on the wire, giving the length of the header+body that
// follows (excluding the length field itself). This is what lets the codec
// find frame boundaries in a byte stream that may deliver many frames, one
// frame, or a partial frame per read — the "possibly-chained buffers" the
// spec refers to.
const frameLengthFieldSize = 3

// headerSize is the fixed stream-id + type/flags header present in every
// frame, after the length prefix.
const headerSize = 4 + 2

const maxFrameLength = 1<<24 - 1

// metadataLengthFieldSize is the 24-bit length prefix preceding a payload's
// metadata segment when FlagMetadata is set.
const metadataLengthFieldSize = 3

// ErrNeedMoreData is returned by Decode when buf does not yet contain a
// complete frame. It is not a protocol violation; the caller should read
// more bytes from the transport and retry.
type errNeedMoreData struct{}

func (errNeedMoreData) Error() string { return "rocket: incomplete frame, need more data" }

var ErrNeedMoreData error = errNeedMoreData{}

// Decode attempts to parse a single frame from the front of buf. It returns
// the decoded frame and the number of bytes consumed. If buf does not yet
// hold a complete frame, it returns ErrNeedMoreData and the caller should
// retry once more bytes arrive. Any other error is a protocol violation:
// INVALID for a malformed length, an unknown frame type, or a truncated
// body, and INVALID_SETUP for a malformed SETUP body.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < frameLengthFieldSize {
		return Frame{}, 0, ErrNeedMoreData
	}
	length := int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])
	total := frameLengthFieldSize + length
	if length < headerSize {
		return Frame{}, 0, NewConnectionError(ErrorCodeInvalid, "frame length shorter than header")
	}
	if len(buf) < total {
		return Frame{}, 0, ErrNeedMoreData
	}

	body := buf[frameLengthFieldSize:total]
	streamID := StreamID(binary.BigEndian.Uint32(body[0:4]))
	typeAndFlags := binary.BigEndian.Uint16(body[4:6])
	ftype := FrameType(typeAndFlags >> 10)
	flags := Flags(typeAndFlags) & flagsMask
	rest := body[6:]

	f := Frame{Type: ftype, Flags: flags, StreamID: streamID}

	switch {
	case ftype == FrameTypeSetup:
		if err := decodeSetupBody(rest, flags, &f); err != nil {
			return Frame{}, 0, err
		}
	case ftype == FrameTypeRequestResponse || ftype == FrameTypeRequestFNF:
		p, err := decodePayload(rest, flags)
		if err != nil {
			return Frame{}, 0, err
		}
		f.Payload = p
	case ftype == FrameTypeRequestStream:
		if len(rest) < 4 {
			return Frame{}, 0, NewConnectionError(ErrorCodeInvalid, "truncated REQUEST_STREAM body")
		}
		f.InitialRequestN = binary.BigEndian.Uint32(rest[0:4])
		p, err := decodePayload(rest[4:], flags)
		if err != nil {
			return Frame{}, 0, err
		}
		f.Payload = p
	case ftype == FrameTypeRequestN:
		if len(rest) < 4 {
			return Frame{}, 0, NewConnectionError(ErrorCodeInvalid, "truncated REQUEST_N body")
		}
		f.RequestN = binary.BigEndian.Uint32(rest[0:4])
	case ftype == FrameTypeCancel:
		// no body
	case ftype == FrameTypePayload:
		p, err := decodePayload(rest, flags)
		if err != nil {
			return Frame{}, 0, err
		}
		f.Payload = p
	case ftype == FrameTypeError:
		if len(rest) < 4 {
			return Frame{}, 0, NewConnectionError(ErrorCodeInvalid, "truncated ERROR body")
		}
		f.ErrorCode = ErrorCode(binary.BigEndian.Uint32(rest[0:4]))
		f.Payload = Payload{Data: append([]byte(nil), rest[4:]...)}
	case uint8(ftype) >= reservedExtensionMin:
		f.Type = FrameTypeReserved
		f.Payload = Payload{Data: append([]byte(nil), rest...)}
	default:
		return Frame{}, 0, NewConnectionError(ErrorCodeInvalid, "unknown frame type")
	}

	return f, total, nil
}

func decodePayload(rest []byte, flags Flags) (Payload, error) {
	if !flags.Has(FlagMetadata) {
		return Payload{Data: append([]byte(nil), rest...)}, nil
	}
	if len(rest) < metadataLengthFieldSize {
		return Payload{}, NewConnectionError(ErrorCodeInvalid, "truncated metadata length")
	}
	mlen := int(rest[0])<<16 | int(rest[1])<<8 | int(rest[2])
	rest = rest[metadataLengthFieldSize:]
	if len(rest) < mlen {
		return Payload{}, NewConnectionError(ErrorCodeInvalid, "truncated metadata body")
	}
	md := append([]byte(nil), rest[:mlen]...)
	data := append([]byte(nil), rest[mlen:]...)
	return Payload{Metadata: md, Data: data}, nil
}

func decodeSetupBody(rest []byte, flags Flags, f *Frame) error {
	if len(rest) < 2+2+4+4+2 {
		return NewConnectionError(ErrorCodeInvalidSetup, "truncated SETUP body")
	}
	f.Setup.MajorVersion = binary.BigEndian.Uint16(rest[0:2])
	f.Setup.MinorVersion = binary.BigEndian.Uint16(rest[2:4])
	f.Setup.KeepaliveMillis = binary.BigEndian.Uint32(rest[4:8])
	f.Setup.MaxLifetimeMS = binary.BigEndian.Uint32(rest[8:12])
	rtLen := int(binary.BigEndian.Uint16(rest[12:14]))
	rest = rest[14:]
	if len(rest) < rtLen {
		return NewConnectionError(ErrorCodeInvalidSetup, "truncated SETUP resume token")
	}
	if rtLen > 0 {
		f.Setup.ResumeToken = append([]byte(nil), rest[:rtLen]...)
	}
	rest = rest[rtLen:]

	if len(rest) < 1 {
		return NewConnectionError(ErrorCodeInvalidSetup, "truncated SETUP metadata mime length")
	}
	mmLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < mmLen {
		return NewConnectionError(ErrorCodeInvalidSetup, "truncated SETUP metadata mime")
	}
	f.Setup.MetadataMimeype = string(rest[:mmLen])
	rest = rest[mmLen:]

	if len(rest) < 1 {
		return NewConnectionError(ErrorCodeInvalidSetup, "truncated SETUP data mime length")
	}
	dmLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < dmLen {
		return NewConnectionError(ErrorCodeInvalidSetup, "truncated SETUP data mime")
	}
	f.Setup.DataMimeType = string(rest[:dmLen])
	rest = rest[dmLen:]

	p, err := decodePayload(rest, flags)
	if err != nil {
		return err
	}
	f.Payload = p
	return nil
}

// Encode serializes f to its wire representation, including the leading
// length prefix. Encode always succeeds for any frame this package
// constructs internally.
func Encode(f Frame) []byte {
	var body []byte
	body = appendHeader(body, f)

	switch f.Type {
	case FrameTypeSetup:
		body = appendSetupBody(body, f)
	case FrameTypeRequestResponse, FrameTypeRequestFNF:
		body = appendPayload(body, f.Flags, f.Payload)
	case FrameTypeRequestStream:
		body = appendUint32(body, f.InitialRequestN)
		body = appendPayload(body, f.Flags, f.Payload)
	case FrameTypeRequestN:
		body = appendUint32(body, f.RequestN)
	case FrameTypeCancel:
		// no body
	case FrameTypePayload:
		body = appendPayload(body, f.Flags, f.Payload)
	case FrameTypeError:
		body = appendUint32(body, uint32(f.ErrorCode))
		body = append(body, f.Payload.Data...)
	}

	out := make([]byte, frameLengthFieldSize, frameLengthFieldSize+len(body))
	length := len(body)
	out[0] = byte(length >> 16)
	out[1] = byte(length >> 8)
	out[2] = byte(length)
	out = append(out, body...)
	return out
}

func appendHeader(body []byte, f Frame) []byte {
	var sid [4]byte
	binary.BigEndian.PutUint32(sid[:], uint32(f.StreamID))
	body = append(body, sid[:]...)
	typeAndFlags := uint16(f.Type&0x3f)<<10 | uint16(f.Flags&flagsMask)
	var tf [2]byte
	binary.BigEndian.PutUint16(tf[:], typeAndFlags)
	return append(body, tf[:]...)
}

func appendUint32(body []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(body, b[:]...)
}

func appendPayload(body []byte, flags Flags, p Payload) []byte {
	if flags.Has(FlagMetadata) {
		mlen := len(p.Metadata)
		body = append(body, byte(mlen>>16), byte(mlen>>8), byte(mlen))
		body = append(body, p.Metadata...)
	}
	return append(body, p.Data...)
}

func appendSetupBody(body []byte, f Frame) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], f.Setup.MajorVersion)
	body = append(body, b[:]...)
	binary.BigEndian.PutUint16(b[:], f.Setup.MinorVersion)
	body = append(body, b[:]...)
	body = appendUint32(body, f.Setup.KeepaliveMillis)
	body = appendUint32(body, f.Setup.MaxLifetimeMS)
	binary.BigEndian.PutUint16(b[:], uint16(len(f.Setup.ResumeToken)))
	body = append(body, b[:]...)
	body = append(body, f.Setup.ResumeToken...)
	body = append(body, byte(len(f.Setup.MetadataMimeype)))
	body = append(body, []byte(f.Setup.MetadataMimeype)...)
	body = append(body, byte(len(f.Setup.DataMimeType)))
	body = append(body, []byte(f.Setup.DataMimeType)...)
	body = appendPayload(body, f.Flags, f.Payload)
	return body
}
