// Package rocket implements the server-side connection core of a
// Rocket-family multiplexed RPC wire protocol: frame decoding/encoding, the
// per-connection state machine, per-stream demand-based flow control, write
// batching, and the contracts exposed to an application frame handler and an
// enclosing connection manager.
package rocket

import "fmt"

// StreamID identifies a stream within a connection. 0 is reserved for
// connection-level frames (e.g. a connection-scoped ERROR).
type StreamID uint32

// ConnStreamID is the reserved stream ID for connection-level frames.
const ConnStreamID StreamID = 0

// ConnectionState is the top-level lifecycle state of a ConnectionCore.
// Transitions are monotonic: ALIVE -> CLOSING -> CLOSED.
type ConnectionState int

const (
	StateAlive ConnectionState = iota
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateAlive:
		return "ALIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// ErrorCode is the closed set of error codes this protocol can report.
type ErrorCode uint32

const (
	ErrorCodeInvalidSetup     ErrorCode = 1
	ErrorCodeUnsupportedSetup ErrorCode = 2
	ErrorCodeRejectedSetup    ErrorCode = 3
	ErrorCodeConnectionError  ErrorCode = 4
	ErrorCodeConnectionClose  ErrorCode = 5
	ErrorCodeApplicationError ErrorCode = 6
	ErrorCodeInvalid          ErrorCode = 7
	ErrorCodeCanceled         ErrorCode = 8
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeInvalidSetup:
		return "INVALID_SETUP"
	case ErrorCodeUnsupportedSetup:
		return "UNSUPPORTED_SETUP"
	case ErrorCodeRejectedSetup:
		return "REJECTED_SETUP"
	case ErrorCodeConnectionError:
		return "CONNECTION_ERROR"
	case ErrorCodeConnectionClose:
		return "CONNECTION_CLOSE"
	case ErrorCodeApplicationError:
		return "APPLICATION_ERROR"
	case ErrorCodeInvalid:
		return "INVALID"
	case ErrorCodeCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint32(c))
	}
}

// Payload is the application-opaque body carried by REQUEST_* and PAYLOAD
// frames. Either segment may be empty.
type Payload struct {
	Metadata []byte
	Data     []byte
}

// IsEmpty reports whether the payload carries neither metadata nor data.
func (p Payload) IsEmpty() bool {
	return len(p.Metadata) == 0 && len(p.Data) == 0
}
