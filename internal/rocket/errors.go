package rocket

import "fmt"

// StreamError is an error scoped to a single stream. It is reported to the
// peer as an ERROR frame on that stream; the connection stays ALIVE.
type StreamError struct {
	StreamID uint32
	Code     ErrorCode
	Msg      string
	Cause    error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream error on stream %d: %s (code %s): %s", e.StreamID, e.Msg, e.Code, e.Cause)
	}
	return fmt.Sprintf("stream error on stream %d: %s (code %s)", e.StreamID, e.Msg, e.Code)
}

func (e *StreamError) Unwrap() error { return e.Cause }

// NewStreamError creates a new StreamError.
func NewStreamError(streamID uint32, code ErrorCode, msg string) *StreamError {
	return &StreamError{StreamID: streamID, Code: code, Msg: msg}
}

// NewStreamErrorWithCause creates a new StreamError wrapping an underlying cause.
func NewStreamErrorWithCause(streamID uint32, code ErrorCode, msg string, cause error) *StreamError {
	return &StreamError{StreamID: streamID, Code: code, Msg: msg, Cause: cause}
}

// ConnectionError is fatal to the connection. It is reported as an ERROR
// frame on stream 0 before the connection transitions to CLOSING.
type ConnectionError struct {
	Code  ErrorCode
	Msg   string
	Cause error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection error: %s (code %s): %s", e.Msg, e.Code, e.Cause)
	}
	return fmt.Sprintf("connection error: %s (code %s)", e.Msg, e.Code)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(code ErrorCode, msg string) *ConnectionError {
	return &ConnectionError{Code: code, Msg: msg}
}

// NewConnectionErrorWithCause creates a new ConnectionError wrapping an
// underlying transport-level cause (e.g. a socket write failure).
func NewConnectionErrorWithCause(code ErrorCode, msg string, cause error) *ConnectionError {
	return &ConnectionError{Code: code, Msg: msg, Cause: cause}
}

// GenerateErrorFrame builds the wire ERROR frame corresponding to err. If err
// is a *StreamError its StreamID and Code are used; if it is a
// *ConnectionError the frame targets ConnStreamID; otherwise code/streamID
// fall back to the supplied defaults.
func GenerateErrorFrame(streamID StreamID, code ErrorCode, err error) Frame {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	finalStreamID := streamID
	finalCode := code

	switch e := err.(type) {
	case *StreamError:
		finalStreamID = StreamID(e.StreamID)
		finalCode = e.Code
		msg = e.Msg
	case *ConnectionError:
		finalStreamID = ConnStreamID
		finalCode = e.Code
		msg = e.Msg
	}

	return Frame{
		Type:      FrameTypeError,
		StreamID:  finalStreamID,
		ErrorCode: finalCode,
		Payload:   Payload{Data: []byte(msg)},
	}
}
