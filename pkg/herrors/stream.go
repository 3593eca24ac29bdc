package herrors

import "fmt"

// StreamKind classifies a stream-fatal failure: the connection survives, the
// offending stream is reset with RST_STREAM.
type StreamKind int

const (
	SIdle StreamKind = iota
	SClosed
	SWindowOverflowed
	SWindowZeroUpdateValue
	STrailersWithoutEos
	SInvalidContentLength
	SWrongPayloadLength
	SNonEmptyPayload
)

// StreamError is stream-fatal: the connection continues after a RST_STREAM.
type StreamError struct {
	Kind     StreamKind
	StreamID uint32
	Detail   string
}

func (e *StreamError) Error() string {
	switch e.Kind {
	case SIdle:
		return fmt.Sprintf("stream %d in idle state: %s", e.StreamID, e.Detail)
	case SClosed:
		return fmt.Sprintf("stream %d is closed", e.StreamID)
	case SWindowOverflowed:
		return fmt.Sprintf("stream %d window overflowed", e.StreamID)
	case SWindowZeroUpdateValue:
		return fmt.Sprintf("stream %d received a zero-value window update", e.StreamID)
	case STrailersWithoutEos:
		return fmt.Sprintf("stream %d sent trailers without END_STREAM", e.StreamID)
	case SInvalidContentLength:
		return fmt.Sprintf("stream %d has an invalid content-length header", e.StreamID)
	case SWrongPayloadLength:
		return fmt.Sprintf("stream %d payload length does not match content-length", e.StreamID)
	case SNonEmptyPayload:
		return fmt.Sprintf("stream %d is a HEAD response with a non-empty payload", e.StreamID)
	default:
		return fmt.Sprintf("stream %d error", e.StreamID)
	}
}

// Reason maps the stream error to the RST_STREAM error code it produces.
func (e *StreamError) Reason() Reason {
	switch e.Kind {
	case SClosed:
		return StreamClosedCode
	case SWindowOverflowed:
		return FlowControlError
	default:
		return ProtocolErrorCode
	}
}

func NewStreamIdleErr(id uint32, detail string) *StreamError {
	return &StreamError{Kind: SIdle, StreamID: id, Detail: detail}
}

func NewStreamClosedErr(id uint32) *StreamError {
	return &StreamError{Kind: SClosed, StreamID: id}
}

func NewWindowOverflowedError(id uint32) *StreamError {
	return &StreamError{Kind: SWindowOverflowed, StreamID: id}
}

func NewWindowZeroUpdateValueError(id uint32) *StreamError {
	return &StreamError{Kind: SWindowZeroUpdateValue, StreamID: id}
}

func NewTrailersWithoutEosError(id uint32) *StreamError {
	return &StreamError{Kind: STrailersWithoutEos, StreamID: id}
}

func NewInvalidContentLengthError(id uint32) *StreamError {
	return &StreamError{Kind: SInvalidContentLength, StreamID: id}
}

func NewWrongPayloadLengthError(id uint32) *StreamError {
	return &StreamError{Kind: SWrongPayloadLength, StreamID: id}
}

func NewNonEmptyPayloadError(id uint32) *StreamError {
	return &StreamError{Kind: SNonEmptyPayload, StreamID: id}
}
