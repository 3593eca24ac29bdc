package herrors

import "fmt"

// ProtocolKind classifies a connection-fatal failure. Every kind maps to a
// Reason via ToGoAway, matching original_source/src/error.rs::to_goaway.
type ProtocolKind int

const (
	UnknownStream ProtocolKind = iota
	InvalidStreamID
	StreamIdle
	StreamClosed
	UnexpectedSettingsAck
	MissingPseudo
	UnexpectedPseudo
	ZeroWindowUpdateValue
	KeepaliveTimeout
	FrameError
	EncoderError
	ExplicitReason
	HandshakeTimeout
)

// ProtocolError is connection-fatal: the dispatcher answers with GOAWAY and
// closes the transport.
type ProtocolError struct {
	Kind   ProtocolKind
	Detail string // e.g. the pseudo-header name, the stream id text
	Cause  error
	reason Reason // only set when Kind == ExplicitReason
}

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case UnknownStream:
		return fmt.Sprintf("unknown stream: %s", e.Detail)
	case InvalidStreamID:
		return "invalid stream identifier"
	case StreamIdle:
		return fmt.Sprintf("stream idle: %s", e.Detail)
	case StreamClosed:
		return fmt.Sprintf("stream %s is closed", e.Detail)
	case UnexpectedSettingsAck:
		return "unexpected settings ack received"
	case MissingPseudo:
		return fmt.Sprintf("missing pseudo header %q", e.Detail)
	case UnexpectedPseudo:
		return fmt.Sprintf("unexpected pseudo header %q", e.Detail)
	case ZeroWindowUpdateValue:
		return "zero value for window update frame is not allowed"
	case KeepaliveTimeout:
		return "keep-alive timeout"
	case HandshakeTimeout:
		return "handshake timed out"
	case FrameError:
		if e.Cause != nil {
			return fmt.Sprintf("frame error: %v", e.Cause)
		}
		return "frame error"
	case EncoderError:
		if e.Cause != nil {
			return fmt.Sprintf("encoder error: %v", e.Cause)
		}
		return "encoder error"
	case ExplicitReason:
		return fmt.Sprintf("connection error: %s", e.reason)
	default:
		return "protocol error"
	}
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// ToGoAway returns the Reason and human-readable debug payload a GOAWAY
// frame should carry for this error.
func (e *ProtocolError) ToGoAway() (Reason, string) {
	switch e.Kind {
	case ExplicitReason:
		return e.reason, e.reason.String()
	case StreamClosed:
		return StreamClosedCode, e.Error()
	case KeepaliveTimeout:
		return NoError, e.Error()
	case HandshakeTimeout:
		// spec.md §4.1: a handshake timeout yields HandshakeTimeout "without
		// emitting a GOAWAY" — there is no established connection to send one
		// over yet, so callers of ToGoAway never actually reach this case from
		// pkg/handshake; it exists for interface completeness only.
		return NoError, e.Error()
	default:
		return ProtocolErrorCode, e.Error()
	}
}

func NewUnknownStreamError(detail string) *ProtocolError {
	return &ProtocolError{Kind: UnknownStream, Detail: detail}
}

func NewInvalidStreamIDError() *ProtocolError {
	return &ProtocolError{Kind: InvalidStreamID}
}

func NewStreamIdleError(detail string) *ProtocolError {
	return &ProtocolError{Kind: StreamIdle, Detail: detail}
}

func NewStreamClosedError(detail string) *ProtocolError {
	return &ProtocolError{Kind: StreamClosed, Detail: detail}
}

func NewUnexpectedSettingsAckError() *ProtocolError {
	return &ProtocolError{Kind: UnexpectedSettingsAck}
}

func NewMissingPseudoError(name string) *ProtocolError {
	return &ProtocolError{Kind: MissingPseudo, Detail: name}
}

func NewUnexpectedPseudoError(name string) *ProtocolError {
	return &ProtocolError{Kind: UnexpectedPseudo, Detail: name}
}

func NewZeroWindowUpdateValueError() *ProtocolError {
	return &ProtocolError{Kind: ZeroWindowUpdateValue}
}

func NewKeepaliveTimeoutError() *ProtocolError {
	return &ProtocolError{Kind: KeepaliveTimeout}
}

func NewHandshakeTimeoutError() *ProtocolError {
	return &ProtocolError{Kind: HandshakeTimeout}
}

func NewFrameError(cause error) *ProtocolError {
	return &ProtocolError{Kind: FrameError, Cause: cause}
}

func NewEncoderError(cause error) *ProtocolError {
	return &ProtocolError{Kind: EncoderError, Cause: cause}
}

func NewReasonError(r Reason) *ProtocolError {
	return &ProtocolError{Kind: ExplicitReason, reason: r}
}
