package herrors

import (
	"errors"
	"fmt"
)

// OperationKind classifies an application-visible failure returned from a
// Stream handle operation (send/recv on behalf of the application).
type OperationKind int

const (
	OpStream OperationKind = iota
	OpProtocol
	OpIdle
	OpPayload
	OpClosed
	OpRemoteReset
	OpOverflowedStreamID
	OpDisconnected
)

// OperationError is returned to application code from Stream.Send* calls; it
// never crosses into the dispatcher's control/publish folding path.
type OperationError struct {
	Kind   OperationKind
	Reason *Reason // set for OpClosed (optional) and OpRemoteReset
	Cause  error   // set for OpStream/OpProtocol, wraps the underlying error
}

func (e *OperationError) Error() string {
	switch e.Kind {
	case OpStream:
		return e.Cause.Error()
	case OpProtocol:
		return e.Cause.Error()
	case OpIdle:
		return "cannot process operation for idle stream"
	case OpPayload:
		return "cannot process operation for stream in payload state"
	case OpClosed:
		if e.Reason != nil {
			return fmt.Sprintf("stream is closed: %s", *e.Reason)
		}
		return "stream is closed"
	case OpRemoteReset:
		return fmt.Sprintf("stream has been reset from the peer with %s", *e.Reason)
	case OpOverflowedStreamID:
		return "the stream id space is overflowed"
	case OpDisconnected:
		return "connection is closed"
	default:
		return "operation error"
	}
}

func (e *OperationError) Unwrap() error { return e.Cause }

func FromStreamError(err *StreamError) *OperationError {
	return &OperationError{Kind: OpStream, Cause: err}
}

func FromProtocolError(err *ProtocolError) *OperationError {
	return &OperationError{Kind: OpProtocol, Cause: err}
}

func NewIdleOperationError() *OperationError {
	return &OperationError{Kind: OpIdle}
}

func NewPayloadOperationError() *OperationError {
	return &OperationError{Kind: OpPayload}
}

func NewClosedOperationError(reason *Reason) *OperationError {
	return &OperationError{Kind: OpClosed, Reason: reason}
}

func NewRemoteResetError(reason Reason) *OperationError {
	return &OperationError{Kind: OpRemoteReset, Reason: &reason}
}

func NewOverflowedStreamIDError() *OperationError {
	return &OperationError{Kind: OpOverflowedStreamID}
}

func NewDisconnectedError() *OperationError {
	return &OperationError{Kind: OpDisconnected}
}

// AsProtocolError reports whether err (or something it wraps) is a
// *ProtocolError, mirroring how the dispatcher classifies Connection.Dispatch
// results.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// AsStreamError reports whether err (or something it wraps) is a
// *StreamError.
func AsStreamError(err error) (*StreamError, bool) {
	var se *StreamError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
