// Package control defines the pluggable Publish/Control service interfaces
// pkg/dispatcher drives: Publish receives each assembled pkg/message.Message,
// Control receives connection-lifecycle events (protocol/stream/application
// errors, GOAWAY, peer-gone, shutdown). The split is carried over unchanged
// from original_source/src/dispatcher.rs's two generic Service parameters
// (Pub: Service<Message>, Ctl: Service<ControlMessage<Pub::Error>>), recast
// as Go interfaces since Go has no service-trait generics to lean on.
package control

import (
	"context"

	"github.com/nullstream/h2engine/pkg/frame"
	"github.com/nullstream/h2engine/pkg/herrors"
	"github.com/nullstream/h2engine/pkg/message"
	"github.com/nullstream/h2engine/pkg/stream"
)

// Publish handles one assembled application message. A non-nil error is
// reported to Control as an AppError, scoped to the stream the message
// belongs to (original_source/src/dispatcher.rs's PublishResponse: a publish
// failure transitions into a ControlResponse carrying ControlMessage::app_error).
type Publish interface {
	Publish(ctx context.Context, msg *message.Message, ref stream.Ref) error
}

// PublishFunc adapts a plain function to Publish.
type PublishFunc func(ctx context.Context, msg *message.Message, ref stream.Ref) error

func (f PublishFunc) Publish(ctx context.Context, msg *message.Message, ref stream.Ref) error {
	return f(ctx, msg, ref)
}

// Kind discriminates the variant of a ControlMessage.
type Kind int

const (
	KindProtocolError Kind = iota
	KindStreamError
	KindAppError
	KindGoAway
	KindPeerGone
	KindTerminated
)

// ControlMessage is a single connection-lifecycle event delivered to the
// Control service, mirroring original_source/src/dispatcher.rs's
// ControlMessage::{proto_error, stream_error, app_error, go_away, peer_gone,
// terminated} constructors.
type ControlMessage struct {
	Kind Kind

	ProtoErr  *herrors.ProtocolError // KindProtocolError
	StreamErr *herrors.StreamError   // KindStreamError
	AppErr    error                  // KindAppError
	Stream    stream.Ref             // KindAppError

	GoAway *frame.GoAwayFrame // KindGoAway
	Cause  error              // KindPeerGone

	IsError bool // KindTerminated
}

func ProtoErrorMessage(err *herrors.ProtocolError) ControlMessage {
	return ControlMessage{Kind: KindProtocolError, ProtoErr: err}
}

func StreamErrorMessage(err *herrors.StreamError) ControlMessage {
	return ControlMessage{Kind: KindStreamError, StreamErr: err}
}

func AppErrorMessage(err error, ref stream.Ref) ControlMessage {
	return ControlMessage{Kind: KindAppError, AppErr: err, Stream: ref}
}

func GoAwayMessage(f *frame.GoAwayFrame) ControlMessage {
	return ControlMessage{Kind: KindGoAway, GoAway: f}
}

func PeerGoneMessage(cause error) ControlMessage {
	return ControlMessage{Kind: KindPeerGone, Cause: cause}
}

func TerminatedMessage(isError bool) ControlMessage {
	return ControlMessage{Kind: KindTerminated, IsError: isError}
}

// Result is the Control service's verdict: an optional outbound frame
// (typically a GOAWAY) and whether the dispatcher must tear the connection
// down afterward. Mirrors original_source/src/dispatcher.rs's ControlResult
// (an Option<Frame> erased from ControlResponse::poll).
type Result struct {
	Frame      frame.Frame
	Disconnect bool
}

// Control handles connection-lifecycle events reported by the dispatcher. A
// Control failure is unrecoverable: per original_source/src/dispatcher.rs's
// ControlResponse::poll comment ("we cannot handle control service errors,
// close connection"), the dispatcher responds with a terminal
// GOAWAY(INTERNAL_ERROR) regardless of what Control itself returns.
type Control interface {
	Control(ctx context.Context, msg ControlMessage) (Result, error)
}

// ControlFunc adapts a plain function to Control.
type ControlFunc func(ctx context.Context, msg ControlMessage) (Result, error)

func (f ControlFunc) Control(ctx context.Context, msg ControlMessage) (Result, error) {
	return f(ctx, msg)
}
