// Package dispatcher pumps frames from a transport into a
// pkg/connection.Connection and routes the results to the application's
// Publish/Control services, folding every failure into the three-tier error
// model spec.md §7 describes. Generalized from the Service<DispatchItem>
// implementation in original_source/src/dispatcher.rs into a plain blocking
// loop, since Go has goroutines and channels where the Rust original needed
// a hand-rolled poll-based future combinator (PublishResponse/ControlResponse).
package dispatcher

import (
	"context"
	"errors"
	"log"

	"github.com/nullstream/h2engine/pkg/connection"
	"github.com/nullstream/h2engine/pkg/control"
	"github.com/nullstream/h2engine/pkg/frame"
	"github.com/nullstream/h2engine/pkg/herrors"
	"github.com/nullstream/h2engine/pkg/stream"
)

// ItemKind discriminates the variant of a DispatchItem, mirroring
// ntex_io::DispatchItem's Item/EncoderError/DecoderError/KeepAliveTimeout/
// Disconnect/WBackPressureEnabled/WBackPressureDisabled cases.
type ItemKind int

const (
	ItemFrame ItemKind = iota
	ItemEncoderError
	ItemDecoderError
	ItemKeepAliveTimeout
	ItemDisconnect
	ItemWBackPressureEnabled
	ItemWBackPressureDisabled
)

// DispatchItem is one unit of work the transport collaborator feeds the
// Dispatcher.
type DispatchItem struct {
	Kind  ItemKind
	Frame frame.Frame // ItemFrame
	Err   error       // ItemEncoderError, ItemDecoderError, ItemDisconnect
}

// Source is the transport-agnostic input side the Dispatcher reads from.
// pkg/transport implements this over a real net.Conn; tests can implement
// it over an in-memory queue.
type Source interface {
	Next(ctx context.Context) (DispatchItem, error)
}

// Dispatcher owns one connection's full request/response processing loop.
type Dispatcher struct {
	conn       *connection.Connection
	publish    control.Publish
	ctl        control.Control
	terminated bool
}

// New creates a Dispatcher wired to the given Connection and services.
func New(conn *connection.Connection, publish control.Publish, ctl control.Control) *Dispatcher {
	return &Dispatcher{conn: conn, publish: publish, ctl: ctl}
}

// Run drains src until it returns io.EOF-equivalent (ItemDisconnect) or the
// context is canceled, dispatching every item and performing the 3-phase
// idempotent shutdown handshake on the way out (spec.md §7's "Graceful vs.
// abrupt shutdown").
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	var runErr error
	isError := false

loop:
	for {
		item, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				runErr = err
				isError = true
				break loop
			}
			runErr = err
			isError = true
			break loop
		}

		frameOut, terminate, err := d.call(ctx, item)
		if err != nil {
			log.Printf("dispatcher: control service error, terminating: %v", err)
			runErr = err
			isError = true
			break loop
		}
		if frameOut != nil {
			if werr := d.writeOut(frameOut); werr != nil {
				runErr = werr
				isError = true
				break loop
			}
		}
		if terminate {
			break loop
		}
		if item.Kind == ItemDisconnect {
			break loop
		}
	}

	d.shutdown(ctx, isError)
	return runErr
}

// writeOut is a seam for the case a Control result carries a frame the
// Connection itself didn't already emit: a GOAWAY issued in response to a
// terminal Control error, or an RST_STREAM the Control service chose to send
// for a stream it rejected (spec.md §6, "a returned RST_STREAM frame with
// nonzero stream id causes the engine to reset that stream"). Connection
// exposes no generic "write arbitrary frame" method, so this switches on the
// two kinds Control is allowed to hand back.
func (d *Dispatcher) writeOut(f frame.Frame) error {
	switch fr := f.(type) {
	case *frame.GoAwayFrame:
		return d.conn.GoAway(fr.ErrCode, string(fr.DebugData))
	case *frame.RstStreamFrame:
		return d.conn.ResetStream(fr.ID, fr.ErrCode)
	default:
		return nil
	}
}

// call processes one DispatchItem, returning an optional frame to write, a
// termination flag, and an error. A failing Control service is not reported
// through the error: runControl answers it with a GOAWAY(INTERNAL_ERROR) and
// sets the termination flag (original_source/src/dispatcher.rs's
// ControlResponse::poll comment "we cannot handle control service errors,
// close connection").
func (d *Dispatcher) call(ctx context.Context, item DispatchItem) (frame.Frame, bool, error) {
	switch item.Kind {
	case ItemFrame:
		return d.handleFrame(ctx, item.Frame)
	case ItemEncoderError, ItemDecoderError:
		return d.runControl(ctx, control.ProtoErrorMessage(herrors.NewFrameError(item.Err)))
	case ItemKeepAliveTimeout:
		return d.runControl(ctx, control.ProtoErrorMessage(herrors.NewKeepaliveTimeoutError()))
	case ItemDisconnect:
		return d.runControl(ctx, control.PeerGoneMessage(item.Err))
	case ItemWBackPressureEnabled, ItemWBackPressureDisabled:
		return nil, false, nil
	default:
		return nil, false, nil
	}
}

func (d *Dispatcher) handleFrame(ctx context.Context, f frame.Frame) (frame.Frame, bool, error) {
	if ga, ok := f.(*frame.GoAwayFrame); ok {
		_, _ = d.conn.Dispatch(f)
		return d.runControl(ctx, control.GoAwayMessage(ga))
	}

	msg, err := d.conn.Dispatch(f)
	if err != nil {
		if pe, ok := herrors.AsProtocolError(err); ok {
			return d.runControl(ctx, control.ProtoErrorMessage(pe))
		}
		if se, ok := herrors.AsStreamError(err); ok {
			return d.runControl(ctx, control.StreamErrorMessage(se))
		}
		return d.runControl(ctx, control.ProtoErrorMessage(herrors.NewFrameError(err)))
	}
	if msg == nil {
		return nil, false, nil
	}

	ref := stream.Ref{ID: msg.StreamID, Conn: d.conn}
	if pubErr := d.publish.Publish(ctx, msg, ref); pubErr != nil {
		return d.runControl(ctx, control.AppErrorMessage(pubErr, ref))
	}
	return nil, false, nil
}

func (d *Dispatcher) runControl(ctx context.Context, msg control.ControlMessage) (frame.Frame, bool, error) {
	result, err := d.ctl.Control(ctx, msg)
	if err != nil {
		// Unrecoverable: answer with a terminal GOAWAY and tear down.
		_ = d.conn.GoAway(herrors.InternalError, err.Error())
		return nil, true, nil
	}
	return result.Frame, result.Disconnect, nil
}

// shutdown runs the idempotent 3-phase teardown: on a graceful exit, mark
// the drain boundary with a PingShutdown probe so the peer can tell the
// in-flight frames preceding it are the last this side will send, then
// notify Control and declare the connection dead. Repeated calls (e.g. from
// both a Disconnect item and an outer context cancellation) are safe because
// terminated delivery only ever happens once per Dispatcher.
func (d *Dispatcher) shutdown(ctx context.Context, isError bool) {
	if d.terminated {
		return
	}
	d.terminated = true
	if !isError {
		_ = d.conn.Ping(frame.PingShutdown)
	}
	_, _ = d.ctl.Control(ctx, control.TerminatedMessage(isError))
}

// Ping issues a connection-level PING probe carrying the PingUser sentinel
// (spec.md §6), the health-check surface the distilled spec names but never
// gives a caller.
func (d *Dispatcher) Ping() error {
	return d.conn.Ping(frame.PingUser)
}
