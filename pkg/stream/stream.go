package stream

import (
	"github.com/nullstream/h2engine/pkg/flowcontrol"
	"github.com/nullstream/h2engine/pkg/herrors"
)

// ConnAccessor is the narrow slice of *connection.Connection a Stream
// handle (Ref) needs, broken out as an interface to avoid an import cycle
// between pkg/stream and pkg/connection (the Connection exclusively owns
// the streams map; Ref is a capability, never an owner — spec.md §9
// "Design Notes").
type ConnAccessor interface {
	SendHeaders(id uint32, status int, fields []HeaderField, eof bool) error
	SendData(id uint32, data []byte, eof bool) error
	SendTrailers(id uint32, fields []HeaderField, eof bool) error
	ResetStream(id uint32, reason herrors.Reason) error
	StreamState(id uint32) (State, bool)
}

// HeaderField is a minimal name/value pair, mirrored here (rather than
// imported from pkg/frame) to keep this package free of a codec dependency;
// pkg/connection adapts between the two.
type HeaderField struct {
	Name  string
	Value string
}

// Stream holds the RFC 7540 state of a single stream plus the flow-control
// bookkeeping spec.md §3 requires. Content-length/trailers accounting lives
// in pkg/message.Assembler instead of here, since it is per-message rather
// than per-stream-lifetime state. All fields are mutated exclusively by
// pkg/connection; Stream itself has no lock, matching the
// single-scheduling-domain model of spec.md §5.
type Stream struct {
	ID    uint32
	State State
	Local bool // true if this stream was opened by us

	RecvFlow *flowcontrol.RecvWindow
	SendFlow *flowcontrol.SendWindow

	HeadRequest  bool // :method was HEAD on the request HEADERS
	FailedReason *herrors.Reason

	HeadersSeen bool // the opening HEADERS frame has been processed

	// PendingData holds bytes queued by SendData calls that could not be
	// emitted immediately because the send window was exhausted; they are
	// drained by Connection whenever a WINDOW_UPDATE arrives (spec.md §5's
	// "pending-write queue" resolution of the async-park Open Question).
	PendingData    []byte
	PendingDataEOF bool
}

// New creates a Stream in the Idle state with windows seeded from the given
// initial sizes.
func New(id uint32, local bool, recvInitial, sendInitial uint32) *Stream {
	return &Stream{
		ID:       id,
		State:    Idle,
		Local:    local,
		RecvFlow: flowcontrol.NewRecvWindow(recvInitial),
		SendFlow: flowcontrol.NewSendWindow(sendInitial),
	}
}

// Ref is the stable, weak handle an application holds to a stream: identity
// plus a back-reference to the owning connection, never stream ownership
// itself (spec.md §9).
type Ref struct {
	ID   uint32
	Conn ConnAccessor
}

// State returns the current state of the referenced stream, or (Closed,
// false) if the connection no longer knows about it.
func (r Ref) State() (State, bool) {
	return r.Conn.StreamState(r.ID)
}

// SendHeaders writes a response HEADERS frame (:status plus fields) for a
// peer-initiated stream through the owning connection — the Publish-side
// counterpart to OpenStream's request HEADERS (spec.md §8 scenario 1,
// "Publish responds HEADERS(...) + DATA(...)").
func (r Ref) SendHeaders(status int, fields []HeaderField, eof bool) error {
	return r.Conn.SendHeaders(r.ID, status, fields, eof)
}

// SendData writes a DATA chunk for this stream through the owning
// connection.
func (r Ref) SendData(data []byte, eof bool) error {
	return r.Conn.SendData(r.ID, data, eof)
}

// SendTrailers writes a trailing HEADERS frame (must carry END_STREAM).
func (r Ref) SendTrailers(fields []HeaderField) error {
	return r.Conn.SendTrailers(r.ID, fields, true)
}

// Reset issues a RST_STREAM for this stream with the given reason, e.g.
// herrors.Cancel when an application drops the handle before END_STREAM
// (spec.md §5 "Cancellation semantics").
func (r Ref) Reset(reason herrors.Reason) error {
	return r.Conn.ResetStream(r.ID, reason)
}
