package connection

import (
	"fmt"
	"strconv"
	"time"

	"golang.org/x/net/http2/hpack"

	"github.com/nullstream/h2engine/pkg/flowcontrol"
	"github.com/nullstream/h2engine/pkg/frame"
	"github.com/nullstream/h2engine/pkg/herrors"
	"github.com/nullstream/h2engine/pkg/message"
	"github.com/nullstream/h2engine/pkg/registry"
	"github.com/nullstream/h2engine/pkg/stream"
)

// FrameWriter is the narrow slice of *frame.Codec the Connection needs to
// emit frames; kept as an interface so tests can substitute a recording
// writer without standing up a real Codec (WhileEndless/go-rawhttp's own
// tests do the same against FrameHandler).
type FrameWriter interface {
	WriteFrame(f frame.Frame) error
}

// Config bundles the connection-establishment parameters spec.md §6
// describes as the handshake's configuration surface.
type Config struct {
	IsClient bool
	Local    Settings

	// ConnectionWindowSize seeds the connection-level receive window,
	// independent of the per-stream InitialWindowSize (RFC 7540 §6.9.2
	// only governs stream-level windows).
	ConnectionWindowSize uint32

	ResetStreamMax int
	ResetStreamTTL time.Duration
}

// DefaultConfig returns the spec.md §6 defaults for the given role.
func DefaultConfig(isClient bool) Config {
	return Config{
		IsClient:             isClient,
		Local:                DefaultLocalSettings(),
		ConnectionWindowSize: 65535,
		ResetStreamMax:       10,
		ResetStreamTTL:       10 * time.Second,
	}
}

// Connection is the single-scheduling-domain RFC 7540 state machine: stream
// lifecycle, frame dispatch and two-level flow control (spec.md §4),
// generalized from the connection bookkeeping spread across
// WhileEndless/go-rawhttp's pkg/http2/client.go and pkg/http2/stream.go's
// StreamManager. It holds no lock; callers (pkg/dispatcher) must confine all
// access to one goroutine.
type Connection struct {
	out FrameWriter

	isClient bool
	local    Settings
	remote   Settings

	connSendFlow *flowcontrol.SendWindow
	connRecvFlow *flowcontrol.RecvWindow

	streams     *registry.Registry
	assemblers  map[uint32]*message.Assembler
	nextLocalID uint32
	lastPeerID  uint32

	settingsAckPending bool
	goawaySent         bool
	goawayReceived     bool
	goAwayErrCode      herrors.Reason
}

// New creates a Connection that writes outbound frames through out. Callers
// must still perform the preface/SETTINGS exchange (pkg/handshake) before
// dispatching inbound frames.
func New(out FrameWriter, cfg Config) *Connection {
	c := &Connection{
		out:          out,
		isClient:     cfg.IsClient,
		local:        cfg.Local,
		remote:       DefaultRemoteSettings(),
		connSendFlow: flowcontrol.NewSendWindow(DefaultRemoteSettings().InitialWindowSize),
		connRecvFlow: flowcontrol.NewRecvWindow(cfg.ConnectionWindowSize),
		streams:      registry.New(cfg.ResetStreamMax, cfg.ResetStreamTTL),
		assemblers:   make(map[uint32]*message.Assembler),
	}
	if cfg.IsClient {
		c.nextLocalID = 1
	} else {
		c.nextLocalID = 2
	}
	return c
}

// SendInitialSettings emits this side's opening SETTINGS frame (spec.md §6's
// handshake step 2), marking an ack as outstanding.
func (c *Connection) SendInitialSettings() error {
	c.settingsAckPending = true
	return c.out.WriteFrame(c.local.asFrame())
}

// Dispatch routes a single inbound frame to connection/stream state and
// returns the application-visible Message it produces, if any. A returned
// *herrors.ProtocolError is connection-fatal and a *herrors.StreamError is
// stream-fatal; callers translate these into GOAWAY/RST_STREAM respectively
// (spec.md §7). A failure to write the SETTINGS or PING acknowledgement is
// returned as the writer's own error.
func (c *Connection) Dispatch(f frame.Frame) (*message.Message, error) {
	switch v := f.(type) {
	case *frame.HeadersFrame:
		return c.recvHeaders(v)
	case *frame.DataFrame:
		return c.recvData(v)
	case *frame.SettingsFrame:
		return nil, c.recvSettings(v)
	case *frame.WindowUpdateFrame:
		return nil, c.recvWindowUpdate(v)
	case *frame.RstStreamFrame:
		return c.recvReset(v), nil
	case *frame.PingFrame:
		return nil, c.recvPing(v)
	case *frame.GoAwayFrame:
		c.recvGoAway(v)
		return nil, nil
	case *frame.PriorityFrame:
		// Accepted and ignored (spec.md Non-goals): PRIORITY carries no
		// flow-control or lifecycle consequence for this engine.
		return nil, nil
	default:
		return nil, herrors.NewFrameError(fmt.Errorf("connection: unhandled frame type %T", f))
	}
}

// StreamState satisfies stream.ConnAccessor.
func (c *Connection) StreamState(id uint32) (stream.State, bool) {
	s, ok := c.streams.Get(id)
	if !ok {
		return stream.Closed, false
	}
	return s.State, true
}

func (c *Connection) recvHeaders(f *frame.HeadersFrame) (*message.Message, error) {
	s, existing := c.streams.Get(f.ID)
	var asm *message.Assembler

	if !existing {
		if c.streams.InResetCache(f.ID, time.Now()) {
			return nil, nil
		}
		if f.ID == 0 || (c.isClient == (f.ID%2 == 1)) {
			// A peer-initiated stream must use the id parity opposite our own.
			return nil, herrors.NewInvalidStreamIDError()
		}
		if f.ID <= c.lastPeerID {
			return nil, herrors.NewStreamIdleError(fmt.Sprintf("stream %d", f.ID))
		}
		if err := f.Pseudo.ValidateRequest(c.remote.EnableConnectProtocol); err != nil {
			return nil, err.(*herrors.ProtocolError)
		}
		c.lastPeerID = f.ID
		s = stream.New(f.ID, false, c.local.InitialWindowSize, c.remote.InitialWindowSize)
		s.State = stream.Open
		s.HeadRequest = f.Pseudo.IsHead()
		c.streams.Insert(s)
		asm = message.NewAssembler(f.ID)
		if s.HeadRequest {
			asm.MarkHeadRequest()
		}
		c.assemblers[f.ID] = asm
	} else {
		if s.State == stream.Closed {
			return nil, herrors.NewStreamClosedError(fmt.Sprintf("stream %d", f.ID))
		}
		// On a tracked stream that has not yet seen inbound HEADERS (one
		// opened locally), this HEADERS is the peer's response; any further
		// HEADERS on a tracked stream, whichever side opened it, are
		// trailers, which must carry no pseudo-header fields at all.
		if !s.HeadersSeen {
			if err := f.Pseudo.ValidateResponse(); err != nil {
				return nil, err.(*herrors.ProtocolError)
			}
		} else if !f.Pseudo.Empty() {
			return nil, herrors.NewUnexpectedPseudoError("trailers")
		}
		var ok bool
		asm, ok = c.assemblers[f.ID]
		if !ok {
			asm = message.NewAssembler(f.ID)
			c.assemblers[f.ID] = asm
		}
	}

	msg, err := asm.OnHeaders(f)
	if err != nil {
		return nil, c.abortStream(s, err)
	}
	s.HeadersSeen = true
	if f.EndStream {
		s.State = stream.NextOnEndStream(s.State, false)
		if s.State == stream.Closed {
			c.streams.Retire(f.ID, time.Now())
			delete(c.assemblers, f.ID)
		}
	}
	return msg, nil
}

// everAllocated reports whether id falls within a stream-id range either
// side has already issued, regardless of whether the stream is still
// tracked. Used to tell a truly idle/unused id (RFC 7540 §5.1: a connection
// error) apart from one whose tracking entry has simply aged out of the
// reset cache (spec.md §8 scenario 5).
func (c *Connection) everAllocated(id uint32) bool {
	if (id%2 == 1) == c.isClient {
		return id < c.nextLocalID
	}
	return id <= c.lastPeerID
}

func (c *Connection) recvData(f *frame.DataFrame) (*message.Message, error) {
	s, ok := c.streams.Get(f.ID)
	if !ok {
		if c.streams.InResetCache(f.ID, time.Now()) {
			return nil, nil
		}
		if c.everAllocated(f.ID) {
			// The id was valid once (its reset-cache entry has since expired
			// and been evicted): a late frame for it is STREAM_CLOSED, not a
			// generic protocol violation (spec.md §8 scenario 5).
			return nil, herrors.NewStreamClosedError(fmt.Sprintf("stream %d", f.ID))
		}
		return nil, herrors.NewUnknownStreamError(fmt.Sprintf("stream %d", f.ID))
	}
	if !stream.CanRecvData(s.State) {
		return nil, c.abortStream(s, herrors.NewStreamClosedErr(f.ID))
	}

	n := uint32(len(f.Data))
	if err := c.connRecvFlow.Consume(n); err != nil {
		return nil, err
	}
	if err := s.RecvFlow.Consume(n); err != nil {
		return nil, c.abortStream(s, herrors.NewWindowOverflowedError(f.ID))
	}

	asm := c.assemblers[f.ID]
	msg, err := asm.OnData(f)
	if err != nil {
		return nil, c.abortStream(s, err.(*herrors.StreamError))
	}

	// Immediately release the consumed credit back to the peer: this engine
	// assembles each DATA frame into its Message synchronously rather than
	// buffering unread bytes, so there is nothing to delay crediting for.
	if inc, ok := s.RecvFlow.Release(n); ok {
		_ = c.out.WriteFrame(&frame.WindowUpdateFrame{ID: f.ID, Increment: inc})
	}
	if inc, ok := c.connRecvFlow.Release(n); ok {
		_ = c.out.WriteFrame(&frame.WindowUpdateFrame{ID: 0, Increment: inc})
	}

	if f.EndStream {
		s.State = stream.NextOnEndStream(s.State, false)
		if s.State == stream.Closed {
			c.streams.Retire(f.ID, time.Now())
			delete(c.assemblers, f.ID)
		}
	}
	return msg, nil
}

func (c *Connection) recvSettings(f *frame.SettingsFrame) error {
	if f.Ack {
		if !c.settingsAckPending {
			return herrors.NewUnexpectedSettingsAckError()
		}
		c.settingsAckPending = false
		return nil
	}
	oldInitial := c.remote.apply(f)
	if newInitial := c.remote.InitialWindowSize; newInitial != oldInitial {
		var streamErr error
		c.streams.Each(func(s *stream.Stream) {
			if streamErr != nil {
				return
			}
			if err := s.SendFlow.ApplySettingsDelta(oldInitial, newInitial); err != nil {
				streamErr = err
			}
		})
		if streamErr != nil {
			return streamErr.(*herrors.ProtocolError)
		}
	}
	return c.out.WriteFrame(&frame.SettingsFrame{Ack: true})
}

func (c *Connection) recvWindowUpdate(f *frame.WindowUpdateFrame) error {
	if f.Increment == 0 {
		if f.ID == 0 {
			return herrors.NewZeroWindowUpdateValueError()
		}
		if s, ok := c.streams.Get(f.ID); ok {
			return c.abortStream(s, herrors.NewWindowZeroUpdateValueError(f.ID))
		}
		return nil
	}
	if f.ID == 0 {
		if err := c.connSendFlow.Increase(int64(f.Increment)); err != nil {
			return err.(*herrors.ProtocolError)
		}
		c.drainAllPending()
		return nil
	}
	s, ok := c.streams.Get(f.ID)
	if !ok {
		if c.streams.InResetCache(f.ID, time.Now()) {
			return nil
		}
		return herrors.NewUnknownStreamError(fmt.Sprintf("stream %d", f.ID))
	}
	if err := s.SendFlow.Increase(int64(f.Increment)); err != nil {
		return c.abortStream(s, herrors.NewWindowOverflowedError(f.ID))
	}
	c.drainPending(s)
	return nil
}

func (c *Connection) recvReset(f *frame.RstStreamFrame) *message.Message {
	asm, ok := c.assemblers[f.ID]
	if !ok {
		asm = message.NewAssembler(f.ID)
	}
	c.streams.Retire(f.ID, time.Now())
	delete(c.assemblers, f.ID)
	return asm.OnReset(f)
}

func (c *Connection) recvPing(f *frame.PingFrame) error {
	if f.Ack {
		return nil
	}
	return c.out.WriteFrame(&frame.PingFrame{Ack: true, Payload: f.Payload})
}

// recvGoAway marks the connection as draining: no further local streams may
// be opened, and any local stream the peer's LastStreamID says it will never
// see a response for is failed immediately rather than left to time out
// (spec.md §8 scenario 4, "GOAWAY draining").
func (c *Connection) recvGoAway(f *frame.GoAwayFrame) {
	c.goawayReceived = true
	c.goAwayErrCode = f.ErrCode
	c.streams.Each(func(s *stream.Stream) {
		if s.Local && s.ID > f.LastStreamID {
			reason := f.ErrCode
			s.FailedReason = &reason
			s.State = stream.Closed
		}
	})
}

// abortStream resets the offending stream and retires it, translating the
// stream-level failure into the ProtocolError/StreamError the caller
// ultimately returns. errIn may be a *herrors.StreamError (the common case:
// reset just this stream) or a *herrors.ProtocolError (propagate as-is).
func (c *Connection) abortStream(s *stream.Stream, errIn error) error {
	if pe, ok := errIn.(*herrors.ProtocolError); ok {
		return pe
	}
	se, ok := errIn.(*herrors.StreamError)
	if !ok {
		return herrors.NewFrameError(errIn)
	}
	if s != nil {
		_ = c.out.WriteFrame(&frame.RstStreamFrame{ID: s.ID, ErrCode: se.Reason()})
		c.streams.Retire(s.ID, time.Now())
		delete(c.assemblers, s.ID)
	}
	return se
}

// OpenStream allocates a new locally-initiated stream and sends its opening
// HEADERS frame, returning a capability handle the application uses for
// subsequent DATA/trailers/reset calls (spec.md §9).
func (c *Connection) OpenStream(pseudo frame.PseudoHeaders, fields []hpack.HeaderField, eof bool) (stream.Ref, error) {
	if c.goawayReceived {
		reason := c.goAwayErrCode
		return stream.Ref{}, herrors.NewClosedOperationError(&reason)
	}
	if err := pseudo.ValidateRequest(c.local.EnableConnectProtocol); err != nil {
		return stream.Ref{}, err
	}
	id := c.nextLocalID
	c.nextLocalID += 2
	if id > (1<<31)-1 {
		// Exhausting the local stream-id space is application-visible and
		// non-resumable (spec.md §3 "OverflowedStreamId"), not a peer-facing
		// protocol violation: nothing has gone over the wire yet.
		return stream.Ref{}, herrors.NewOverflowedStreamIDError()
	}

	s := stream.New(id, true, c.local.InitialWindowSize, c.remote.InitialWindowSize)
	s.HeadRequest = pseudo.IsHead()
	c.streams.Insert(s)
	asm := message.NewAssembler(id)
	if s.HeadRequest {
		asm.MarkHeadRequest()
	}
	c.assemblers[id] = asm

	if err := c.out.WriteFrame(&frame.HeadersFrame{
		ID: id, Pseudo: pseudo, Fields: fields, EndStream: eof, EndHeaders: true,
	}); err != nil {
		c.streams.Remove(id)
		delete(c.assemblers, id)
		return stream.Ref{}, herrors.NewEncoderError(err)
	}
	s.State = stream.NextOnEndStream(stream.Idle, true)
	if !eof {
		s.State = stream.Open
	}
	return stream.Ref{ID: id, Conn: c}, nil
}

// SendHeaders satisfies stream.ConnAccessor: it answers a peer-initiated
// stream with a response HEADERS frame carrying :status (spec.md §8
// scenario 1's "Publish responds HEADERS(...) + DATA(...)"). Unlike
// OpenStream this never allocates a stream id; it only applies to a stream
// the peer already opened.
func (c *Connection) SendHeaders(id uint32, status int, fields []stream.HeaderField, eof bool) error {
	s, ok := c.streams.Get(id)
	if !ok {
		return herrors.NewDisconnectedError()
	}
	if !stream.CanSend(s.State) {
		return herrors.NewClosedOperationError(s.FailedReason)
	}
	statusStr := strconv.Itoa(status)
	hf := make([]hpack.HeaderField, len(fields))
	for i, f := range fields {
		hf[i] = hpack.HeaderField{Name: f.Name, Value: f.Value}
	}
	if err := c.out.WriteFrame(&frame.HeadersFrame{
		ID:         id,
		Pseudo:     frame.PseudoHeaders{Status: &statusStr},
		Fields:     hf,
		EndStream:  eof,
		EndHeaders: true,
	}); err != nil {
		return herrors.NewEncoderError(err)
	}
	if eof {
		s.State = stream.NextOnEndStream(s.State, true)
		if s.State == stream.Closed {
			c.streams.Retire(id, time.Now())
			delete(c.assemblers, id)
		}
	}
	return nil
}

// SendData satisfies stream.ConnAccessor: it writes as much of data as the
// current connection/stream send windows allow, queuing any remainder in
// the stream's pending-write buffer to be flushed once a WINDOW_UPDATE
// arrives (spec.md §5's pending-write-queue resolution of suspension).
func (c *Connection) SendData(id uint32, data []byte, eof bool) error {
	s, ok := c.streams.Get(id)
	if !ok {
		return herrors.NewDisconnectedError()
	}
	if !stream.CanSendData(s.State) {
		return herrors.NewClosedOperationError(s.FailedReason)
	}
	if len(s.PendingData) > 0 {
		s.PendingData = append(s.PendingData, data...)
		s.PendingDataEOF = eof
		c.drainPending(s)
		return nil
	}
	if err := c.writeDataChunked(s, data, eof); err != nil {
		return err
	}
	return nil
}

func (c *Connection) writeDataChunked(s *stream.Stream, data []byte, eof bool) error {
	empty := len(data) == 0
	for len(data) > 0 {
		avail := min32(c.connSendFlow.Available(), s.SendFlow.Available())
		if avail <= 0 {
			s.PendingData = append(s.PendingData, data...)
			s.PendingDataEOF = eof
			return nil
		}
		n := len(data)
		if n > int(avail) {
			n = int(avail)
		}
		if n > int(c.remote.MaxFrameSize) {
			n = int(c.remote.MaxFrameSize)
		}
		chunk := data[:n]
		data = data[n:]
		last := len(data) == 0 && eof
		if err := c.out.WriteFrame(&frame.DataFrame{ID: s.ID, Data: chunk, EndStream: last}); err != nil {
			return herrors.NewEncoderError(err)
		}
		c.connSendFlow.Consume(uint32(n))
		s.SendFlow.Consume(uint32(n))
		if last {
			s.State = stream.NextOnEndStream(s.State, true)
			if s.State == stream.Closed {
				c.streams.Retire(s.ID, time.Now())
				delete(c.assemblers, s.ID)
			}
		}
	}
	if empty && eof && s.PendingData == nil {
		// No bytes to send, but EOF must still be signaled with an empty
		// DATA frame.
		if s.State != stream.Closed {
			if err := c.out.WriteFrame(&frame.DataFrame{ID: s.ID, EndStream: true}); err != nil {
				return herrors.NewEncoderError(err)
			}
			s.State = stream.NextOnEndStream(s.State, true)
			if s.State == stream.Closed {
				c.streams.Retire(s.ID, time.Now())
				delete(c.assemblers, s.ID)
			}
		}
	}
	return nil
}

// drainPending flushes as much of one stream's pending-write buffer as the
// current windows allow.
func (c *Connection) drainPending(s *stream.Stream) {
	if len(s.PendingData) == 0 {
		return
	}
	data := s.PendingData
	eof := s.PendingDataEOF
	s.PendingData = nil
	s.PendingDataEOF = false
	_ = c.writeDataChunked(s, data, eof)
}

// drainAllPending flushes every stream's pending-write buffer after a
// connection-level WINDOW_UPDATE widens the shared send budget.
func (c *Connection) drainAllPending() {
	c.streams.Each(func(s *stream.Stream) {
		c.drainPending(s)
	})
}

// SendTrailers satisfies stream.ConnAccessor: trailers must carry
// END_STREAM (spec.md §3 invariant 5).
func (c *Connection) SendTrailers(id uint32, fields []stream.HeaderField, eof bool) error {
	s, ok := c.streams.Get(id)
	if !ok {
		return herrors.NewDisconnectedError()
	}
	if !stream.CanSend(s.State) {
		return herrors.NewClosedOperationError(s.FailedReason)
	}
	hf := make([]hpack.HeaderField, len(fields))
	for i, f := range fields {
		hf[i] = hpack.HeaderField{Name: f.Name, Value: f.Value}
	}
	if err := c.out.WriteFrame(&frame.HeadersFrame{ID: id, EndStream: true, EndHeaders: true, Fields: hf}); err != nil {
		return herrors.NewEncoderError(err)
	}
	s.State = stream.NextOnEndStream(s.State, true)
	if s.State == stream.Closed {
		c.streams.Retire(id, time.Now())
		delete(c.assemblers, id)
	}
	return nil
}

// ResetStream satisfies stream.ConnAccessor: it sends RST_STREAM with the
// given reason and retires the stream (spec.md §5 "Cancellation semantics").
func (c *Connection) ResetStream(id uint32, reason herrors.Reason) error {
	s, ok := c.streams.Get(id)
	if !ok {
		return nil
	}
	if err := c.out.WriteFrame(&frame.RstStreamFrame{ID: id, ErrCode: reason}); err != nil {
		return herrors.NewEncoderError(err)
	}
	c.streams.Retire(id, time.Now())
	delete(c.assemblers, id)
	s.State = stream.Closed
	return nil
}

// GoAway sends a connection-level GOAWAY with the highest peer stream id
// this connection has processed, per RFC 7540 §6.8.
func (c *Connection) GoAway(reason herrors.Reason, debug string) error {
	if c.goawaySent {
		return nil
	}
	c.goawaySent = true
	return c.out.WriteFrame(&frame.GoAwayFrame{
		LastStreamID: c.lastPeerID,
		ErrCode:      reason,
		DebugData:    []byte(debug),
	})
}

// Ping sends a PING frame with the given payload (spec.md §6 keep-alive /
// shutdown sentinels, per original_source/src/frame/ping.rs).
func (c *Connection) Ping(payload frame.PingPayload) error {
	return c.out.WriteFrame(&frame.PingFrame{Payload: payload})
}

// ActiveStreamCount reports the number of live (non-retired) streams.
func (c *Connection) ActiveStreamCount() int {
	return c.streams.Len()
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
