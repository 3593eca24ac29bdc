package connection

import (
	"testing"
	"time"

	"golang.org/x/net/http2/hpack"

	"github.com/nullstream/h2engine/pkg/frame"
	"github.com/nullstream/h2engine/pkg/herrors"
	"github.com/nullstream/h2engine/pkg/message"
	"github.com/nullstream/h2engine/pkg/stream"
)

type recordingWriter struct {
	frames []frame.Frame
}

func (w *recordingWriter) WriteFrame(f frame.Frame) error {
	w.frames = append(w.frames, f)
	return nil
}

func (w *recordingWriter) dataFrames() []*frame.DataFrame {
	var out []*frame.DataFrame
	for _, f := range w.frames {
		if d, ok := f.(*frame.DataFrame); ok {
			out = append(out, d)
		}
	}
	return out
}

func str(s string) *string { return &s }

func TestHappyGetResponse(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(false))

	msg, err := c.Dispatch(&frame.HeadersFrame{
		ID: 1,
		Pseudo: frame.PseudoHeaders{
			Method: str("GET"),
			Scheme: str("https"),
			Path:   str("/x"),
		},
		EndStream: true,
	})
	if err != nil {
		t.Fatalf("Dispatch(HEADERS): %v", err)
	}
	if msg.Kind != message.KindHeaders || !msg.HeadersEOF {
		t.Fatalf("message = %+v, want Headers with eof=true from an eof=true request HEADERS", msg)
	}

	state, ok := c.StreamState(1)
	if !ok || state != stateHalfClosedRemote(t, c, 1) {
		// A stream whose request HEADERS carried eof=1 moves to
		// half-closed(remote): this side may still send a response.
		t.Fatalf("stream 1 state = %v (ok=%v), want half-closed(remote)", state, ok)
	}
}

func TestContentLengthMismatchResetsStream(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(false))

	if _, err := c.Dispatch(&frame.HeadersFrame{
		ID: 3,
		Pseudo: frame.PseudoHeaders{
			Method: str("POST"),
			Scheme: str("https"),
			Path:   str("/x"),
		},
		Fields:    []hpack.HeaderField{{Name: "content-length", Value: "5"}},
		EndStream: false,
	}); err != nil {
		t.Fatalf("Dispatch(HEADERS): %v", err)
	}

	_, err := c.Dispatch(&frame.DataFrame{ID: 3, Data: []byte("abc"), EndStream: true})
	se, ok := herrors.AsStreamError(err)
	if !ok {
		t.Fatalf("Dispatch(DATA) error = %v, want *herrors.StreamError", err)
	}
	if se.Kind != herrors.SWrongPayloadLength {
		t.Fatalf("StreamError.Kind = %v, want SWrongPayloadLength", se.Kind)
	}

	var rst *frame.RstStreamFrame
	for _, f := range w.frames {
		if r, ok := f.(*frame.RstStreamFrame); ok {
			rst = r
		}
	}
	if rst == nil {
		t.Fatal("expected an emitted RST_STREAM frame")
	}
	if rst.ID != 3 || rst.ErrCode != herrors.ProtocolErrorCode {
		t.Fatalf("RST_STREAM = %+v, want stream=3 PROTOCOL_ERROR", rst)
	}
}

func TestDataOnUnknownStreamIsProtocolError(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(false))

	_, err := c.Dispatch(&frame.DataFrame{ID: 99, Data: []byte("x")})
	if _, ok := herrors.AsProtocolError(err); !ok {
		t.Fatalf("Dispatch(DATA on unknown stream) error = %v, want *herrors.ProtocolError", err)
	}
}

func TestPeerStreamIDMustBeMonotonic(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(false))

	if _, err := c.Dispatch(&frame.HeadersFrame{
		ID:        5,
		Pseudo:    frame.PseudoHeaders{Method: str("GET"), Scheme: str("https"), Path: str("/a")},
		EndStream: true,
	}); err != nil {
		t.Fatalf("Dispatch(HEADERS id=5): %v", err)
	}

	_, err := c.Dispatch(&frame.HeadersFrame{
		ID:        3,
		Pseudo:    frame.PseudoHeaders{Method: str("GET"), Scheme: str("https"), Path: str("/b")},
		EndStream: true,
	})
	if _, ok := herrors.AsProtocolError(err); !ok {
		t.Fatalf("Dispatch(HEADERS id=3 after id=5) error = %v, want *herrors.ProtocolError", err)
	}
}

func TestWindowUpdateZeroValue(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(false))
	if _, err := c.Dispatch(&frame.HeadersFrame{
		ID:        1,
		Pseudo:    frame.PseudoHeaders{Method: str("GET"), Scheme: str("https"), Path: str("/x")},
		EndStream: false,
	}); err != nil {
		t.Fatalf("Dispatch(HEADERS): %v", err)
	}

	_, err := c.Dispatch(&frame.WindowUpdateFrame{ID: 1, Increment: 0})
	se, ok := herrors.AsStreamError(err)
	if !ok || se.Kind != herrors.SWindowZeroUpdateValue {
		t.Fatalf("stream-level zero WINDOW_UPDATE error = %v, want SWindowZeroUpdateValue", err)
	}

	_, err = c.Dispatch(&frame.WindowUpdateFrame{ID: 0, Increment: 0})
	if _, ok := herrors.AsProtocolError(err); !ok {
		t.Fatalf("connection-level zero WINDOW_UPDATE error = %v, want *herrors.ProtocolError", err)
	}
}

func TestFlowControlPauseAndResume(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(true))

	if err := c.recvSettings(&frame.SettingsFrame{
		Params: map[frame.SettingID]uint32{frame.SettingInitialWindowSize: 10},
	}); err != nil {
		t.Fatalf("recvSettings: %v", err)
	}

	ref, err := c.OpenStream(frame.PseudoHeaders{
		Method:    str("GET"),
		Scheme:    str("https"),
		Authority: str("example.com"),
		Path:      str("/x"),
	}, nil, false)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	if err := c.SendData(ref.ID, make([]byte, 25), true); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	data := w.dataFrames()
	if len(data) != 1 || len(data[0].Data) != 10 || data[0].EndStream {
		t.Fatalf("data frames after exhausting window = %+v, want one 10-byte non-eof frame", data)
	}

	if err := c.recvWindowUpdate(&frame.WindowUpdateFrame{ID: ref.ID, Increment: 15}); err != nil {
		t.Fatalf("recvWindowUpdate(stream): %v", err)
	}
	if err := c.recvWindowUpdate(&frame.WindowUpdateFrame{ID: 0, Increment: 15}); err != nil {
		t.Fatalf("recvWindowUpdate(connection): %v", err)
	}

	data = w.dataFrames()
	if len(data) != 2 {
		t.Fatalf("data frames after WINDOW_UPDATE = %d, want 2", len(data))
	}
	last := data[1]
	if len(last.Data) != 15 || !last.EndStream {
		t.Fatalf("final data frame = %+v, want 15-byte eof frame", last)
	}

	state, _ := c.StreamState(ref.ID)
	if state != stream.HalfClosedLocal {
		t.Fatalf("stream state after final DATA = %v, want half-closed(local)", state)
	}
}

func TestSendHeadersRespondsOnPeerInitiatedStream(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(false))

	if _, err := c.Dispatch(&frame.HeadersFrame{
		ID:        1,
		Pseudo:    frame.PseudoHeaders{Method: str("GET"), Scheme: str("https"), Path: str("/x")},
		EndStream: true,
	}); err != nil {
		t.Fatalf("Dispatch(HEADERS): %v", err)
	}

	if err := c.SendHeaders(1, 200, nil, false); err != nil {
		t.Fatalf("SendHeaders: %v", err)
	}
	if err := c.SendData(1, []byte("hi"), true); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	var gotHeaders *frame.HeadersFrame
	for _, f := range w.frames {
		if h, ok := f.(*frame.HeadersFrame); ok {
			gotHeaders = h
		}
	}
	if gotHeaders == nil || gotHeaders.Pseudo.Status == nil || *gotHeaders.Pseudo.Status != "200" {
		t.Fatalf("response HEADERS = %+v, want :status=200", gotHeaders)
	}
}

func TestGoAwayDrainsNewerLocalStreamsAndBlocksOpens(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(true))

	low, err := c.OpenStream(frame.PseudoHeaders{Method: str("GET"), Scheme: str("https"), Path: str("/a")}, nil, true)
	if err != nil {
		t.Fatalf("OpenStream(low): %v", err)
	}
	high, err := c.OpenStream(frame.PseudoHeaders{Method: str("GET"), Scheme: str("https"), Path: str("/b")}, nil, true)
	if err != nil {
		t.Fatalf("OpenStream(high): %v", err)
	}

	if _, err := c.Dispatch(&frame.GoAwayFrame{LastStreamID: low.ID, ErrCode: herrors.NoError}); err != nil {
		t.Fatalf("Dispatch(GOAWAY): %v", err)
	}

	lowState, _ := c.StreamState(low.ID)
	if lowState == stream.Closed {
		t.Fatalf("stream %d (<= last_stream_id) should survive GOAWAY draining", low.ID)
	}
	highState, _ := c.StreamState(high.ID)
	if highState != stream.Closed {
		t.Fatalf("stream %d (> last_stream_id) state = %v, want Closed", high.ID, highState)
	}

	_, err = c.OpenStream(frame.PseudoHeaders{Method: str("GET"), Scheme: str("https"), Path: str("/c")}, nil, true)
	if err == nil {
		t.Fatal("OpenStream after GOAWAY should be rejected")
	}
}

func TestLateDataAfterResetCacheEvictionIsStreamClosed(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(false))

	s := stream.New(7, false, c.local.InitialWindowSize, c.remote.InitialWindowSize)
	c.streams.Insert(s)
	c.lastPeerID = 7
	c.streams.Retire(7, time.Now().Add(-time.Hour))

	_, err := c.Dispatch(&frame.DataFrame{ID: 7, Data: []byte("late")})
	pe, ok := herrors.AsProtocolError(err)
	if !ok || pe.Kind != herrors.StreamClosed {
		t.Fatalf("late DATA after reset-cache eviction error = %v, want StreamClosed", err)
	}
}

func TestOpenStreamOverflowIsOperationError(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(true))
	c.nextLocalID = (1 << 31) // already past the 31-bit range

	_, err := c.OpenStream(frame.PseudoHeaders{
		Method: str("GET"), Scheme: str("https"), Authority: str("example.com"), Path: str("/x"),
	}, nil, true)

	oe, ok := err.(*herrors.OperationError)
	if !ok || oe.Kind != herrors.OpOverflowedStreamID {
		t.Fatalf("OpenStream past id space error = %v (%T), want *herrors.OperationError{Kind: OpOverflowedStreamID}", err, err)
	}
}

func TestGoAwayIsIdempotent(t *testing.T) {
	w := &recordingWriter{}
	c := New(w, DefaultConfig(false))

	if err := c.GoAway(herrors.NoError, "bye"); err != nil {
		t.Fatalf("GoAway: %v", err)
	}
	if err := c.GoAway(herrors.NoError, "bye again"); err != nil {
		t.Fatalf("GoAway (repeat): %v", err)
	}

	count := 0
	for _, f := range w.frames {
		if _, ok := f.(*frame.GoAwayFrame); ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("GOAWAY frames emitted = %d, want 1 (idempotent)", count)
	}
}

// stateHalfClosedRemote is a tiny helper kept local to the happy-path test:
// it fails the test if the stream is not tracked and otherwise returns the
// expected state, stream.HalfClosedRemote.
func stateHalfClosedRemote(t *testing.T, c *Connection, id uint32) stream.State {
	t.Helper()
	if _, ok := c.StreamState(id); !ok {
		t.Fatalf("StreamState(%d) not found", id)
	}
	return stream.HalfClosedRemote
}
