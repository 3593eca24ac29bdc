package dispatcher

import (
	"context"
	"errors"
	"io"
	"testing"

	"golang.org/x/net/http2/hpack"

	"github.com/nullstream/h2engine/pkg/connection"
	"github.com/nullstream/h2engine/pkg/control"
	"github.com/nullstream/h2engine/pkg/frame"
	"github.com/nullstream/h2engine/pkg/herrors"
	"github.com/nullstream/h2engine/pkg/message"
	"github.com/nullstream/h2engine/pkg/stream"
)

// queueSource replays a fixed slice of DispatchItems, then blocks until the
// context is canceled, mirroring a real transport's behavior once the peer
// has gone silent.
type queueSource struct {
	items []DispatchItem
	pos   int
}

func (s *queueSource) Next(ctx context.Context) (DispatchItem, error) {
	if s.pos < len(s.items) {
		item := s.items[s.pos]
		s.pos++
		return item, nil
	}
	<-ctx.Done()
	return DispatchItem{}, ctx.Err()
}

type noopWriter struct{}

func (noopWriter) WriteFrame(f frame.Frame) error { return nil }

// recordingWriter records every outbound frame so a test can assert on what
// the dispatcher actually wrote through the Connection, as opposed to what
// Control merely returned.
type recordingWriter struct {
	frames []frame.Frame
}

func (w *recordingWriter) WriteFrame(f frame.Frame) error {
	w.frames = append(w.frames, f)
	return nil
}

func str(s string) *string { return &s }

func newTestConnection() *connection.Connection {
	return connection.New(noopWriter{}, connection.DefaultConfig(false))
}

func TestDispatcherPublishesAssembledMessage(t *testing.T) {
	conn := newTestConnection()

	var got *message.Message
	publish := control.PublishFunc(func(_ context.Context, msg *message.Message, _ stream.Ref) error {
		got = msg
		return nil
	})
	ctl := control.ControlFunc(func(_ context.Context, msg control.ControlMessage) (control.Result, error) {
		return control.Result{}, nil
	})
	d := New(conn, publish, ctl)

	src := &queueSource{items: []DispatchItem{
		{Kind: ItemFrame, Frame: &frame.HeadersFrame{
			ID:        1,
			Pseudo:    frame.PseudoHeaders{Method: str("GET"), Scheme: str("https"), Path: str("/x")},
			EndStream: true,
		}},
		{Kind: ItemDisconnect, Err: io.EOF},
	}}

	if err := d.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got == nil || got.StreamID != 1 {
		t.Fatalf("publish got %+v, want a message for stream 1", got)
	}
}

func TestDispatcherRoutesStreamErrorToControl(t *testing.T) {
	conn := newTestConnection()

	publish := control.PublishFunc(func(_ context.Context, _ *message.Message, _ stream.Ref) error {
		return nil
	})
	var gotKind control.Kind
	seen := false
	ctl := control.ControlFunc(func(_ context.Context, msg control.ControlMessage) (control.Result, error) {
		if !seen && msg.Kind == control.KindStreamError {
			gotKind = msg.Kind
			seen = true
		}
		return control.Result{}, nil
	})
	d := New(conn, publish, ctl)

	src := &queueSource{items: []DispatchItem{
		// A content-length mismatch on an otherwise-valid stream is a
		// *herrors.StreamError; handleFrame's classification path must route
		// it to Control as KindStreamError.
		{Kind: ItemFrame, Frame: &frame.HeadersFrame{
			ID: 1,
			Pseudo: frame.PseudoHeaders{
				Method: str("POST"), Scheme: str("https"), Path: str("/x"),
			},
			Fields: []hpack.HeaderField{{Name: "content-length", Value: "2"}},
		}},
		{Kind: ItemFrame, Frame: &frame.DataFrame{ID: 1, Data: []byte("toolong"), EndStream: true}},
		{Kind: ItemDisconnect, Err: io.EOF},
	}}

	if err := d.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !seen || gotKind != control.KindStreamError {
		t.Fatalf("control saw kind %v (seen=%v), want KindStreamError", gotKind, seen)
	}
}

func TestDispatcherTerminatesOnDisconnect(t *testing.T) {
	conn := newTestConnection()

	publish := control.PublishFunc(func(_ context.Context, _ *message.Message, _ stream.Ref) error {
		return nil
	})
	var terminated bool
	var peerGone bool
	ctl := control.ControlFunc(func(_ context.Context, msg control.ControlMessage) (control.Result, error) {
		switch msg.Kind {
		case control.KindPeerGone:
			peerGone = true
		case control.KindTerminated:
			terminated = true
		}
		return control.Result{}, nil
	})
	d := New(conn, publish, ctl)

	src := &queueSource{items: []DispatchItem{
		{Kind: ItemDisconnect, Err: io.EOF},
	}}

	if err := d.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !peerGone {
		t.Fatal("expected a KindPeerGone control message")
	}
	if !terminated {
		t.Fatal("expected a KindTerminated control message on shutdown")
	}
}

func TestDispatcherControlErrorIsTerminal(t *testing.T) {
	conn := newTestConnection()

	publish := control.PublishFunc(func(_ context.Context, _ *message.Message, _ stream.Ref) error {
		return nil
	})
	ctl := control.ControlFunc(func(_ context.Context, msg control.ControlMessage) (control.Result, error) {
		if msg.Kind == control.KindGoAway {
			return control.Result{}, errors.New("control blew up")
		}
		return control.Result{}, nil
	})
	d := New(conn, publish, ctl)

	src := &queueSource{items: []DispatchItem{
		{Kind: ItemFrame, Frame: &frame.GoAwayFrame{LastStreamID: 0}},
	}}

	// A Control failure terminates the run loop without Run itself
	// returning an error: the dispatcher answers with an internal GOAWAY
	// and tears down rather than propagating the service's error.
	if err := d.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// TestDispatcherWritesControlReturnedRstStream exercises the genuine use of
// writeOut's RST_STREAM case: a Publish failure reaches Control as a
// KindAppError (the stream itself is otherwise healthy), and Control decides
// to reset it. This is a different path than a *herrors.StreamError, which
// Connection already resets itself before Control ever sees it.
func TestDispatcherWritesControlReturnedRstStream(t *testing.T) {
	w := &recordingWriter{}
	conn := connection.New(w, connection.DefaultConfig(false))

	publishErr := errors.New("publish failed")
	publish := control.PublishFunc(func(_ context.Context, _ *message.Message, _ stream.Ref) error {
		return publishErr
	})
	ctl := control.ControlFunc(func(_ context.Context, msg control.ControlMessage) (control.Result, error) {
		if msg.Kind == control.KindAppError {
			return control.Result{Frame: &frame.RstStreamFrame{ID: msg.Stream.ID, ErrCode: herrors.Cancel}}, nil
		}
		return control.Result{}, nil
	})
	d := New(conn, publish, ctl)

	src := &queueSource{items: []DispatchItem{
		{Kind: ItemFrame, Frame: &frame.HeadersFrame{
			ID:        1,
			Pseudo:    frame.PseudoHeaders{Method: str("GET"), Scheme: str("https"), Path: str("/x")},
			EndStream: true,
		}},
		{Kind: ItemDisconnect, Err: io.EOF},
	}}

	if err := d.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, ok := conn.StreamState(1)
	if ok || state != stream.Closed {
		t.Fatalf("stream 1 state = %v (ok=%v), want Closed and no longer tracked after Control-returned RST_STREAM", state, ok)
	}

	found := false
	for _, f := range w.frames {
		if rst, ok := f.(*frame.RstStreamFrame); ok && rst.ID == 1 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected writeOut to emit the Control-returned RST_STREAM frame")
	}
}

func TestDispatcherStopsOnContextCancel(t *testing.T) {
	conn := newTestConnection()
	publish := control.PublishFunc(func(_ context.Context, _ *message.Message, _ stream.Ref) error {
		return nil
	})
	ctl := control.ControlFunc(func(_ context.Context, _ control.ControlMessage) (control.Result, error) {
		return control.Result{}, nil
	})
	d := New(conn, publish, ctl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &queueSource{}

	if err := d.Run(ctx, src); err == nil {
		t.Fatal("Run with a pre-canceled context should return an error")
	}
}
