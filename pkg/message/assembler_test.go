package message

import (
	"testing"

	"golang.org/x/net/http2/hpack"

	"github.com/nullstream/h2engine/pkg/frame"
	"github.com/nullstream/h2engine/pkg/herrors"
)

func TestAssemblerHeadersThenDataThenEOF(t *testing.T) {
	a := NewAssembler(1)

	msg, err := a.OnHeaders(&frame.HeadersFrame{ID: 1, Pseudo: frame.PseudoHeaders{}, EndStream: false})
	if err != nil {
		t.Fatalf("OnHeaders: %v", err)
	}
	if msg.Kind != KindHeaders {
		t.Fatalf("Kind = %v, want KindHeaders", msg.Kind)
	}

	msg, err = a.OnData(&frame.DataFrame{ID: 1, Data: []byte("hi"), EndStream: false})
	if err != nil {
		t.Fatalf("OnData: %v", err)
	}
	if msg.Kind != KindData || string(msg.Data) != "hi" {
		t.Fatalf("OnData result = %+v, want KindData \"hi\"", msg)
	}

	msg, err = a.OnData(&frame.DataFrame{ID: 1, Data: []byte("!"), EndStream: true})
	if err != nil {
		t.Fatalf("OnData (eof): %v", err)
	}
	if msg.Kind != KindEOF || msg.EOFKind != EOFData || string(msg.EOFData) != "!" {
		t.Fatalf("eof result = %+v, want EOFData \"!\"", msg)
	}
}

func TestAssemblerEmptyIntermediateDataIsSwallowed(t *testing.T) {
	a := NewAssembler(1)
	if _, err := a.OnHeaders(&frame.HeadersFrame{ID: 1}); err != nil {
		t.Fatalf("OnHeaders: %v", err)
	}
	msg, err := a.OnData(&frame.DataFrame{ID: 1, EndStream: false})
	if err != nil {
		t.Fatalf("OnData: %v", err)
	}
	if msg != nil {
		t.Fatalf("OnData on empty non-eof frame = %+v, want nil", msg)
	}
}

func TestAssemblerContentLengthMismatchTooShort(t *testing.T) {
	a := NewAssembler(3)
	if _, err := a.OnHeaders(&frame.HeadersFrame{ID: 3, Fields: []hpack.HeaderField{
		{Name: "content-length", Value: "5"},
	}}); err != nil {
		t.Fatalf("OnHeaders: %v", err)
	}
	_, err := a.OnData(&frame.DataFrame{ID: 3, Data: []byte("abc"), EndStream: true})
	se, ok := err.(*herrors.StreamError)
	if !ok {
		t.Fatalf("OnData error = %v (%T), want *herrors.StreamError", err, err)
	}
	if se.Kind != herrors.SWrongPayloadLength {
		t.Fatalf("StreamError.Kind = %v, want SWrongPayloadLength", se.Kind)
	}
}

func TestAssemblerContentLengthMismatchTooLong(t *testing.T) {
	a := NewAssembler(3)
	if _, err := a.OnHeaders(&frame.HeadersFrame{ID: 3, Fields: []hpack.HeaderField{
		{Name: "content-length", Value: "2"},
	}}); err != nil {
		t.Fatalf("OnHeaders: %v", err)
	}
	_, err := a.OnData(&frame.DataFrame{ID: 3, Data: []byte("abc")})
	se, ok := err.(*herrors.StreamError)
	if !ok || se.Kind != herrors.SWrongPayloadLength {
		t.Fatalf("OnData error = %v, want SWrongPayloadLength", err)
	}
}

func TestAssemblerInvalidContentLengthHeader(t *testing.T) {
	a := NewAssembler(1)
	_, err := a.OnHeaders(&frame.HeadersFrame{ID: 1, Fields: []hpack.HeaderField{
		{Name: "content-length", Value: "not-a-number"},
	}})
	se, ok := err.(*herrors.StreamError)
	if !ok || se.Kind != herrors.SInvalidContentLength {
		t.Fatalf("OnHeaders error = %v, want SInvalidContentLength", err)
	}
}

func TestAssemblerHeadRequestRejectsNonEmptyPayload(t *testing.T) {
	a := NewAssembler(1)
	a.MarkHeadRequest()
	if _, err := a.OnHeaders(&frame.HeadersFrame{ID: 1, EndStream: false}); err != nil {
		t.Fatalf("OnHeaders: %v", err)
	}
	_, err := a.OnData(&frame.DataFrame{ID: 1, Data: []byte("x")})
	se, ok := err.(*herrors.StreamError)
	if !ok || se.Kind != herrors.SNonEmptyPayload {
		t.Fatalf("OnData error = %v, want SNonEmptyPayload", err)
	}
}

func TestAssemblerTrailersWithoutEndStream(t *testing.T) {
	a := NewAssembler(1)
	if _, err := a.OnHeaders(&frame.HeadersFrame{ID: 1, EndStream: false}); err != nil {
		t.Fatalf("OnHeaders: %v", err)
	}
	// Second HEADERS (trailers) without END_STREAM is rejected.
	_, err := a.OnHeaders(&frame.HeadersFrame{ID: 1, EndStream: false})
	se, ok := err.(*herrors.StreamError)
	if !ok || se.Kind != herrors.STrailersWithoutEos {
		t.Fatalf("OnHeaders (trailers) error = %v, want STrailersWithoutEos", err)
	}
}

func TestAssemblerTrailersProduceEOF(t *testing.T) {
	a := NewAssembler(1)
	if _, err := a.OnHeaders(&frame.HeadersFrame{ID: 1, EndStream: false}); err != nil {
		t.Fatalf("OnHeaders: %v", err)
	}
	trailerFields := []hpack.HeaderField{{Name: "x-trailer", Value: "1"}}
	msg, err := a.OnHeaders(&frame.HeadersFrame{ID: 1, Fields: trailerFields, EndStream: true})
	if err != nil {
		t.Fatalf("OnHeaders (trailers): %v", err)
	}
	if msg.Kind != KindEOF || msg.EOFKind != EOFTrailers || len(msg.EOFFields) != 1 {
		t.Fatalf("trailers result = %+v, want EOFTrailers with 1 field", msg)
	}
}

func TestAssemblerOnReset(t *testing.T) {
	a := NewAssembler(7)
	msg := a.OnReset(&frame.RstStreamFrame{ID: 7, ErrCode: herrors.Cancel})
	if msg.Kind != KindEOF || msg.EOFKind != EOFReset || msg.EOFReason != herrors.Cancel {
		t.Fatalf("OnReset result = %+v, want EOFReset(Cancel)", msg)
	}
}
