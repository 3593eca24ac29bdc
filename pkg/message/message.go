// Package message assembles the HEADERS/DATA/RST_STREAM frames a stream
// sees into the lazy Headers -> Data* -> Eof event sequence applications
// consume (spec.md §4.6), generalized from the Response.Body accumulation
// loop in WhileEndless/go-rawhttp's pkg/http2/client.go:readResponse, and
// grounded on original_source/src/message.rs's Message/MessageKind/StreamEof
// shape.
package message

import (
	"golang.org/x/net/http2/hpack"

	"github.com/nullstream/h2engine/pkg/frame"
	"github.com/nullstream/h2engine/pkg/herrors"
)

// Kind discriminates the variant of a Message, playing the role Rust's
// MessageKind enum plays in original_source/src/message.rs.
type Kind int

const (
	KindHeaders Kind = iota
	KindData
	KindEOF
	KindEmpty
)

// EOFKind discriminates the variant of a terminal event, mirroring
// original_source/src/message.rs's StreamEof enum.
type EOFKind int

const (
	EOFData EOFKind = iota
	EOFTrailers
	EOFReset
)

// Message is a single application-visible event for one stream.
type Message struct {
	StreamID uint32
	Kind     Kind

	// KindHeaders fields.
	Pseudo     frame.PseudoHeaders
	Fields     []hpack.HeaderField
	HeadersEOF bool

	// KindData fields.
	Data []byte

	// KindEOF fields.
	EOFKind   EOFKind
	EOFData   []byte         // EOFData variant
	EOFFields []hpack.HeaderField // EOFTrailers variant
	EOFReason herrors.Reason // EOFReset variant
}

// Take replaces the message's contents with the Empty sentinel and returns
// a copy of the previous contents, mirroring mem::replace(self, Empty) in
// original_source/src/message.rs's MessageKind::take.
func (m *Message) Take() Message {
	old := *m
	*m = Message{StreamID: m.StreamID, Kind: KindEmpty}
	return old
}

// Headers builds the initial/opening Headers message for a stream.
func Headers(streamID uint32, pseudo frame.PseudoHeaders, fields []hpack.HeaderField, eof bool) *Message {
	return &Message{StreamID: streamID, Kind: KindHeaders, Pseudo: pseudo, Fields: fields, HeadersEOF: eof}
}

// Data builds an intermediate (non-terminal) Data message.
func Data(streamID uint32, payload []byte) *Message {
	return &Message{StreamID: streamID, Kind: KindData, Data: payload}
}

// EOFFromData builds the terminal event for a DATA frame carrying
// END_STREAM.
func EOFFromData(streamID uint32, payload []byte) *Message {
	return &Message{StreamID: streamID, Kind: KindEOF, EOFKind: EOFData, EOFData: payload}
}

// EOFFromTrailers builds the terminal event for a trailing HEADERS frame.
func EOFFromTrailers(streamID uint32, fields []hpack.HeaderField) *Message {
	return &Message{StreamID: streamID, Kind: KindEOF, EOFKind: EOFTrailers, EOFFields: fields}
}

// EOFFromReset builds the terminal event for a RST_STREAM.
func EOFFromReset(streamID uint32, reason herrors.Reason) *Message {
	return &Message{StreamID: streamID, Kind: KindEOF, EOFKind: EOFReset, EOFReason: reason}
}
