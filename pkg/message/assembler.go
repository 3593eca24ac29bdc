package message

import (
	"strconv"

	"golang.org/x/net/http2/hpack"

	"github.com/nullstream/h2engine/pkg/frame"
	"github.com/nullstream/h2engine/pkg/herrors"
)

// Assembler enforces the content-length and HEAD-response invariants spec.md
// §3 places on a single stream's inbound frame sequence (invariants 3-4) and
// turns each inbound HEADERS/DATA/RST_STREAM into the *Message that sequence
// produces. One Assembler is created per stream by pkg/connection and is not
// safe for concurrent use, matching Stream's single-scheduling-domain model.
type Assembler struct {
	streamID uint32

	headRequest    bool
	expectedLength *uint64
	seenLength     uint64

	headersSeen  bool
	trailersSeen bool
}

// NewAssembler creates an Assembler for the given stream.
func NewAssembler(streamID uint32) *Assembler {
	return &Assembler{streamID: streamID}
}

// OnHeaders processes an inbound HEADERS frame (initial or trailing) and
// returns the Message it produces.
//
// OnHeaders takes no HEAD-request flag: HEAD handling is enabled separately
// by calling MarkHeadRequest beforehand.
func (a *Assembler) OnHeaders(f *frame.HeadersFrame) (*Message, error) {
	if !a.headersSeen {
		a.headersSeen = true
		length, ok, err := contentLength(f.Fields)
		if err != nil {
			return nil, herrors.NewInvalidContentLengthError(a.streamID)
		}
		if ok {
			a.expectedLength = &length
		}
		if f.EndStream {
			if err := a.checkComplete(); err != nil {
				return nil, err
			}
		}
		return Headers(f.ID, f.Pseudo, f.Fields, f.EndStream), nil
	}

	// A second HEADERS frame is trailers, and trailers MUST carry END_STREAM
	// (spec.md §3 invariant 5 / RFC 7540 §8.1).
	if !f.EndStream {
		return nil, herrors.NewTrailersWithoutEosError(a.streamID)
	}
	if a.trailersSeen {
		return nil, herrors.NewStreamClosedErr(a.streamID)
	}
	a.trailersSeen = true
	if err := a.checkComplete(); err != nil {
		return nil, err
	}
	return EOFFromTrailers(f.ID, f.Fields), nil
}

// MarkHeadRequest records that the request driving this stream used the HEAD
// method, so a non-empty response payload is rejected (spec.md §3 invariant
// 4).
func (a *Assembler) MarkHeadRequest() {
	a.headRequest = true
}

// OnData processes an inbound DATA frame and returns the Message it
// produces, enforcing the running content-length bound.
func (a *Assembler) OnData(f *frame.DataFrame) (*Message, error) {
	n := uint64(len(f.Data))
	if a.headRequest && n > 0 {
		return nil, herrors.NewNonEmptyPayloadError(a.streamID)
	}
	a.seenLength += n
	if a.expectedLength != nil && a.seenLength > *a.expectedLength {
		return nil, herrors.NewWrongPayloadLengthError(a.streamID)
	}
	if f.EndStream {
		if err := a.checkComplete(); err != nil {
			return nil, err
		}
		return EOFFromData(f.ID, f.Data), nil
	}
	if n == 0 {
		return nil, nil
	}
	return Data(f.ID, f.Data), nil
}

// OnReset processes an inbound RST_STREAM and returns the terminal Message
// it produces. A reset is always well-formed; it never fails content-length
// checks since the stream is closing regardless.
func (a *Assembler) OnReset(f *frame.RstStreamFrame) *Message {
	return EOFFromReset(f.ID, f.ErrCode)
}

// checkComplete verifies the accumulated payload matches any declared
// content-length exactly once the stream has ended (spec.md §3 invariant 3).
func (a *Assembler) checkComplete() error {
	if a.expectedLength != nil && a.seenLength != *a.expectedLength {
		return herrors.NewWrongPayloadLengthError(a.streamID)
	}
	return nil
}

// contentLength extracts and parses a "content-length" header field, if
// present. A malformed value is reported via the bool/err split so callers
// can distinguish "absent" from "present but invalid".
func contentLength(fields []hpack.HeaderField) (value uint64, present bool, err error) {
	for _, f := range fields {
		if f.Name != "content-length" {
			continue
		}
		v, perr := strconv.ParseUint(f.Value, 10, 64)
		if perr != nil {
			return 0, false, perr
		}
		return v, true, nil
	}
	return 0, false, nil
}
