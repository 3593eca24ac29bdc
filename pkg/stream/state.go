// Package stream implements the per-stream RFC 7540 state machine
// (spec.md §4.2), generalized from the StreamState/isValidStateTransition
// pair in WhileEndless/go-rawhttp's pkg/http2/stream.go into the full
// idle/reserved/open/half-closed/closed lifecycle. The content-length and
// HEAD-response invariants from spec.md §3 are enforced in pkg/message.
package stream

// State is one of the seven RFC 7540 stream states.
type State int

const (
	Idle State = iota
	ReservedLocal
	ReservedRemote
	Open
	HalfClosedLocal
	HalfClosedRemote
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ReservedLocal:
		return "reserved(local)"
	case ReservedRemote:
		return "reserved(remote)"
	case Open:
		return "open"
	case HalfClosedLocal:
		return "half-closed(local)"
	case HalfClosedRemote:
		return "half-closed(remote)"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// NextOnEndStream computes the state transition a stream undergoes when an
// END_STREAM-bearing frame is processed in the given direction.
//
// local reports whether the END_STREAM-bearing frame was sent by us (true)
// or received from the peer (false).
func NextOnEndStream(current State, local bool) State {
	switch current {
	case Idle, Open:
		if local {
			return HalfClosedLocal
		}
		return HalfClosedRemote
	case HalfClosedLocal:
		if !local {
			return Closed
		}
		return current
	case HalfClosedRemote:
		if local {
			return Closed
		}
		return current
	default:
		return current
	}
}

// CanRecvData reports whether a DATA frame may legally arrive while the
// stream is in the given state (spec.md §3 invariant 2).
func CanRecvData(s State) bool {
	return s == Open || s == HalfClosedLocal
}

// CanSendData reports whether the application may emit DATA while the
// stream is in the given state.
func CanSendData(s State) bool {
	return s == Open || s == HalfClosedRemote
}

// CanSend reports whether the application may send any frame (other than
// RST_STREAM) for a stream in state s — Idle and Closed streams reject
// application sends with OperationError (spec.md §4.2).
func CanSend(s State) bool {
	return s != Idle && s != Closed
}
