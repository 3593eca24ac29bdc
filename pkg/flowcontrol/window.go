// Package flowcontrol implements the signed 31-bit window arithmetic used by
// both connection-level and stream-level HTTP/2 flow control (RFC 7540
// §6.9), generalized from the WindowSize/PeerWindowSize bookkeeping in
// WhileEndless/go-rawhttp's pkg/http2/stream.go.
package flowcontrol

import "github.com/nullstream/h2engine/pkg/herrors"

// maxWindow is 2^31-1, the largest value a flow-control window may hold.
const maxWindow = (1 << 31) - 1

// SendWindow tracks how many octets of DATA may still be sent before the
// sender must wait for a WINDOW_UPDATE.
type SendWindow struct {
	size int32
}

// NewSendWindow creates a send window at the given initial size.
func NewSendWindow(initial uint32) *SendWindow {
	return &SendWindow{size: int32(initial)}
}

// Available returns the current window size, which may be negative after a
// SETTINGS-driven initial window decrease (RFC 7540 §6.9.2).
func (w *SendWindow) Available() int32 {
	return w.size
}

// Consume decreases the window by n, used when n bytes of DATA are emitted.
// n must not exceed Available(); callers are responsible for chunking.
func (w *SendWindow) Consume(n uint32) {
	w.size -= int32(n)
}

// Increase applies a WINDOW_UPDATE increment (or a SETTINGS-driven delta,
// which may be negative). It reports FlowControlError if the window would
// exceed 2^31-1.
func (w *SendWindow) Increase(delta int64) error {
	next := int64(w.size) + delta
	if next > maxWindow {
		return herrors.NewReasonError(herrors.FlowControlError)
	}
	w.size = int32(next)
	return nil
}

// RecvWindow tracks how many octets of DATA the engine will still accept
// before it must emit a WINDOW_UPDATE to the peer, plus the accumulated
// credit not yet announced (the "pending_window_update" in spec.md §3).
type RecvWindow struct {
	size    int32
	pending uint32
	initial uint32
}

// NewRecvWindow creates a receive window at the given initial size.
func NewRecvWindow(initial uint32) *RecvWindow {
	return &RecvWindow{size: int32(initial), initial: initial}
}

// Available returns the remaining receive budget.
func (w *RecvWindow) Available() int32 {
	return w.size
}

// Consume decreases the window by the size of an inbound DATA payload
// (including padding). It returns a FlowControlError (invariant 2/6 in
// spec.md §3/§8) if the peer has exceeded the advertised window, i.e. if the
// window would go negative, or if the accumulated pending credit plus the
// remaining window would overflow 2^31-1.
func (w *RecvWindow) Consume(n uint32) error {
	if int64(w.size)-int64(n) < 0 {
		return herrors.NewReasonError(herrors.FlowControlError)
	}
	if int64(w.size)+int64(w.pending) > maxWindow {
		return herrors.NewReasonError(herrors.FlowControlError)
	}
	w.size -= int32(n)
	return nil
}

// Release accounts for n bytes the application has consumed from its
// buffered inbound data. It implements the replenish-at-half-window policy
// from spec.md §4.3: accumulate pending credit, but only report a
// WINDOW_UPDATE increment once the window has fallen below half of its
// configured initial size, and never report a zero-value increment.
func (w *RecvWindow) Release(n uint32) (increment uint32, ok bool) {
	w.pending += n
	if w.pending == 0 {
		return 0, false
	}
	if w.size >= int32(w.initial/2) {
		return 0, false
	}
	increment = w.pending
	w.size += int32(increment)
	w.pending = 0
	return increment, true
}

// ApplySettingsDelta applies a SETTINGS_INITIAL_WINDOW_SIZE change to an
// already-open stream's window (RFC 7540 §6.9.2), returning a
// FlowControlError if the resulting window would exceed 2^31-1.
func (w *SendWindow) ApplySettingsDelta(oldInitial, newInitial uint32) error {
	return w.Increase(int64(newInitial) - int64(oldInitial))
}
