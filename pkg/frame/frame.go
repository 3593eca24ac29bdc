// Package frame models the typed frames the engine core consumes and emits.
// The wire-level codec (framing, length prefixing, HPACK) is an external
// collaborator per spec.md §1/§6; this package wraps golang.org/x/net/http2's
// Framer and hpack codec the same way WhileEndless/go-rawhttp's
// pkg/http2/frames.go does, but widens coverage to every RFC 7540 frame type
// the engine dispatches (spec.md §6) instead of just HEADERS/DATA.
package frame

import (
	"golang.org/x/net/http2/hpack"

	"github.com/nullstream/h2engine/pkg/herrors"
)

// Frame is the common shape of every typed frame the core exchanges with the
// Connection and Dispatcher.
type Frame interface {
	// StreamID is 0 for connection-level frames (SETTINGS, PING, GOAWAY).
	StreamID() uint32
}

// DataFrame carries a chunk of request/response body.
type DataFrame struct {
	ID        uint32
	Data      []byte
	EndStream bool
}

func (f *DataFrame) StreamID() uint32 { return f.ID }

// PriorityParam mirrors the PRIORITY frame payload (RFC 7540 §6.3). The
// engine accepts and ignores PRIORITY per spec.md Non-goals.
type PriorityParam struct {
	StreamDependency uint32
	Exclusive        bool
	Weight           uint8
}

// HeadersFrame carries a decoded header block: either the initial
// request/response headers or trailers.
type HeadersFrame struct {
	ID         uint32
	Pseudo     PseudoHeaders
	Fields     []hpack.HeaderField // non-pseudo header fields, in arrival order
	EndStream  bool
	EndHeaders bool
	Priority   *PriorityParam
}

func (f *HeadersFrame) StreamID() uint32 { return f.ID }

// PriorityFrame is accepted and ignored (spec.md Non-goals).
type PriorityFrame struct {
	ID       uint32
	Priority PriorityParam
}

func (f *PriorityFrame) StreamID() uint32 { return f.ID }

// RstStreamFrame aborts a single stream.
type RstStreamFrame struct {
	ID       uint32
	ErrCode  herrors.Reason
}

func (f *RstStreamFrame) StreamID() uint32 { return f.ID }

// SettingID identifies a SETTINGS parameter (RFC 7540 §6.5.2).
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
	SettingEnableConnectProto   SettingID = 0x8
)

// SettingsFrame carries either a parameter set (Ack == false) or an
// acknowledgement of a previously-sent SETTINGS frame (Ack == true).
type SettingsFrame struct {
	Ack    bool
	Params map[SettingID]uint32
}

func (f *SettingsFrame) StreamID() uint32 { return 0 }

// PingPayload is the 8 opaque octets of a PING frame.
type PingPayload [8]byte

// PING sentinels for internal dispatcher use (spec.md §6, supplemented from
// original_source/src/frame/ping.rs).
var (
	PingShutdown = PingPayload{0x0b, 0x7b, 0xa2, 0xf0, 0x8b, 0x9b, 0xfe, 0x54}
	PingUser     = PingPayload{0x3b, 0x7c, 0xdb, 0x7a, 0x0b, 0x87, 0x16, 0xb4}
)

// PingFrame is a connection-level keep-alive/round-trip probe.
type PingFrame struct {
	Ack     bool
	Payload PingPayload
}

func (f *PingFrame) StreamID() uint32 { return 0 }

// GoAwayFrame signals graceful or abrupt connection termination.
type GoAwayFrame struct {
	LastStreamID uint32
	ErrCode      herrors.Reason
	DebugData    []byte
}

func (f *GoAwayFrame) StreamID() uint32 { return 0 }

// WindowUpdateFrame credits additional send-window capacity, either at the
// connection level (ID == 0) or for a single stream.
type WindowUpdateFrame struct {
	ID        uint32
	Increment uint32
}

func (f *WindowUpdateFrame) StreamID() uint32 { return f.ID }
