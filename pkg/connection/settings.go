// Package connection implements the RFC 7540 connection state machine:
// frame dispatch, stream lifecycle transitions, two-level flow control and
// SETTINGS negotiation, generalized from WhileEndless/go-rawhttp's
// pkg/http2/client.go connection-handling loop and pkg/http2/stream.go's
// StreamManager into the transport-agnostic core spec.md §4 describes.
package connection

import "github.com/nullstream/h2engine/pkg/frame"

// Settings holds one side's negotiated SETTINGS parameters (RFC 7540 §6.5.2).
type Settings struct {
	HeaderTableSize       uint32
	EnablePush            bool
	MaxConcurrentStreams  uint32
	InitialWindowSize     uint32
	MaxFrameSize          uint32
	MaxHeaderListSize     uint32
	EnableConnectProtocol bool
}

// DefaultLocalSettings are the settings this engine advertises in its
// opening SETTINGS frame (spec.md §6).
func DefaultLocalSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		EnablePush:           false,
		MaxConcurrentStreams: 100,
		InitialWindowSize:    65535,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    0, // unlimited
	}
}

// DefaultRemoteSettings are the assumed values in effect before the peer's
// first SETTINGS frame arrives (RFC 7540 §6.5.2 defaults).
func DefaultRemoteSettings() Settings {
	return Settings{
		HeaderTableSize:      4096,
		EnablePush:           true,
		MaxConcurrentStreams: 1 << 31,
		InitialWindowSize:    65535,
		MaxFrameSize:         16384,
		MaxHeaderListSize:    0,
	}
}

// asFrame renders Settings as an outbound SETTINGS frame, omitting
// MaxHeaderListSize when unbounded (0 means "not advertised").
func (s Settings) asFrame() *frame.SettingsFrame {
	params := map[frame.SettingID]uint32{
		frame.SettingHeaderTableSize:   s.HeaderTableSize,
		frame.SettingMaxConcurrentStreams: s.MaxConcurrentStreams,
		frame.SettingInitialWindowSize: s.InitialWindowSize,
		frame.SettingMaxFrameSize:      s.MaxFrameSize,
	}
	if s.EnablePush {
		params[frame.SettingEnablePush] = 1
	} else {
		params[frame.SettingEnablePush] = 0
	}
	if s.MaxHeaderListSize > 0 {
		params[frame.SettingMaxHeaderListSize] = s.MaxHeaderListSize
	}
	if s.EnableConnectProtocol {
		params[frame.SettingEnableConnectProto] = 1
	}
	return &frame.SettingsFrame{Params: params}
}

// apply merges an inbound SETTINGS frame's parameters into s, returning the
// prior InitialWindowSize so the caller can compute the per-stream send
// window delta RFC 7540 §6.9.2 requires.
func (s *Settings) apply(f *frame.SettingsFrame) (oldInitialWindow uint32) {
	oldInitialWindow = s.InitialWindowSize
	for id, val := range f.Params {
		switch id {
		case frame.SettingHeaderTableSize:
			s.HeaderTableSize = val
		case frame.SettingEnablePush:
			s.EnablePush = val != 0
		case frame.SettingMaxConcurrentStreams:
			s.MaxConcurrentStreams = val
		case frame.SettingInitialWindowSize:
			s.InitialWindowSize = val
		case frame.SettingMaxFrameSize:
			s.MaxFrameSize = val
		case frame.SettingMaxHeaderListSize:
			s.MaxHeaderListSize = val
		case frame.SettingEnableConnectProto:
			s.EnableConnectProtocol = val != 0
		}
	}
	return oldInitialWindow
}
