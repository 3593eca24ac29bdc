// Package herrors defines the three-tier error taxonomy the engine core
// uses to separate connection-fatal, stream-fatal and application-visible
// failures (RFC 7540 §7).
package herrors

import "fmt"

// Reason is an RFC 7540 error code, carried on RST_STREAM and GOAWAY frames.
type Reason uint32

const (
	NoError            Reason = 0x0
	ProtocolErrorCode  Reason = 0x1
	InternalError      Reason = 0x2
	FlowControlError   Reason = 0x3
	SettingsTimeout    Reason = 0x4
	StreamClosedCode   Reason = 0x5
	FrameSizeError     Reason = 0x6
	RefusedStream      Reason = 0x7
	Cancel             Reason = 0x8
	CompressionError   Reason = 0x9
	ConnectError       Reason = 0xa
	EnhanceYourCalm    Reason = 0xb
	InadequateSecurity Reason = 0xc
	HTTP11Required     Reason = 0xd
)

func (r Reason) String() string {
	switch r {
	case NoError:
		return "NO_ERROR"
	case ProtocolErrorCode:
		return "PROTOCOL_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case SettingsTimeout:
		return "SETTINGS_TIMEOUT"
	case StreamClosedCode:
		return "STREAM_CLOSED"
	case FrameSizeError:
		return "FRAME_SIZE_ERROR"
	case RefusedStream:
		return "REFUSED_STREAM"
	case Cancel:
		return "CANCEL"
	case CompressionError:
		return "COMPRESSION_ERROR"
	case ConnectError:
		return "CONNECT_ERROR"
	case EnhanceYourCalm:
		return "ENHANCE_YOUR_CALM"
	case InadequateSecurity:
		return "INADEQUATE_SECURITY"
	case HTTP11Required:
		return "HTTP_1_1_REQUIRED"
	default:
		return fmt.Sprintf("UNKNOWN(0x%x)", uint32(r))
	}
}
