package frame

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/nullstream/h2engine/pkg/herrors"
)

// ClientPreface is the fixed 24-octet sequence a client writes before its
// first SETTINGS frame (RFC 7540 §3.5), carried over from
// WhileEndless/go-rawhttp's pkg/http2/transport.go ClientPreface constant.
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Codec is the frame codec collaborator: it reads/writes typed Frame values
// over an io.ReadWriter using golang.org/x/net/http2's Framer for framing and
// golang.org/x/net/http2/hpack for header compression, exactly as
// WhileEndless/go-rawhttp's pkg/http2/frames.go (FrameHandler) and client.go
// (conn.Encoder/conn.Decoder) do, generalized to every frame type in scope.
type Codec struct {
	framer *http2.Framer
	enc    *hpack.Encoder
	encBuf *bytes.Buffer
	dec    *hpack.Decoder
}

// NewCodec wires a Codec over rw. headerTableSize seeds HPACK's dynamic
// table size (both directions); maxHeaderListSize bounds decoded header list
// size to prevent unbounded decode memory (spec.md §5).
func NewCodec(rw io.ReadWriter, headerTableSize, maxHeaderListSize uint32) *Codec {
	c := &Codec{
		framer: http2.NewFramer(rw, rw),
		encBuf: &bytes.Buffer{},
	}
	c.enc = hpack.NewEncoder(c.encBuf)
	c.enc.SetMaxDynamicTableSize(headerTableSize)
	c.dec = hpack.NewDecoder(headerTableSize, nil)
	if maxHeaderListSize > 0 {
		c.framer.SetMaxReadFrameSize(16 << 20)
		c.framer.MaxHeaderListSize = maxHeaderListSize
	}
	c.framer.ReadMetaHeaders = c.dec
	return c
}

// SetMaxFrameSize bounds the payload size of inbound frames the codec will
// read. It does not limit outbound frames; outbound DATA is chunked by
// Connection against the peer's SETTINGS_MAX_FRAME_SIZE.
func (c *Codec) SetMaxFrameSize(n uint32) {
	c.framer.SetMaxReadFrameSize(n)
}

// WritePreface writes the fixed client preface octets.
func WritePreface(w io.Writer) error {
	_, err := io.WriteString(w, ClientPreface)
	return err
}

// ReadPreface reads and validates the fixed client preface octets.
func ReadPreface(r io.Reader) error {
	buf := make([]byte, len(ClientPreface))
	if _, err := io.ReadFull(r, buf); err != nil {
		return herrors.NewFrameError(fmt.Errorf("reading client preface: %w", err))
	}
	if string(buf) != ClientPreface {
		return herrors.NewReasonError(herrors.ProtocolErrorCode)
	}
	return nil
}

// ReadFrame reads and decodes the next frame from the transport, translating
// codec-level failures into *herrors.ProtocolError per spec.md §7.
func (c *Codec) ReadFrame() (Frame, error) {
	for {
		raw, err := c.framer.ReadFrame()
		if err != nil {
			if ce, ok := err.(http2.ConnectionError); ok {
				return nil, herrors.NewReasonError(herrors.Reason(ce))
			}
			if se, ok := err.(http2.StreamError); ok {
				return nil, herrors.NewFrameError(fmt.Errorf("stream %d: %s", se.StreamID, se.Code))
			}
			return nil, herrors.NewFrameError(err)
		}
		f, err := convertInbound(raw)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
		// Unknown/extension frame type: keep reading.
	}
}

func convertInbound(raw http2.Frame) (Frame, error) {
	switch f := raw.(type) {
	case *http2.MetaHeadersFrame:
		pseudo, fields, err := SplitPseudoHeaders(f.Fields)
		if err != nil {
			return nil, err
		}
		hf := &HeadersFrame{
			ID:         f.StreamID,
			Pseudo:     pseudo,
			Fields:     fields,
			EndStream:  f.StreamEnded(),
			EndHeaders: true,
		}
		if f.HasPriority() {
			hf.Priority = &PriorityParam{
				StreamDependency: f.PriorityParam.StreamDep,
				Exclusive:        f.PriorityParam.Exclusive,
				Weight:           f.PriorityParam.Weight,
			}
		}
		return hf, nil
	case *http2.DataFrame:
		data := append([]byte(nil), f.Data()...)
		return &DataFrame{ID: f.StreamID, Data: data, EndStream: f.StreamEnded()}, nil
	case *http2.PriorityFrame:
		return &PriorityFrame{ID: f.StreamID, Priority: PriorityParam{
			StreamDependency: f.PriorityParam.StreamDep,
			Exclusive:        f.PriorityParam.Exclusive,
			Weight:           f.PriorityParam.Weight,
		}}, nil
	case *http2.RSTStreamFrame:
		return &RstStreamFrame{ID: f.StreamID, ErrCode: herrors.Reason(f.ErrCode)}, nil
	case *http2.SettingsFrame:
		if f.IsAck() {
			return &SettingsFrame{Ack: true}, nil
		}
		params := make(map[SettingID]uint32)
		_ = f.ForeachSetting(func(s http2.Setting) error {
			params[SettingID(s.ID)] = s.Val
			return nil
		})
		return &SettingsFrame{Params: params}, nil
	case *http2.PingFrame:
		return &PingFrame{Ack: f.IsAck(), Payload: f.Data}, nil
	case *http2.GoAwayFrame:
		debug := append([]byte(nil), f.DebugData()...)
		return &GoAwayFrame{LastStreamID: f.LastStreamID, ErrCode: herrors.Reason(f.ErrCode), DebugData: debug}, nil
	case *http2.WindowUpdateFrame:
		return &WindowUpdateFrame{ID: f.StreamID, Increment: f.Increment}, nil
	case *http2.PushPromiseFrame:
		return nil, herrors.NewReasonError(herrors.ProtocolErrorCode)
	default:
		// Unknown/extension frame types are ignored per RFC 7540 §4.1; a nil
		// Frame with a nil error tells the caller to read the next frame.
		return nil, nil
	}
}

// WriteFrame encodes and writes f to the transport.
func (c *Codec) WriteFrame(f Frame) error {
	switch v := f.(type) {
	case *HeadersFrame:
		return c.writeHeaders(v)
	case *DataFrame:
		return c.framer.WriteData(v.ID, v.EndStream, v.Data)
	case *RstStreamFrame:
		return c.framer.WriteRSTStream(v.ID, http2.ErrCode(v.ErrCode))
	case *SettingsFrame:
		if v.Ack {
			return c.framer.WriteSettingsAck()
		}
		settings := make([]http2.Setting, 0, len(v.Params))
		for id, val := range v.Params {
			settings = append(settings, http2.Setting{ID: http2.SettingID(id), Val: val})
		}
		return c.framer.WriteSettings(settings...)
	case *PingFrame:
		return c.framer.WritePing(v.Ack, v.Payload)
	case *GoAwayFrame:
		return c.framer.WriteGoAway(v.LastStreamID, http2.ErrCode(v.ErrCode), v.DebugData)
	case *WindowUpdateFrame:
		return c.framer.WriteWindowUpdate(v.ID, v.Increment)
	case *PriorityFrame:
		return c.framer.WritePriority(v.ID, http2.PriorityParam{
			StreamDep: v.Priority.StreamDependency,
			Exclusive: v.Priority.Exclusive,
			Weight:    v.Priority.Weight,
		})
	default:
		return fmt.Errorf("frame: unsupported outbound frame type %T", f)
	}
}

func (c *Codec) writeHeaders(v *HeadersFrame) error {
	c.encBuf.Reset()
	if err := c.encodePseudo(v.Pseudo); err != nil {
		return herrors.NewEncoderError(err)
	}
	for _, field := range v.Fields {
		if err := c.enc.WriteField(field); err != nil {
			return herrors.NewEncoderError(err)
		}
	}
	param := http2.HeadersFrameParam{
		StreamID:      v.ID,
		BlockFragment: c.encBuf.Bytes(),
		EndStream:     v.EndStream,
		EndHeaders:    true,
	}
	if v.Priority != nil {
		param.Priority = http2.PriorityParam{
			StreamDep: v.Priority.StreamDependency,
			Exclusive: v.Priority.Exclusive,
			Weight:    v.Priority.Weight,
		}
	}
	return c.framer.WriteHeaders(param)
}

func (c *Codec) encodePseudo(p PseudoHeaders) error {
	// Pseudo-headers must precede regular fields (RFC 7540 §8.1.2.1).
	write := func(name string, v *string) error {
		if v == nil {
			return nil
		}
		return c.enc.WriteField(hpack.HeaderField{Name: name, Value: *v})
	}
	if err := write(":method", p.Method); err != nil {
		return err
	}
	if err := write(":scheme", p.Scheme); err != nil {
		return err
	}
	if err := write(":authority", p.Authority); err != nil {
		return err
	}
	if err := write(":path", p.Path); err != nil {
		return err
	}
	if err := write(":protocol", p.Protocol); err != nil {
		return err
	}
	return write(":status", p.Status)
}
