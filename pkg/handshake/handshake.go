// Package handshake performs the RFC 7540 §3.5 connection preface exchange
// and initial SETTINGS negotiation before a Connection is handed off to a
// Dispatcher, generalized from the connection-setup portion of
// WhileEndless/go-rawhttp's pkg/http2/client.go (Connect/writePreface/
// negotiateSettings).
package handshake

import (
	"context"
	"io"
	"time"

	"github.com/nullstream/h2engine/pkg/connection"
	"github.com/nullstream/h2engine/pkg/frame"
	"github.com/nullstream/h2engine/pkg/herrors"
)

// Config bundles the tunable handshake/keep-alive parameters spec.md §6
// lists as defaults.
type Config struct {
	HandshakeTimeout      time.Duration
	DisconnectTimeout     time.Duration
	KeepaliveTimeout      time.Duration
	EnableConnectProtocol bool

	HeaderTableSize   uint32
	MaxHeaderListSize uint32

	ResetStreamMax int
	ResetStreamTTL time.Duration
}

// DefaultConfig returns spec.md §6's defaults: initial_window_size=65535,
// max_frame_size=16384, reset_stream_max=10, reset_stream_duration=10s,
// handshake_timeout=5s, disconnect_timeout=3s, keepalive_timeout=120s,
// enable_connect_protocol=false.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  5 * time.Second,
		DisconnectTimeout: 3 * time.Second,
		KeepaliveTimeout:  120 * time.Second,
		HeaderTableSize:   4096,
		ResetStreamMax:    10,
		ResetStreamTTL:    10 * time.Second,
	}
}

// Result is the product of a successful handshake: a live Connection and the
// Codec the Dispatcher's transport should keep reading frames from.
type Result struct {
	Connection *connection.Connection
	Codec      *frame.Codec
}

// Client performs the client-side handshake over rw: write the preface,
// send our SETTINGS, and wait for the peer's first SETTINGS frame (its
// acknowledgement may arrive later, interleaved with other frames, so it is
// not awaited here).
func Client(ctx context.Context, rw io.ReadWriter, cfg Config) (*Result, error) {
	return negotiate(ctx, rw, cfg, true)
}

// Server performs the server-side handshake: read and validate the client
// preface, then proceed exactly as Client does for the SETTINGS exchange.
func Server(ctx context.Context, rw io.ReadWriter, cfg Config) (*Result, error) {
	if err := frame.ReadPreface(rw); err != nil {
		return nil, err
	}
	return negotiate(ctx, rw, cfg, false)
}

func negotiate(ctx context.Context, rw io.ReadWriter, cfg Config, isClient bool) (*Result, error) {
	codec := frame.NewCodec(rw, cfg.HeaderTableSize, cfg.MaxHeaderListSize)

	if isClient {
		if err := frame.WritePreface(rw); err != nil {
			return nil, herrors.NewFrameError(err)
		}
	}

	connCfg := connection.DefaultConfig(isClient)
	connCfg.Local.HeaderTableSize = cfg.HeaderTableSize
	connCfg.Local.MaxHeaderListSize = cfg.MaxHeaderListSize
	connCfg.Local.EnableConnectProtocol = cfg.EnableConnectProtocol
	if cfg.ResetStreamMax > 0 {
		connCfg.ResetStreamMax = cfg.ResetStreamMax
	}
	if cfg.ResetStreamTTL > 0 {
		connCfg.ResetStreamTTL = cfg.ResetStreamTTL
	}

	conn := connection.New(codec, connCfg)
	if err := conn.SendInitialSettings(); err != nil {
		return nil, herrors.NewFrameError(err)
	}

	// One deadline bounds the whole negotiation, not each individual read:
	// re-arming per frame would let a peer that trickles non-SETTINGS frames
	// stall the handshake indefinitely while never tripping any single read.
	hctx := ctx
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}

	// The first frame received from the peer must be SETTINGS (spec.md §4.1);
	// any other first frame is a connection error. Everything after that
	// first frame is dispatched normally, including a delayed SETTINGS ack.
	first := true
	for {
		f, err := readFrame(hctx, codec)
		if err != nil {
			return nil, err
		}
		sf, isSettings := f.(*frame.SettingsFrame)
		if first {
			first = false
			if !isSettings {
				return nil, herrors.NewReasonError(herrors.ProtocolErrorCode)
			}
		}
		if _, dispatchErr := conn.Dispatch(f); dispatchErr != nil {
			return nil, dispatchErr
		}
		if isSettings && !sf.Ack {
			break
		}
	}

	return &Result{Connection: conn, Codec: codec}, nil
}

// readFrame reads one frame, bounded by ctx. codec.ReadFrame has no
// context-aware variant, so the read runs on a background goroutine; if ctx
// wins the race the goroutine is abandoned (it returns once the underlying
// connection is eventually closed by the caller) and the deadline is
// reported as HandshakeTimeout rather than a raw context error (spec.md
// §4.1: "timeout yields HandshakeTimeout without emitting a GOAWAY" — there
// is no Connection to GOAWAY over yet, since the handshake never completed).
func readFrame(ctx context.Context, codec *frame.Codec) (frame.Frame, error) {
	type result struct {
		f   frame.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := codec.ReadFrame()
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		return r.f, r.err
	case <-ctx.Done():
		return nil, herrors.NewHandshakeTimeoutError()
	}
}
