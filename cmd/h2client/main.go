// Command h2client drives one HTTP/2 request to completion over a real
// TLS+ALPN connection, exercising pkg/transport, pkg/handshake,
// pkg/connection and pkg/dispatcher end to end. Generalized from the
// openssl-connector client in original_source/examples/client.rs into the
// transport/handshake/dispatcher seams this module exposes.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2/hpack"

	"github.com/nullstream/h2engine/pkg/buffer"
	"github.com/nullstream/h2engine/pkg/control"
	"github.com/nullstream/h2engine/pkg/dispatcher"
	"github.com/nullstream/h2engine/pkg/frame"
	"github.com/nullstream/h2engine/pkg/handshake"
	"github.com/nullstream/h2engine/pkg/message"
	"github.com/nullstream/h2engine/pkg/stream"
	"github.com/nullstream/h2engine/pkg/timing"
	"github.com/nullstream/h2engine/pkg/transport"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", 8443, "server port")
	path := flag.String("path", "/", "request path")
	insecure := flag.Bool("insecure", true, "skip TLS certificate verification")
	method := flag.String("method", "GET", "request method")
	body := flag.String("body", "", "request body, sent with END_STREAM on its last DATA frame")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timer := timing.NewTimer()
	tlsConn, err := transport.Dial(ctx, transport.Config{
		Host:        *host,
		Port:        *port,
		InsecureTLS: *insecure,
		ConnTimeout: 10 * time.Second,
	}, timer)
	if err != nil {
		log.Fatalf("h2client: dial: %v", err)
	}
	defer tlsConn.Close()

	hsCfg := handshake.DefaultConfig()
	result, err := handshake.Client(ctx, tlsConn, hsCfg)
	if err != nil {
		log.Fatalf("h2client: handshake: %v", err)
	}
	conn := result.Connection

	done := make(chan struct{})
	firstByte := true
	respBody := buffer.New(int64(buffer.DefaultMemoryLimit))
	defer respBody.Close()
	publish := control.PublishFunc(func(_ context.Context, msg *message.Message, _ stream.Ref) error {
		if firstByte && (msg.Kind == message.KindHeaders || msg.Kind == message.KindData || msg.Kind == message.KindEOF) {
			timer.EndTTFB()
			firstByte = false
		}
		logMessage(msg)
		switch msg.Kind {
		case message.KindHeaders:
			if msg.HeadersEOF {
				close(done)
			}
		case message.KindData:
			_, _ = respBody.Write(msg.Data)
		case message.KindEOF:
			if msg.EOFKind == message.EOFData {
				_, _ = respBody.Write(msg.EOFData)
			}
			close(done)
		}
		return nil
	})
	ctl := control.ControlFunc(func(_ context.Context, msg control.ControlMessage) (control.Result, error) {
		switch msg.Kind {
		case control.KindProtocolError:
			log.Printf("h2client: protocol error: %v", msg.ProtoErr)
			return control.Result{Disconnect: true}, nil
		case control.KindStreamError:
			log.Printf("h2client: stream error: %v", msg.StreamErr)
		case control.KindGoAway:
			log.Printf("h2client: peer sent GOAWAY: %s", msg.GoAway.ErrCode)
			return control.Result{Disconnect: true}, nil
		case control.KindPeerGone:
			log.Printf("h2client: peer gone: %v", msg.Cause)
		case control.KindTerminated:
			log.Printf("h2client: connection terminated (error=%v)", msg.IsError)
		}
		return control.Result{}, nil
	})

	d := dispatcher.New(conn, publish, ctl)
	src := transport.NewFrameSource(result.Codec, hsCfg.KeepaliveTimeout)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- d.Run(ctx, src) }()

	scheme := "https"
	timer.StartTTFB()
	ref, err := conn.OpenStream(frame.PseudoHeaders{
		Method:    ptr(*method),
		Scheme:    ptr(scheme),
		Authority: ptr(*host),
		Path:      ptr(*path),
	}, []hpack.HeaderField{
		{Name: "user-agent", Value: "h2engine/1.0"},
	}, *body == "")
	if err != nil {
		log.Fatalf("h2client: open stream: %v", err)
	}
	if *body != "" {
		if err := ref.SendData([]byte(*body), true); err != nil {
			log.Fatalf("h2client: send data: %v", err)
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
	case err := <-runErrCh:
		if err != nil {
			log.Printf("h2client: dispatcher stopped: %v", err)
		}
	}

	log.Printf("timings: %s", timer.GetMetrics())
	if respBody.IsSpilled() {
		log.Printf("response body: %d bytes, spilled to %s", respBody.Size(), respBody.Path())
	} else {
		log.Printf("response body: %d bytes", respBody.Size())
	}
}

func logMessage(msg *message.Message) {
	switch msg.Kind {
	case message.KindHeaders:
		status, _ := msg.Pseudo.StatusCode()
		log.Printf("stream %d: headers status=%d fields=%d eof=%v", msg.StreamID, status, len(msg.Fields), msg.HeadersEOF)
	case message.KindData:
		log.Printf("stream %d: data %d bytes: %q", msg.StreamID, len(msg.Data), truncate(msg.Data))
	case message.KindEOF:
		switch msg.EOFKind {
		case message.EOFData:
			log.Printf("stream %d: eof data %d bytes: %q", msg.StreamID, len(msg.EOFData), truncate(msg.EOFData))
		case message.EOFTrailers:
			log.Printf("stream %d: eof trailers fields=%d", msg.StreamID, len(msg.EOFFields))
		case message.EOFReset:
			log.Printf("stream %d: eof reset reason=%s", msg.StreamID, msg.EOFReason)
		}
	}
}

func truncate(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

func ptr(s string) *string { return &s }
