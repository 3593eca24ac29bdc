// Command h2server accepts TLS+ALPN connections and serves each with one
// pkg/dispatcher.Dispatcher, answering every request with a 200 response
// whose body repeats the request's final DATA frame (earlier DATA frames of
// the request are not echoed). Generalized from the server half implied
// by original_source/examples/client.rs's connector/listener split, using
// golang.org/x/sync/errgroup for the per-connection supervision
// SPEC_FULL.md's ambient-stack section calls for.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nullstream/h2engine/pkg/control"
	"github.com/nullstream/h2engine/pkg/dispatcher"
	"github.com/nullstream/h2engine/pkg/handshake"
	"github.com/nullstream/h2engine/pkg/message"
	"github.com/nullstream/h2engine/pkg/stream"
	"github.com/nullstream/h2engine/pkg/tlsconfig"
	"github.com/nullstream/h2engine/pkg/transport"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8443", "listen address")
	certFile := flag.String("cert", "", "TLS certificate file (PEM)")
	keyFile := flag.String("key", "", "TLS private key file (PEM)")
	flag.Parse()

	if *certFile == "" || *keyFile == "" {
		log.Fatal("h2server: -cert and -key are required")
	}

	cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
	if err != nil {
		log.Fatalf("h2server: load cert: %v", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h2"}}
	tlsconfig.ApplyVersionProfile(tlsCfg, tlsconfig.ProfileSecure)

	ln, err := tls.Listen("tcp", *addr, tlsCfg)
	if err != nil {
		log.Fatalf("h2server: listen: %v", err)
	}
	defer ln.Close()
	log.Printf("h2server: listening on %s", *addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			log.Printf("h2server: accept: %v", err)
			continue
		}
		group.Go(func() error {
			serveConn(gctx, conn)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Printf("h2server: shutdown: %v", err)
	}
}

// serveConn runs one connection's handshake and dispatch loop to
// completion, never returning an error to the supervising errgroup: a
// single misbehaving peer must not tear down the listener.
func serveConn(ctx context.Context, rawConn net.Conn) {
	defer rawConn.Close()

	hsCfg := handshake.DefaultConfig()
	result, err := handshake.Server(ctx, rawConn, hsCfg)
	if err != nil {
		log.Printf("h2server: %s: handshake failed: %v", rawConn.RemoteAddr(), err)
		return
	}
	conn := result.Connection

	publish := control.PublishFunc(func(_ context.Context, msg *message.Message, ref stream.Ref) error {
		return echo(msg, ref)
	})
	ctl := control.ControlFunc(func(_ context.Context, msg control.ControlMessage) (control.Result, error) {
		switch msg.Kind {
		case control.KindProtocolError:
			log.Printf("h2server: %s: protocol error: %v", rawConn.RemoteAddr(), msg.ProtoErr)
			return control.Result{Disconnect: true}, nil
		case control.KindStreamError:
			log.Printf("h2server: %s: stream error: %v", rawConn.RemoteAddr(), msg.StreamErr)
		case control.KindPeerGone:
			log.Printf("h2server: %s: peer gone: %v", rawConn.RemoteAddr(), msg.Cause)
		}
		return control.Result{}, nil
	})

	d := dispatcher.New(conn, publish, ctl)
	src := transport.NewFrameSource(result.Codec, hsCfg.KeepaliveTimeout)
	if err := d.Run(ctx, src); err != nil {
		log.Printf("h2server: %s: dispatcher: %v", rawConn.RemoteAddr(), err)
	}
}

// echo answers every request's terminal event with a 200 response, the
// minimal Publish service spec.md §8 scenario 1 ("happy GET response")
// exercises. A request that ends on its HEADERS gets a header-only 200; one
// that ends on DATA gets that final DATA frame back as the body (earlier
// DATA frames are not echoed). A reset or trailers-only request gets no
// response: the stream is already done.
func echo(msg *message.Message, ref stream.Ref) error {
	if msg.Kind == message.KindHeaders && msg.HeadersEOF {
		return ref.SendHeaders(200, nil, true)
	}
	if msg.Kind != message.KindEOF || msg.EOFKind != message.EOFData {
		return nil
	}
	if err := ref.SendHeaders(200, nil, false); err != nil {
		return err
	}
	return ref.SendData(msg.EOFData, true)
}
