// Package transport dials the TCP+TLS connection an h2 handshake runs over,
// negotiating the "h2" ALPN protocol. Adapted from the Dial/dialTLS helpers
// in WhileEndless/go-rawhttp's pkg/transport/transport.go, trimmed to the
// TLS/ALPN concern the engine core actually depends on: proxy tunneling,
// connection pooling and plaintext-upgrade support are out of scope (spec.md
// Non-goals: "no HTTP/1.x compatibility", "no plaintext upgrade").
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/nullstream/h2engine/pkg/errors"
	"github.com/nullstream/h2engine/pkg/timing"
	"github.com/nullstream/h2engine/pkg/tlsconfig"
)

// Config holds the parameters for dialing one h2 connection.
type Config struct {
	Host string
	Port int

	// SNI overrides the TLS ServerName; empty uses Host.
	SNI         string
	InsecureTLS bool
	TLSConfig   *tls.Config

	ConnTimeout time.Duration
}

// DefaultConfig fills in spec.md §6-adjacent transport defaults.
func DefaultConfig(host string, port int) Config {
	return Config{Host: host, Port: port, ConnTimeout: 10 * time.Second}
}

// Dial opens a TCP connection to cfg.Host:cfg.Port and performs a TLS
// handshake offering "h2" via ALPN, returning an error unless the peer
// selected it (spec.md §1: ALPN negotiation is the external collaborator
// that hands a ready h2 stream to the engine). timer may be nil; when
// non-nil its TCP/TLS phases are recorded exactly as
// WhileEndless/go-rawhttp's pkg/transport.Transport.Connect does.
func Dial(ctx context.Context, cfg Config, timer *timing.Timer) (*tls.Conn, error) {
	port := cfg.Port
	if port == 0 {
		port = 443
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	if timer != nil {
		timer.StartTCP()
	}
	dialer := &net.Dialer{Timeout: cfg.ConnTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if timer != nil {
		timer.EndTCP()
	}
	if err != nil {
		return nil, errors.NewConnectionError(cfg.Host, port, err)
	}

	tlsCfg := buildTLSConfig(cfg)
	conn := tls.Client(raw, tlsCfg)
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if timer != nil {
		timer.StartTLS()
	}
	err = conn.HandshakeContext(ctx)
	if timer != nil {
		timer.EndTLS()
	}
	if err != nil {
		_ = raw.Close()
		return nil, errors.NewTLSError(cfg.Host, port, err)
	}
	_ = conn.SetDeadline(time.Time{})

	if conn.ConnectionState().NegotiatedProtocol != "h2" {
		_ = conn.Close()
		return nil, errors.NewProtocolError("peer did not negotiate h2 via ALPN", nil)
	}
	return conn, nil
}

func buildTLSConfig(cfg Config) *tls.Config {
	var tc *tls.Config
	if cfg.TLSConfig != nil {
		tc = cfg.TLSConfig.Clone()
	} else {
		tc = &tls.Config{}
	}
	tc.NextProtos = []string{"h2"}
	if tc.ServerName == "" {
		if cfg.SNI != "" {
			tc.ServerName = cfg.SNI
		} else {
			tc.ServerName = cfg.Host
		}
	}
	if cfg.InsecureTLS {
		tc.InsecureSkipVerify = true
	}
	if tc.MinVersion == 0 {
		tlsconfig.ApplyVersionProfile(tc, tlsconfig.ProfileSecure)
	}
	return tc
}
