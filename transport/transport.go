// Package transport is the boundary this library consumes: a dialer
// producing a duplex byte stream for a (scheme, host, port) target.
// Pooling, proxying, and TLS policy live behind this boundary, not in
// the protocol core.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Dialer supplies one duplex byte channel per call. The core writes a
// full request to the returned connection, reads the response, and
// closes it; reuse policy belongs to the implementation.
type Dialer interface {
	DialContext(ctx context.Context, scheme, addr string) (net.Conn, error)
}

// Address derives the dial target for u, making the scheme-implied
// port explicit.
func Address(u *url.URL) (scheme, addr string) {
	scheme = u.Scheme
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return scheme, net.JoinHostPort(host, port)
}

// NetDialer dials plain TCP for http targets and TLS for https.
type NetDialer struct {
	// Timeout bounds connection establishment. Zero means no limit.
	Timeout time.Duration

	// TLSConfig applies to https targets. Nil uses defaults.
	TLSConfig *tls.Config
}

// NewNetDialer returns a NetDialer with a 5 second connect timeout.
func NewNetDialer() *NetDialer {
	return &NetDialer{Timeout: 5 * time.Second}
}

func (d *NetDialer) DialContext(ctx context.Context, scheme, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}

	switch scheme {
	case "http":
		conn, err := nd.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", addr, err)
		}
		return conn, nil
	case "https":
		td := &tls.Dialer{NetDialer: nd, Config: d.TLSConfig}
		conn, err := td.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dialing tls %s: %w", addr, err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}
}
