// Package redirect decides whether a completed response demands a
// follow-up request, and builds that request: target resolution,
// method and body handling, and cross-origin credential stripping.
package redirect

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"github.com/adamwoolhether/httpwire/message"
)

// ErrBodyNotRewindable is returned when a 307/308 requires re-sending
// a body that was streamed and cannot be replayed.
var ErrBodyNotRewindable = errors.New("redirect requires re-sending a non-rewindable body")

// Resolve inspects resp and returns the next request to send, or nil
// when the response is terminal. It never dispatches anything itself.
//
// A response redirects when its status is 301, 302, 303, 307, or 308
// and a Location header is present. Method handling follows current
// HTTP semantics: 303 always becomes GET, 301 and 302 downgrade only
// POST to GET, 307 and 308 preserve the method and body. The resolved
// target has non-ASCII path bytes percent-encoded and non-ASCII hosts
// IDNA-encoded before it can reach the wire.
func Resolve(resp *message.Response) (*message.Request, error) {
	if !eligible(resp.StatusCode) {
		return nil, nil
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, nil
	}

	prev := resp.Request
	target, err := resolveTarget(prev.URL, location)
	if err != nil {
		return nil, fmt.Errorf("resolving redirect target %q: %w", location, err)
	}

	next := prev.Clone()
	next.URL = target

	if downgradesToGet(resp.StatusCode, prev.Method) {
		next.Method = "GET"
		next.Body = nil
		next.ContentLength = 0
		next.GetBody = nil
		next.Header.Del("Content-Length")
		next.Header.Del("Content-Type")
		next.Header.Del("Transfer-Encoding")
	} else if prev.Body != nil {
		if prev.GetBody == nil {
			return nil, ErrBodyNotRewindable
		}
		body, err := prev.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding body for redirect: %w", err)
		}
		next.Body = body
	}

	if ShouldStripAuth(prev.URL, target) {
		next.Header.Del("Authorization")
		next.Header.Del("Proxy-Authorization")
	}

	return next, nil
}

// ShouldStripAuth reports whether following a redirect from prev to
// next crosses an authority boundary that credentials must not
// follow. An http to https upgrade on the same host and default ports
// raises trust and keeps credentials; every other change of host,
// port, or scheme strips them.
func ShouldStripAuth(prev, next *url.URL) bool {
	if !strings.EqualFold(prev.Hostname(), next.Hostname()) {
		return true
	}

	prevPort, nextPort := defaultPort(prev), defaultPort(next)
	if strings.EqualFold(prev.Scheme, "http") && strings.EqualFold(next.Scheme, "https") &&
		prevPort == "80" && nextPort == "443" {
		return false
	}

	if !strings.EqualFold(prev.Scheme, next.Scheme) {
		return true
	}
	return prevPort != nextPort
}

// Origin returns the authority that scopes credentials for u:
// scheme://host:port with the port made explicit.
func Origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Hostname()) + ":" + defaultPort(u)
}

func eligible(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

func downgradesToGet(status int, method string) bool {
	switch status {
	case 303:
		return method != "HEAD"
	case 301, 302:
		return method == "POST"
	}
	return false
}

// resolveTarget applies standard relative-reference resolution, then
// forces the result into wire-safe ASCII: UTF-8 path and query bytes
// become percent escapes and the host becomes its IDNA form. A
// Location without a fragment inherits the previous URL's fragment.
func resolveTarget(base *url.URL, location string) (*url.URL, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	target := base.ResolveReference(ref)

	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("target %q has no authority", target)
	}

	if ref.Fragment == "" && base.Fragment != "" {
		target.Fragment = base.Fragment
	}

	if host := target.Hostname(); !isASCII(host) {
		encoded, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("encoding host %q: %w", host, err)
		}
		if port := target.Port(); port != "" {
			target.Host = encoded + ":" + port
		} else {
			target.Host = encoded
		}
	}

	encodePath(target)
	target.RawQuery = escapeNonASCII(target.RawQuery)

	return target, nil
}

// encodePath pins the path's escaped form so each non-ASCII rune is
// transmitted as the percent-encoding of its UTF-8 bytes (U+0161
// becomes %C5%A1). Escapes already present in the Location are kept.
func encodePath(u *url.URL) {
	escaped := escapeNonASCII(u.EscapedPath())
	if unescaped, err := url.PathUnescape(escaped); err == nil {
		u.Path = unescaped
		u.RawPath = escaped
	}
}

// escapeNonASCII replaces every byte >= 0x80 with its %XX form,
// leaving ASCII (including existing escapes) untouched.
func escapeNonASCII(s string) string {
	if isASCII(s) {
		return s
	}
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x80 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0xf])
	}
	return b.String()
}

func defaultPort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	default:
		return "80"
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
