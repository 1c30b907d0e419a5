package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/adamwoolhether/httpwire/chunked"
)

// Request is a single outbound HTTP/1.1 request. A request is treated
// as immutable once dispatched; a redirect or authentication retry
// derives a new Request rather than mutating the old one.
type Request struct {
	Method string
	URL    *url.URL
	Header *Header

	// Body is the request payload. A nil Body means no payload. When
	// ContentLength is negative the body length is unknown and the
	// payload is sent chunked.
	Body          io.Reader
	ContentLength int64

	// GetBody returns a fresh copy of Body, allowing the payload to be
	// re-sent on a 307/308 redirect. Set automatically by SetBody; a
	// streaming body without GetBody cannot be replayed.
	GetBody func() (io.Reader, error)
}

// ErrMissingHost is returned when a request URL has no host component.
var ErrMissingHost = errors.New("request URL has no host")

// NewRequest builds a Request for the given method and URL. Non-ASCII
// hostnames are converted to their IDNA (punycode) form so the wire
// bytes stay ASCII.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing request URL: %w", err)
	}
	if u.Host == "" {
		return nil, ErrMissingHost
	}

	if host := u.Hostname(); !isASCII(host) {
		encoded, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("encoding host %q: %w", host, err)
		}
		if port := u.Port(); port != "" {
			u.Host = encoded + ":" + port
		} else {
			u.Host = encoded
		}
	}

	return &Request{
		Method:        strings.ToUpper(method),
		URL:           u,
		Header:        &Header{},
		ContentLength: 0,
	}, nil
}

// SetBody attaches a fixed byte payload. The payload is replayable
// across redirects.
func (r *Request) SetBody(b []byte) {
	r.Body = bytes.NewReader(b)
	r.ContentLength = int64(len(b))
	r.GetBody = func() (io.Reader, error) {
		return bytes.NewReader(b), nil
	}
}

// SetBodyStream attaches a streaming payload of unknown length. The
// payload is consumed once and sent with chunked transfer encoding.
func (r *Request) SetBodyStream(src io.Reader) {
	r.Body = src
	r.ContentLength = -1
	r.GetBody = nil
}

// BodyBytes returns the fixed payload bytes when the body is
// replayable, or nil for absent and streaming bodies.
func (r *Request) BodyBytes() ([]byte, error) {
	if r.Body == nil || r.GetBody == nil {
		return nil, nil
	}
	src, err := r.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewinding body: %w", err)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("reading body copy: %w", err)
	}
	return b, nil
}

// Clone returns a copy of the request with its own header. The body
// fields are shared; callers re-sending a body must rewind it through
// GetBody first.
func (r *Request) Clone() *Request {
	cp := *r
	cp.Header = r.Header.Clone()
	return &cp
}

// RequestURI returns the origin-form request target (path plus query)
// exactly as it appears on the wire.
func (r *Request) RequestURI() string {
	target := r.URL.RequestURI()
	if target == "" {
		target = "/"
	}
	return target
}

// Write serializes the request head and body in wire format: the
// request line, the Host field, the header fields, a blank line, then
// the payload framed by Content-Length or chunked transfer encoding.
func (r *Request) Write(w io.Writer) error {
	target := r.RequestURI()
	if !isASCII(target) {
		return fmt.Errorf("request target %q contains non-ASCII bytes", target)
	}

	if _, err := io.WriteString(w, r.Method+" "+target+" HTTP/1.1\r\n"); err != nil {
		return fmt.Errorf("writing request line: %w", err)
	}
	if _, err := io.WriteString(w, "Host: "+r.URL.Host+"\r\n"); err != nil {
		return fmt.Errorf("writing host field: %w", err)
	}

	// Framing fields are stamped on the request itself at dispatch so
	// the recorded request reflects what went on the wire.
	hdr := r.Header
	hdr.Del("Host")
	switch {
	case r.Body == nil:
		hdr.Del("Transfer-Encoding")
		if r.Method == "POST" || r.Method == "PUT" || r.Method == "PATCH" {
			hdr.Set("Content-Length", "0")
		} else {
			hdr.Del("Content-Length")
		}
	case r.ContentLength >= 0:
		hdr.Del("Transfer-Encoding")
		hdr.Set("Content-Length", strconv.FormatInt(r.ContentLength, 10))
	default:
		// Unknown length: chunked framing, and Content-Length must
		// not appear alongside it.
		hdr.Del("Content-Length")
		hdr.Set("Transfer-Encoding", "chunked")
	}

	if err := hdr.Write(w); err != nil {
		return fmt.Errorf("writing header fields: %w", err)
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}

	switch {
	case r.Body == nil:
		return nil
	case r.ContentLength >= 0:
		n, err := io.Copy(w, r.Body)
		if err != nil {
			return fmt.Errorf("writing body: %w", err)
		}
		if n != r.ContentLength {
			return fmt.Errorf("body produced %d bytes, Content-Length is %d", n, r.ContentLength)
		}
		return nil
	default:
		if err := chunked.Encode(w, r.Body); err != nil {
			return fmt.Errorf("writing chunked body: %w", err)
		}
		return nil
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
