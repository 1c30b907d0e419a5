package message

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Response is a completed HTTP/1.1 response. Body holds the payload
// after it has been read through the framing gate, so a Response never
// carries a silently truncated body.
type Response struct {
	StatusCode int
	Status     string // e.g. "200 OK"
	Proto      string // e.g. "HTTP/1.1"
	Header     *Header
	Body       []byte

	// Request is the request that produced this response, including
	// any headers stamped at dispatch.
	Request *Request

	// Prev is the response that preceded this one in a redirect or
	// authentication chain, most recent first. Nil for the first hop.
	Prev *Response

	// History holds the intermediate responses of the exchange, oldest
	// first. Populated only on the terminal response.
	History []*Response
}

var errMalformedHead = errors.New("malformed response head")

// ReadResponse parses a response status line and header fields from r.
// The body is left unread; callers frame it according to BodyLength.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("reading status line: %w", err)
	}

	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return nil, fmt.Errorf("%w: status line %q", errMalformedHead, line)
	}
	codeStr, _, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 599 {
		return nil, fmt.Errorf("%w: status code %q", errMalformedHead, codeStr)
	}

	resp := &Response{
		StatusCode: code,
		Status:     rest,
		Proto:      proto,
		Header:     &Header{},
	}

	for {
		line, err := readLine(r)
		if err != nil {
			return nil, fmt.Errorf("reading header field: %w", err)
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("%w: header field %q", errMalformedHead, line)
		}
		resp.Header.Add(name, strings.TrimSpace(value))
	}

	return resp, nil
}

// Chunked reports whether the response body uses chunked transfer
// encoding.
func (r *Response) Chunked() bool {
	for _, v := range r.Header.Values("Transfer-Encoding") {
		for _, enc := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "chunked") {
				return true
			}
		}
	}
	return false
}

// BodyLength reports how the response body is framed for a response to
// reqMethod: (0, false) for bodiless responses, (-1, false) when the
// body runs to connection close, (n, false) for a declared
// Content-Length, and (-1, true) for chunked.
func (r *Response) BodyLength(reqMethod string) (length int64, chunked bool, err error) {
	switch {
	case reqMethod == "HEAD",
		r.StatusCode >= 100 && r.StatusCode < 200,
		r.StatusCode == 204,
		r.StatusCode == 304:
		return 0, false, nil
	}

	if r.Chunked() {
		return -1, true, nil
	}

	if cl := r.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return 0, false, fmt.Errorf("%w: Content-Length %q", errMalformedHead, cl)
		}
		return n, false, nil
	}

	// No declared framing: the body is delimited by connection close.
	return -1, false, nil
}

// readLine reads one CRLF-terminated line, tolerating a bare LF, and
// returns it without the terminator.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}
