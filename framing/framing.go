// Package framing gates response bodies against their declared
// framing, so a transport stream that closes early is reported as a
// connection error instead of passing as a short body.
package framing

import (
	"errors"
	"fmt"
	"io"

	"github.com/adamwoolhether/httpwire/chunked"
)

// ErrConnection is the sentinel wrapped by every ConnectionError.
var ErrConnection = errors.New("connection error")

// ConnectionError reports a body that ended before its declared
// framing was satisfied. The connection that produced it must be
// closed, never reused.
type ConnectionError struct {
	// BytesRead is the number of payload bytes actually delivered.
	BytesRead int64
	// BytesExpected is the number of payload bytes still owed when
	// the stream ended. Zero when the shortfall cannot be counted,
	// e.g. inside chunked framing.
	BytesExpected int64
	// Err carries the underlying framing violation, if any.
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error: %v", e.Err)
	}
	return fmt.Sprintf("connection error: %d bytes read, %d more expected", e.BytesRead, e.BytesExpected)
}

func (e *ConnectionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConnection
}

// Is lets errors.Is match both the sentinel and any wrapped cause.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// NewBody wraps a transport stream in a reader enforcing the response
// body framing:
//
//   - isChunked: each chunk's hex length governs that chunk and a
//     malformed or truncated chunk is a ConnectionError;
//   - contentLength >= 0: exactly that many bytes are yielded, and a
//     premature EOF is a ConnectionError stating bytes read and bytes
//     still expected;
//   - contentLength < 0: the body runs until EOF with no length check
//     (framed by connection close).
func NewBody(r io.Reader, contentLength int64, isChunked bool) io.Reader {
	if isChunked {
		return &chunkedBody{r: chunked.NewReader(r)}
	}
	if contentLength >= 0 {
		return &lengthBody{r: r, expected: contentLength}
	}
	return r
}

// ReadAll drains body completely, surfacing any framing violation.
func ReadAll(body io.Reader) ([]byte, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// lengthBody yields exactly expected bytes, then EOF. An early EOF
// from the transport becomes a ConnectionError with literal counts.
type lengthBody struct {
	r        io.Reader
	expected int64
	read     int64
}

func (b *lengthBody) Read(p []byte) (int, error) {
	remaining := b.expected - b.read
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := b.r.Read(p)
	b.read += int64(n)
	switch {
	case err == io.EOF && b.read < b.expected:
		return n, &ConnectionError{BytesRead: b.read, BytesExpected: b.expected - b.read}
	case err == io.EOF:
		return n, io.EOF
	case err != nil:
		return n, &ConnectionError{BytesRead: b.read, Err: err}
	}
	return n, nil
}

// chunkedBody converts chunk framing violations into ConnectionErrors
// while passing payload bytes through.
type chunkedBody struct {
	r *chunked.Reader
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		return n, &ConnectionError{BytesRead: b.r.Consumed(), Err: err}
	}
	return n, err
}
