// Package chunked implements the wire format of HTTP/1.1 chunked
// transfer encoding: an encoder for request bodies of unknown length
// and a strict reader for chunked response bodies.
package chunked

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// encodeBufSize is the read size per source pull while encoding.
	encodeBufSize = 8 << 10

	// maxChunkLine bounds a chunk-size line, including extensions.
	maxChunkLine = 4096
)

var (
	// ErrMalformed reports chunk framing that violates the grammar:
	// a bad size line, a missing CRLF, or a stream that ends inside
	// a chunk.
	ErrMalformed = errors.New("malformed chunked encoding")

	crlf       = []byte("\r\n")
	terminator = []byte("0\r\n\r\n")
)

// Encode consumes src a single pass and writes it to w as chunked
// wire fragments: hex length, CRLF, data, CRLF per non-empty read,
// then the 0-length terminator once src reports EOF.
//
// If src fails mid-stream the error is returned without writing the
// terminator, so the peer sees a truncated body and the connection
// must be closed rather than reused.
func Encode(w io.Writer, src io.Reader) error {
	buf := make([]byte, encodeBufSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := writeChunk(w, buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading body source: %w", err)
		}
	}

	if _, err := w.Write(terminator); err != nil {
		return fmt.Errorf("writing chunk terminator: %w", err)
	}
	return nil
}

func writeChunk(w io.Writer, p []byte) error {
	if _, err := io.WriteString(w, strconv.FormatInt(int64(len(p)), 16)); err != nil {
		return fmt.Errorf("writing chunk size: %w", err)
	}
	if _, err := w.Write(crlf); err != nil {
		return err
	}
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("writing chunk data: %w", err)
	}
	if _, err := w.Write(crlf); err != nil {
		return err
	}
	return nil
}

// Reader decodes a chunked body from an underlying reader, returning
// io.EOF after the 0-length terminator chunk. Any framing violation
// surfaces as an error wrapping ErrMalformed and sticks.
type Reader struct {
	r         *bufio.Reader
	remaining uint64
	consumed  int64
	err       error
	done      bool
	buf       [2]byte
}

// NewReader wraps r in a chunk-decoding Reader.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{r: br}
}

// Consumed returns the number of payload bytes decoded so far,
// excluding chunk framing.
func (cr *Reader) Consumed() int64 { return cr.consumed }

func (cr *Reader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}
	if cr.done {
		return 0, io.EOF
	}

	if cr.remaining == 0 {
		if err := cr.beginChunk(); err != nil {
			cr.err = err
			return 0, err
		}
		if cr.done {
			return 0, io.EOF
		}
	}

	if uint64(len(p)) > cr.remaining {
		p = p[:cr.remaining]
	}
	n, err := cr.r.Read(p)
	cr.remaining -= uint64(n)
	cr.consumed += int64(n)
	if err != nil {
		if err == io.EOF {
			err = fmt.Errorf("%w: stream ended inside a chunk", ErrMalformed)
		}
		cr.err = err
		return n, err
	}

	if cr.remaining == 0 {
		if err := cr.readCRLF(); err != nil {
			cr.err = err
			return n, err
		}
	}
	return n, nil
}

// beginChunk parses the next chunk-size line. A 0-length chunk ends
// the body after its closing CRLF.
func (cr *Reader) beginChunk() error {
	line, err := cr.readSizeLine()
	if err != nil {
		return err
	}

	// Chunk extensions are dropped without interpretation.
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSpace(line)

	size, err := parseHex(line)
	if err != nil {
		return err
	}

	if size == 0 {
		// Terminator. Trailer fields are not supported; the body
		// must end with the empty trailer line.
		if err := cr.readCRLF(); err != nil {
			return err
		}
		cr.done = true
		return nil
	}

	cr.remaining = size
	return nil
}

func (cr *Reader) readSizeLine() ([]byte, error) {
	line, err := cr.r.ReadSlice('\n')
	if err != nil {
		if err == io.EOF || err == bufio.ErrBufferFull {
			return nil, fmt.Errorf("%w: unterminated chunk size line", ErrMalformed)
		}
		return nil, err
	}
	if len(line) > maxChunkLine {
		return nil, fmt.Errorf("%w: chunk size line too long", ErrMalformed)
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, fmt.Errorf("%w: chunk size line missing CRLF", ErrMalformed)
	}
	return line[:len(line)-2], nil
}

func (cr *Reader) readCRLF() error {
	if _, err := io.ReadFull(cr.r, cr.buf[:]); err != nil {
		return fmt.Errorf("%w: missing chunk terminator", ErrMalformed)
	}
	if cr.buf[0] != '\r' || cr.buf[1] != '\n' {
		return fmt.Errorf("%w: chunk data not followed by CRLF", ErrMalformed)
	}
	return nil
}

func parseHex(line []byte) (uint64, error) {
	if len(line) == 0 {
		return 0, fmt.Errorf("%w: empty chunk size", ErrMalformed)
	}
	var n uint64
	for _, b := range line {
		var d uint64
		switch {
		case b >= '0' && b <= '9':
			d = uint64(b - '0')
		case b >= 'a' && b <= 'f':
			d = uint64(b-'a') + 10
		case b >= 'A' && b <= 'F':
			d = uint64(b-'A') + 10
		default:
			return 0, fmt.Errorf("%w: chunk size %q", ErrMalformed, line)
		}
		if n > (1<<60)/16 {
			return 0, fmt.Errorf("%w: chunk size overflow", ErrMalformed)
		}
		n = n<<4 | d
	}
	return n, nil
}
