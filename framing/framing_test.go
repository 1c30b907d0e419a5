package framing_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/adamwoolhether/httpwire/framing"
)

func TestBody_TruncatedContentLength(t *testing.T) {
	// Declared 50, transport delivers 12 before closing.
	body := framing.NewBody(strings.NewReader("Hello World."), 50, false)

	_, err := framing.ReadAll(body)
	if err == nil {
		t.Fatal("truncated body read succeeded")
	}
	if !strings.Contains(err.Error(), "12 bytes read, 38 more expected") {
		t.Errorf("error %q does not state the byte counts", err)
	}
	if !errors.Is(err, framing.ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}

	var connErr *framing.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err type = %T, want *framing.ConnectionError", err)
	}
	if connErr.BytesRead != 12 || connErr.BytesExpected != 38 {
		t.Errorf("counts = (%d, %d), want (12, 38)", connErr.BytesRead, connErr.BytesExpected)
	}
}

func TestBody_ExactContentLength(t *testing.T) {
	body := framing.NewBody(strings.NewReader("Hello World."), 12, false)

	b, err := framing.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(b) != "Hello World." {
		t.Errorf("payload = %q", b)
	}
}

func TestBody_ContentLengthStopsAtDeclaredCount(t *testing.T) {
	// Extra bytes past the declared length stay in the stream,
	// they are not part of this body.
	src := strings.NewReader("12345extra")
	body := framing.NewBody(src, 5, false)

	b, err := framing.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(b) != "12345" {
		t.Errorf("payload = %q, want 12345", b)
	}

	rest, _ := io.ReadAll(src)
	if string(rest) != "extra" {
		t.Errorf("unread remainder = %q, want %q", rest, "extra")
	}
}

func TestBody_ZeroLength(t *testing.T) {
	body := framing.NewBody(strings.NewReader(""), 0, false)
	b, err := framing.ReadAll(body)
	if err != nil || len(b) != 0 {
		t.Fatalf("ReadAll = (%q, %v), want empty success", b, err)
	}
}

func TestBody_NoDeclaredLengthReadsToClose(t *testing.T) {
	body := framing.NewBody(strings.NewReader("framed by close"), -1, false)
	b, err := framing.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(b) != "framed by close" {
		t.Errorf("payload = %q", b)
	}
}

func TestBody_Chunked(t *testing.T) {
	wire := "3\r\nabc\r\n3\r\ndef\r\n0\r\n\r\n"
	body := framing.NewBody(strings.NewReader(wire), -1, true)

	b, err := framing.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(b) != "abcdef" {
		t.Errorf("payload = %q, want abcdef", b)
	}
}

func TestBody_ChunkedViolations(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"undersized final chunk", "5\r\nab"},
		{"malformed terminator", "3\r\nabcXY0\r\n\r\n"},
		{"missing terminator", "3\r\nabc\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := framing.NewBody(strings.NewReader(tt.wire), -1, true)
			_, err := framing.ReadAll(body)
			if !errors.Is(err, framing.ErrConnection) {
				t.Fatalf("err = %v, want ErrConnection", err)
			}
		})
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestBody_TransportFailureWrapped(t *testing.T) {
	boom := errors.New("reset by peer")
	body := framing.NewBody(failingReader{err: boom}, 10, false)

	_, err := framing.ReadAll(body)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if !errors.Is(err, framing.ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
}
