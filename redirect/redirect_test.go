package redirect_test

import (
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/adamwoolhether/httpwire/message"
	"github.com/adamwoolhether/httpwire/redirect"
)

func newResponse(t *testing.T, method, reqURL string, status int, location string) *message.Response {
	t.Helper()
	req, err := message.NewRequest(method, reqURL)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp := &message.Response{
		StatusCode: status,
		Header:     &message.Header{},
		Request:    req,
	}
	if location != "" {
		resp.Header.Set("Location", location)
	}
	return resp
}

func TestResolve_Terminal(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		location string
	}{
		{"success", 200, ""},
		{"redirect without location", 302, ""},
		{"not modified", 304, "/elsewhere"},
		{"client error", 404, "/elsewhere"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := newResponse(t, "GET", "http://example.com/a", tt.status, tt.location)
			next, err := redirect.Resolve(resp)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if next != nil {
				t.Errorf("Resolve produced a request for a terminal response: %v", next.URL)
			}
		})
	}
}

func TestResolve_MethodMatrix(t *testing.T) {
	tests := []struct {
		status     int
		method     string
		wantMethod string
	}{
		{301, "GET", "GET"},
		{301, "POST", "GET"},
		{301, "PUT", "PUT"},
		{302, "POST", "GET"},
		{302, "DELETE", "DELETE"},
		{303, "POST", "GET"},
		{303, "PUT", "GET"},
		{303, "HEAD", "HEAD"},
		{307, "POST", "POST"},
		{308, "POST", "POST"},
	}

	for _, tt := range tests {
		t.Run(tt.method+"-"+strconv.Itoa(tt.status), func(t *testing.T) {
			resp := newResponse(t, tt.method, "http://example.com/a", tt.status, "/b")
			if tt.method == "POST" || tt.method == "PUT" {
				resp.Request.SetBody([]byte("data"))
				resp.Request.Header.Set("Content-Type", "text/plain")
			}

			next, err := redirect.Resolve(resp)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if next == nil {
				t.Fatal("Resolve returned terminal for a redirect")
			}
			if next.Method != tt.wantMethod {
				t.Errorf("method = %q, want %q", next.Method, tt.wantMethod)
			}

			downgraded := tt.wantMethod == "GET" && tt.method != "GET"
			if downgraded {
				if next.Body != nil || next.Header.Has("Content-Type") || next.Header.Has("Content-Length") {
					t.Error("downgraded request still carries body fields")
				}
			}
		})
	}
}

func TestResolve_PreservesBodyOn307(t *testing.T) {
	resp := newResponse(t, "POST", "http://example.com/a", 307, "/b")
	resp.Request.SetBody([]byte("payload"))
	// Simulate the first dispatch consuming the body.
	_, _ = io.ReadAll(resp.Request.Body)

	next, err := redirect.Resolve(resp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := io.ReadAll(next.Body)
	if err != nil {
		t.Fatalf("reading rewound body: %v", err)
	}
	if string(b) != "payload" {
		t.Errorf("rewound body = %q, want payload", b)
	}
}

func TestResolve_StreamedBodyNotRewindable(t *testing.T) {
	resp := newResponse(t, "POST", "http://example.com/a", 307, "/b")
	resp.Request.SetBodyStream(strings.NewReader("one-pass"))

	if _, err := redirect.Resolve(resp); !errors.Is(err, redirect.ErrBodyNotRewindable) {
		t.Fatalf("err = %v, want ErrBodyNotRewindable", err)
	}
}

func TestResolve_RelativeReference(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		location string
		want     string
	}{
		{"absolute path", "http://example.com/a/b?q=1", "/c", "http://example.com/c"},
		{"relative path", "http://example.com/a/b", "c", "http://example.com/a/c"},
		{"protocol relative", "http://example.com/a", "//other.example/x", "http://other.example/x"},
		{"absolute url", "http://example.com/a", "https://other.example/y", "https://other.example/y"},
		{"query replaced", "http://example.com/a?q=1", "/b?r=2", "http://example.com/b?r=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := newResponse(t, "GET", tt.base, 302, tt.location)
			next, err := redirect.Resolve(resp)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got := next.URL.String(); got != tt.want {
				t.Errorf("target = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolve_PercentEncodesNonASCIIPath(t *testing.T) {
	resp := newResponse(t, "GET", "http://example.com:8080", 301, "//example.com:8080/š")

	next, err := redirect.Resolve(resp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := next.RequestURI(); got != "/%C5%A1" {
		t.Errorf("request target = %q, want /%%C5%%A1", got)
	}
	if got := next.URL.String(); got != "http://example.com:8080/%C5%A1" {
		t.Errorf("URL = %q, want the percent-encoded form", got)
	}
}

func TestResolve_KeepsExistingEscapes(t *testing.T) {
	resp := newResponse(t, "GET", "http://example.com/", 302, "/already%20escaped")

	next, err := redirect.Resolve(resp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := next.RequestURI(); got != "/already%20escaped" {
		t.Errorf("request target = %q, want /already%%20escaped", got)
	}
}

func TestResolve_InheritsFragment(t *testing.T) {
	resp := newResponse(t, "GET", "http://example.com/a#frag", 302, "/b")
	next, err := redirect.Resolve(resp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if next.URL.Fragment != "frag" {
		t.Errorf("fragment = %q, want frag", next.URL.Fragment)
	}

	resp = newResponse(t, "GET", "http://example.com/a#frag", 302, "/b#other")
	next, err = redirect.Resolve(resp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if next.URL.Fragment != "other" {
		t.Errorf("fragment = %q, want other", next.URL.Fragment)
	}
}

func TestResolve_IDNAHost(t *testing.T) {
	resp := newResponse(t, "GET", "http://example.com/", 302, "http://bücher.example/x")

	next, err := redirect.Resolve(resp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := next.URL.Host; got != "xn--bcher-kva.example" {
		t.Errorf("host = %q, want punycode form", got)
	}
}

func TestResolve_StripsAuthAcrossAuthority(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		location  string
		wantStrip bool
	}{
		{"same host and port", "http://example.com/a", "/b", false},
		{"different host", "http://example.com/a", "http://other.example/b", true},
		{"https upgrade same host", "http://example.com/a", "https://example.com/b", false},
		{"https downgrade", "https://example.com/a", "http://example.com/b", true},
		{"different port", "http://example.com/a", "http://example.com:8080/b", true},
		{"upgrade with odd port", "http://example.com/a", "https://example.com:8443/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := newResponse(t, "GET", tt.base, 302, tt.location)
			resp.Request.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			resp.Request.Header.Set("Proxy-Authorization", "Basic cHJveHk=")

			next, err := redirect.Resolve(resp)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got := next.Header.Has("Authorization"); got == tt.wantStrip {
				t.Errorf("Authorization present = %t, want stripped = %t", got, tt.wantStrip)
			}
			if got := next.Header.Has("Proxy-Authorization"); got == tt.wantStrip {
				t.Errorf("Proxy-Authorization present = %t, want stripped = %t", got, tt.wantStrip)
			}
		})
	}
}

func TestShouldStripAuth(t *testing.T) {
	parse := func(s string) *url.URL {
		u, err := url.Parse(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		return u
	}

	if redirect.ShouldStripAuth(parse("http://h/a"), parse("http://H:80/b")) {
		t.Error("case-insensitive same authority treated as a crossing")
	}
	if !redirect.ShouldStripAuth(parse("http://h/a"), parse("ftp://h/b")) {
		t.Error("scheme change kept credentials")
	}
}

func TestOrigin(t *testing.T) {
	u, _ := url.Parse("HTTP://Example.COM/x")
	if got, want := redirect.Origin(u), "http://example.com:80"; got != want {
		t.Errorf("Origin = %q, want %q", got, want)
	}
	u, _ = url.Parse("https://example.com:8443/x")
	if got, want := redirect.Origin(u), "https://example.com:8443"; got != want {
		t.Errorf("Origin = %q, want %q", got, want)
	}
}
