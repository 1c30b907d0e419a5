package message_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/httpwire/message"
)

func TestHeader_CaseInsensitiveLookup(t *testing.T) {
	h := &message.Header{}
	h.Add("content-type", "text/plain")

	if got := h.Get("Content-Type"); got != "text/plain" {
		t.Errorf("Get(Content-Type) = %q, want %q", got, "text/plain")
	}
	if got := h.Get("CONTENT-TYPE"); got != "text/plain" {
		t.Errorf("Get(CONTENT-TYPE) = %q, want %q", got, "text/plain")
	}
	if h.Has("Content-Length") {
		t.Error("Has(Content-Length) = true, want false")
	}
}

func TestHeader_PreservesInsertionOrder(t *testing.T) {
	h := &message.Header{}
	h.Add("B-Field", "1")
	h.Add("A-Field", "2")
	h.Add("B-Field", "3")
	h.Add("C-Field", "4")

	want := []string{"B-Field", "A-Field", "C-Field"}
	if diff := cmp.Diff(want, h.Keys()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}

	var b strings.Builder
	if err := h.Write(&b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	wantWire := "B-Field: 1\r\nA-Field: 2\r\nB-Field: 3\r\nC-Field: 4\r\n"
	if b.String() != wantWire {
		t.Errorf("wire form = %q, want %q", b.String(), wantWire)
	}
}

func TestHeader_SetReplacesAllValues(t *testing.T) {
	h := &message.Header{}
	h.Add("Accept", "text/html")
	h.Add("Cache-Control", "no-cache")
	h.Add("accept", "application/json")

	h.Set("Accept", "*/*")

	if diff := cmp.Diff([]string{"*/*"}, h.Values("Accept")); diff != "" {
		t.Errorf("Values(Accept) mismatch (-want +got):\n%s", diff)
	}
	// The field keeps its original position.
	if diff := cmp.Diff([]string{"Accept", "Cache-Control"}, h.Keys()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func TestHeader_Del(t *testing.T) {
	h := &message.Header{}
	h.Add("Authorization", "Digest abc")
	h.Add("Accept", "*/*")

	h.Del("authorization")

	if h.Has("Authorization") {
		t.Error("Authorization still present after Del")
	}
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
}

func TestHeader_CloneIsIndependent(t *testing.T) {
	h := &message.Header{}
	h.Add("Accept", "*/*")

	cp := h.Clone()
	cp.Set("Accept", "text/html")
	cp.Add("Range", "bytes=0-1")

	if got := h.Get("Accept"); got != "*/*" {
		t.Errorf("original mutated through clone: Accept = %q", got)
	}
	if h.Has("Range") {
		t.Error("original gained field added to clone")
	}
}

func TestHeader_WriteRejectsInvalidFields(t *testing.T) {
	h := &message.Header{}
	h.Add("X-Bad", "line\r\nInjected: yes")

	var b strings.Builder
	if err := h.Write(&b); err == nil {
		t.Fatal("Write accepted a field value with CRLF")
	}
}
