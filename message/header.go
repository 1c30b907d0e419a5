// Package message holds the wire-level request and response model:
// an insertion-ordered header multimap, request serialization, and
// response head parsing.
package message

import (
	"fmt"
	"io"
	"net/textproto"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Header is a case-insensitive multimap that preserves insertion order.
// Lookups use canonical MIME form, so Get("content-length") and
// Get("Content-Length") address the same field.
type Header struct {
	fields []field
}

type field struct {
	key   string // canonical form
	value string
}

// Add appends a value for key, keeping any existing values.
func (h *Header) Add(key, value string) {
	h.fields = append(h.fields, field{key: canonical(key), value: value})
}

// Set replaces all existing values for key with value. The field keeps
// the position of its first occurrence.
func (h *Header) Set(key, value string) {
	key = canonical(key)
	out := h.fields[:0]
	replaced := false
	for _, f := range h.fields {
		if f.key == key {
			if replaced {
				continue
			}
			f.value = value
			replaced = true
		}
		out = append(out, f)
	}
	h.fields = out
	if !replaced {
		h.fields = append(h.fields, field{key: key, value: value})
	}
}

// Get returns the first value for key, or "" if absent.
func (h *Header) Get(key string) string {
	key = canonical(key)
	for _, f := range h.fields {
		if f.key == key {
			return f.value
		}
	}
	return ""
}

// Values returns all values for key in insertion order.
func (h *Header) Values(key string) []string {
	key = canonical(key)
	var vals []string
	for _, f := range h.fields {
		if f.key == key {
			vals = append(vals, f.value)
		}
	}
	return vals
}

// Has reports whether at least one value exists for key.
func (h *Header) Has(key string) bool {
	key = canonical(key)
	for _, f := range h.fields {
		if f.key == key {
			return true
		}
	}
	return false
}

// Del removes all values for key.
func (h *Header) Del(key string) {
	key = canonical(key)
	out := h.fields[:0]
	for _, f := range h.fields {
		if f.key != key {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Keys returns the distinct field names in first-insertion order.
func (h *Header) Keys() []string {
	seen := make(map[string]bool, len(h.fields))
	var keys []string
	for _, f := range h.fields {
		if !seen[f.key] {
			seen[f.key] = true
			keys = append(keys, f.key)
		}
	}
	return keys
}

// Len returns the number of field lines.
func (h *Header) Len() int {
	return len(h.fields)
}

// Clone returns an independent copy of the header.
func (h *Header) Clone() *Header {
	cp := &Header{fields: make([]field, len(h.fields))}
	copy(cp.fields, h.fields)
	return cp
}

// Write serializes each field line as "Name: value\r\n" in insertion
// order. Field names and values are checked against the token and
// field-content grammars; a bad field aborts the write.
func (h *Header) Write(w io.Writer) error {
	for _, f := range h.fields {
		if !httpguts.ValidHeaderFieldName(f.key) {
			return fmt.Errorf("invalid header field name %q", f.key)
		}
		if !httpguts.ValidHeaderFieldValue(f.value) {
			return fmt.Errorf("invalid value for header field %q", f.key)
		}
		if _, err := io.WriteString(w, f.key+": "+f.value+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

func canonical(key string) string {
	return textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key))
}
