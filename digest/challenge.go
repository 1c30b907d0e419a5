package digest

import (
	"errors"
	"fmt"
	"strings"
)

// Challenge is one parsed WWW-Authenticate (or Proxy-Authenticate)
// Digest challenge. A challenge is parsed fresh from each header value
// and never reused across distinct values.
type Challenge struct {
	Realm     string
	Nonce     string
	Opaque    string   // optional
	Algorithm string   // optional; empty means the MD5 default applies
	Qop       []string // optional; e.g. ["auth", "auth-int"]
	Stale     bool
}

// ErrNotDigest reports a challenge that does not carry the Digest
// scheme, or one too mangled to parse. Callers treat it as "no
// challenge understood" and proceed without authentication.
var ErrNotDigest = errors.New("not a digest challenge")

// ParseChallenge parses the value of a WWW-Authenticate header. The
// value must open with the Digest scheme followed by comma-separated
// auth-params; quoted values may contain commas.
func ParseChallenge(value string) (*Challenge, error) {
	scheme, params, _ := cutToken(strings.TrimSpace(value))
	if !strings.EqualFold(scheme, "Digest") {
		return nil, fmt.Errorf("%w: scheme %q", ErrNotDigest, scheme)
	}

	chal := &Challenge{}
	seen := false
	for params != "" {
		var key, val string
		var err error
		key, val, params, err = nextParam(params)
		if err != nil {
			return nil, err
		}
		seen = true

		switch strings.ToLower(key) {
		case "realm":
			chal.Realm = val
		case "nonce":
			chal.Nonce = val
		case "opaque":
			chal.Opaque = val
		case "algorithm":
			chal.Algorithm = val
		case "qop":
			for _, q := range strings.Split(val, ",") {
				if q = strings.TrimSpace(q); q != "" {
					chal.Qop = append(chal.Qop, q)
				}
			}
		case "stale":
			chal.Stale = strings.EqualFold(val, "true")
		}
	}

	if !seen || chal.Nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", ErrNotDigest)
	}
	return chal, nil
}

// cutToken splits the leading token from its remainder at the first
// run of whitespace.
func cutToken(s string) (token, rest string, found bool) {
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, "", false
	}
	return s[:i], strings.TrimLeft(s[i:], " \t"), true
}

// nextParam consumes one key=value auth-param and any trailing comma.
func nextParam(s string) (key, value, rest string, err error) {
	s = strings.TrimLeft(s, " \t,")
	eq := strings.IndexByte(s, '=')
	if eq <= 0 {
		return "", "", "", fmt.Errorf("%w: auth-param %q", ErrNotDigest, s)
	}
	key = strings.TrimSpace(s[:eq])
	s = s[eq+1:]

	if strings.HasPrefix(s, `"`) {
		// Quoted string: runs to the closing quote, commas included.
		end := strings.IndexByte(s[1:], '"')
		if end < 0 {
			return "", "", "", fmt.Errorf("%w: unterminated quoted value for %q", ErrNotDigest, key)
		}
		return key, s[1 : end+1], s[end+2:], nil
	}

	if i := strings.IndexByte(s, ','); i >= 0 {
		return key, strings.TrimSpace(s[:i]), s[i+1:], nil
	}
	return key, strings.TrimSpace(s), "", nil
}
