// Package digest implements HTTP Digest authentication as a
// challenge/response state machine with one-shot replay protection:
// a given server nonce is answered at most once, and challenges are
// honored only on 401 and 407 responses.
package digest

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Credential is one username/password pair. Algorithm optionally
// forces a hash when the challenge leaves it unspecified.
type Credential struct {
	Username  string `validate:"required"`
	Password  string
	Algorithm string `validate:"omitempty,oneof=MD5 MD5-sess SHA-256 SHA-256-sess"`
}

// Handler answers Digest challenges for a single credential. State is
// kept per origin, so an answer at one authority never leaks to
// another, and access is serialized so concurrent exchanges sharing
// the credential observe a monotonic nc.
type Handler struct {
	cred Credential

	mu     sync.Mutex
	states map[string]*state
}

// state tracks the machine for one (credential, origin) pair:
// the challenge last answered, whether its nonce has been answered,
// and the request counter.
type state struct {
	chal     *Challenge
	answered bool
	nc       uint32
}

// newCnonce produces a fresh client nonce. Overridable in tests for
// deterministic headers.
var newCnonce = func() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewHandler returns a Handler answering challenges with cred.
func NewHandler(cred Credential) *Handler {
	return &Handler{
		cred:   cred,
		states: make(map[string]*state),
	}
}

// Answer implements the challenge transition. Given the status code of
// a completed response, the challenge header value it carried, and the
// method/request-target/origin of the retry, it returns the
// Authorization header value and true when a retry should be sent.
//
// It returns false when the status is not 401 or 407 (challenges on
// 2xx or 3xx are ignored), when the challenge is malformed, and when
// the challenge repeats a nonce this handler already answered: a
// repeated nonce means the server rejected the credentials, and
// answering again would loop or feed a hostile challenge.
func (h *Handler) Answer(statusCode int, challenge, method, requestURI, origin string, body []byte) (string, bool) {
	if statusCode != 401 && statusCode != 407 {
		return "", false
	}

	chal, err := ParseChallenge(challenge)
	if err != nil {
		return "", false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.states[origin]
	if st != nil && st.answered && st.chal.Nonce == chal.Nonce {
		return "", false
	}

	// A new nonce replaces whatever state the origin held.
	st = &state{chal: chal}
	h.states[origin] = st

	authz, err := h.build(st, method, requestURI, body)
	if err != nil {
		return "", false
	}
	st.answered = true
	return authz, true
}

// Reset returns the machine for origin to the idle state. The executor
// calls it when a redirect crosses an authority boundary, because
// credentials and answered-nonce memory are origin-scoped.
func (h *Handler) Reset(origin string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.states, origin)
}

// build computes the Authorization header value for the held
// credential against st.chal. Caller holds h.mu.
func (h *Handler) build(st *state, method, requestURI string, body []byte) (string, error) {
	chal := st.chal

	algorithm := chal.Algorithm
	if algorithm == "" {
		algorithm = h.cred.Algorithm
	}
	if algorithm == "" {
		algorithm = "MD5"
	}

	var newHash func() hash.Hash
	switch strings.ToUpper(strings.TrimSuffix(algorithm, "-sess")) {
	case "MD5", "MD5-SESS":
		newHash = md5.New
	case "SHA-256", "SHA-256-SESS":
		newHash = sha256.New
	default:
		return "", fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}
	sess := strings.HasSuffix(strings.ToLower(algorithm), "-sess")

	digest := func(parts ...string) string {
		hs := newHash()
		hs.Write([]byte(strings.Join(parts, ":")))
		return hex.EncodeToString(hs.Sum(nil))
	}

	qop := pickQop(chal.Qop)
	cnonce := ""
	if qop != "" || sess {
		cnonce = newCnonce()
	}

	ha1 := digest(h.cred.Username, chal.Realm, h.cred.Password)
	if sess {
		ha1 = digest(ha1, chal.Nonce, cnonce)
	}

	var ha2 string
	switch qop {
	case "auth-int":
		ha2 = digest(method, requestURI, digest(string(body)))
	default:
		ha2 = digest(method, requestURI)
	}

	var response, nc string
	if qop != "" {
		st.nc++
		nc = fmt.Sprintf("%08x", st.nc)
		response = digest(ha1, chal.Nonce, nc, cnonce, qop, ha2)
	} else {
		response = digest(ha1, chal.Nonce, ha2)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username=%q, realm=%q, nonce=%q, uri=%q, response=%q`,
		h.cred.Username, chal.Realm, chal.Nonce, requestURI, response)
	if chal.Opaque != "" {
		fmt.Fprintf(&b, `, opaque=%q`, chal.Opaque)
	}
	if chal.Algorithm != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, algorithm)
	}
	if qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce=%q`, qop, nc, cnonce)
	} else if sess {
		fmt.Fprintf(&b, `, cnonce=%q`, cnonce)
	}
	return b.String(), nil
}

// pickQop chooses the response-hash variant: plain auth when offered,
// auth-int otherwise, empty for legacy challenges without qop.
func pickQop(offered []string) string {
	var authInt bool
	for _, q := range offered {
		switch strings.ToLower(q) {
		case "auth":
			return "auth"
		case "auth-int":
			authInt = true
		}
	}
	if authInt {
		return "auth-int"
	}
	return ""
}
