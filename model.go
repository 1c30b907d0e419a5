package httpwire

import (
	"errors"
	"fmt"

	"github.com/adamwoolhether/httpwire/message"
)

// defaultRedirectLimit bounds the exchange loop. Counts every hop,
// redirects and authentication retries alike.
const defaultRedirectLimit = 30

var (
	// ErrTooManyRedirects is the sentinel wrapped by [RedirectError].
	ErrTooManyRedirects = errors.New("too many redirects")
)

// RedirectError is returned when an exchange exceeds its hop limit.
// History carries every intermediate response for diagnostics, oldest
// first.
type RedirectError struct {
	Limit   int
	History []*message.Response
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("%v: exceeded %d hops", ErrTooManyRedirects, e.Limit)
}

func (e *RedirectError) Unwrap() error {
	return ErrTooManyRedirects
}

// ExchangeError wraps a transport or framing failure, preserving the
// history accumulated before the failing hop.
type ExchangeError struct {
	History []*message.Response
	Err     error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange failed after %d hops: %v", len(e.History), e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
