package httpwire

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/httpwire/digest"
	"github.com/adamwoolhether/httpwire/throttle"
	"github.com/adamwoolhether/httpwire/transport"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error

type options struct {
	dialer            transport.Dialer
	logger            *slog.Logger
	tracer            trace.Tracer
	cred              *digest.Credential
	throttleRPS       int
	throttleBurst     int
	userAgent         string
	maxRedirects      *int
	noFollowRedirects bool
}

// WithDialer replaces the default network dialer. Connection pooling,
// proxying, and TLS policy are the dialer's concern.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) error {
		if d == nil {
			return errors.New("dialer must not be nil")
		}
		o.dialer = d
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer sets the tracer used for exchange and hop spans. A noop
// tracer is used unless set.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		o.tracer = tracer
		return nil
	}
}

// WithCredential arms Digest authentication with the given credential.
// Only 401 and 407 challenges are ever answered.
func WithCredential(cred digest.Credential) Option {
	return func(o *options) error {
		if err := Validate(cred); err != nil {
			return fmt.Errorf("invalid credential: %w", err)
		}
		o.cred = &cred
		return nil
	}
}

// WithThrottle enables token-bucket pacing of hops with the given
// rate per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		o.throttleRPS = rps
		o.throttleBurst = burst
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing requests.
func WithUserAgent(header string) Option {
	return func(o *options) error {
		o.userAgent = header
		return nil
	}
}

// WithMaxRedirects overrides the default hop limit of 30. Every hop
// counts, authentication retries included.
func WithMaxRedirects(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("redirect limit must not be negative")
		}
		o.maxRedirects = &n
		return nil
	}
}

// WithNoFollowRedirects prevents the [Client] from following HTTP
// redirects; the first response is returned as terminal.
func WithNoFollowRedirects() Option {
	return func(o *options) error {
		o.noFollowRedirects = true
		return nil
	}
}
