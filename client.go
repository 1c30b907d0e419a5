// Package httpwire is the protocol-correctness core of an HTTP/1.1
// client: the layer between "build a request" and raw bytes on a
// socket, deciding for each response whether another request must be
// sent and how it differs from the last.
//
// # Building a Client
//
// Use [Build] to create a [Client] with functional options:
//
//	c, err := httpwire.Build(
//		httpwire.WithUserAgent("myapp/1.0"),
//		httpwire.WithCredential(digest.Credential{Username: "user", Password: "pass"}),
//	)
//
// # Making Requests
//
// Construct a [message.Request] and execute it with [Client.Do]:
//
//	req, err := httpwire.NewRequest("GET", "http://example.com/resource")
//	resp, err := c.Do(ctx, req)
//
// Do drives the full exchange: it follows redirects (stripping
// credentials across authority boundaries and percent-encoding
// non-ASCII redirect paths), answers Digest challenges at most once
// per server nonce, streams unknown-length bodies as chunked transfer
// encoding, and fails loudly when a response body is shorter than its
// declared length. The terminal response carries the ordered history
// of intermediate responses.
//
// Connection establishment, pooling, proxying, and cookie semantics
// live behind the [transport.Dialer] boundary and are not this
// package's concern.
package httpwire

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/httpwire/digest"
	"github.com/adamwoolhether/httpwire/framing"
	"github.com/adamwoolhether/httpwire/message"
	"github.com/adamwoolhether/httpwire/redirect"
	"github.com/adamwoolhether/httpwire/throttle"
	"github.com/adamwoolhether/httpwire/transport"
)

// Client drives request/response exchanges over a wire transport.
// A Client is safe for concurrent use; each Do call is one exchange
// with at most one outstanding send/receive pair at a time.
type Client struct {
	dialer  transport.Dialer
	logger  *slog.Logger
	tracer  trace.Tracer
	limiter *throttle.Throttle
	auth    *digest.Handler

	userAgent         string
	maxRedirects      int
	noFollowRedirects bool
}

// Build creates a Client with the given options.
func Build(optFns ...Option) (*Client, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	client := &Client{
		dialer:            transport.NewNetDialer(),
		logger:            slog.Default(),
		maxRedirects:      defaultRedirectLimit,
		userAgent:         opts.userAgent,
		noFollowRedirects: opts.noFollowRedirects,
	}

	if opts.dialer != nil {
		client.dialer = opts.dialer
	}
	if opts.logger != nil {
		client.logger = opts.logger
	}
	if opts.tracer != nil {
		client.tracer = opts.tracer
	} else {
		client.tracer = noop.NewTracerProvider().Tracer("no-op tracer")
	}
	if opts.maxRedirects != nil {
		client.maxRedirects = *opts.maxRedirects
	}
	if opts.cred != nil {
		client.auth = digest.NewHandler(*opts.cred)
	}
	if opts.throttleRPS > 0 {
		t, err := throttle.New(opts.throttleRPS, opts.throttleBurst, func() *slog.Logger { return client.logger })
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		client.limiter = t
	}

	return client, nil
}

// NewRequest builds a request for use with [Client.Do].
func NewRequest(method, rawURL string) (*message.Request, error) {
	return message.NewRequest(method, rawURL)
}

// Do executes req until a terminal response is reached: it sends the
// request, frames the response, then follows any redirect and answers
// any Digest challenge, looping until neither produces a follow-up or
// the hop limit is exceeded. The returned response carries the
// exchange's intermediate responses in History, oldest first. History
// is likewise preserved inside [RedirectError] and [ExchangeError] on
// failure.
func (c *Client) Do(ctx context.Context, req *message.Request) (*message.Response, error) {
	ctx, span := c.tracer.Start(ctx, "httpwire.exchange", trace.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL.String()),
	))
	defer span.End()

	var (
		history []*message.Response
		prev    *message.Response

		// authz is the challenge answer for the next hop only; digest
		// headers are per-challenge and never inherited by later hops.
		authz      string
		authzField string
	)

	for hop := 0; ; hop++ {
		if hop > c.maxRedirects {
			return nil, &RedirectError{Limit: c.maxRedirects, History: history}
		}

		if err := c.limiter.Wait(ctx, req.URL.Host); err != nil {
			return nil, &ExchangeError{History: history, Err: err}
		}

		attempt := req
		if authz != "" {
			attempt = req.Clone()
			attempt.Header.Set(authzField, authz)
		}

		resp, err := c.roundTrip(ctx, attempt)
		if err != nil {
			return nil, &ExchangeError{History: history, Err: err}
		}
		resp.Request = attempt
		resp.Prev = prev

		if !c.noFollowRedirects {
			next, err := redirect.Resolve(resp)
			if err != nil {
				return nil, &ExchangeError{History: append(history, resp), Err: err}
			}
			if next != nil {
				history = append(history, resp)
				prev = resp

				if authz != "" {
					// The answer above was scoped to the challenge it
					// satisfied; the redirected request starts clean.
					next.Header.Del("Authorization")
					next.Header.Del("Proxy-Authorization")
				}
				if c.auth != nil && redirect.ShouldStripAuth(attempt.URL, next.URL) {
					c.auth.Reset(redirect.Origin(next.URL))
				}

				c.logger.Info("following redirect", "status", resp.StatusCode, "location", next.URL.String())
				req, authz = next, ""
				continue
			}
		}

		if retry, value, field := c.answerChallenge(resp, req); retry != nil {
			history = append(history, resp)
			prev = resp
			req, authz, authzField = retry, value, field
			c.logger.Info("answering digest challenge", "status", resp.StatusCode, "target", req.URL.Host)
			continue
		}

		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		resp.History = history
		return resp, nil
	}
}

// answerChallenge asks the digest handler whether resp's challenge
// warrants a same-target retry. It returns the retry request, the
// header value, and the header field to set, or nils when the
// exchange is terminal: no credential armed, a non-4xx status, a
// malformed challenge, an already-answered nonce, or a body that
// cannot be replayed.
func (c *Client) answerChallenge(resp *message.Response, req *message.Request) (*message.Request, string, string) {
	if c.auth == nil {
		return nil, "", ""
	}

	chalField, authField := "WWW-Authenticate", "Authorization"
	if resp.StatusCode == 407 {
		chalField, authField = "Proxy-Authenticate", "Proxy-Authorization"
	}
	chal := resp.Header.Get(chalField)
	if chal == "" {
		return nil, "", ""
	}

	// The retry must be viable before the handler commits any state:
	// marking a nonce answered without sending its answer would lock
	// the credential out of that origin.
	retry := req.Clone()
	if retry.Body != nil {
		if retry.GetBody == nil {
			c.logger.Error("cannot replay streamed body for digest retry")
			return nil, "", ""
		}
		rewound, err := retry.GetBody()
		if err != nil {
			c.logger.Error("rewinding body for digest retry", "error", err)
			return nil, "", ""
		}
		retry.Body = rewound
	}

	body, err := req.BodyBytes()
	if err != nil {
		c.logger.Error("cannot hash body for digest challenge", "error", err)
		return nil, "", ""
	}

	value, ok := c.auth.Answer(resp.StatusCode, chal, req.Method, req.RequestURI(), redirect.Origin(req.URL), body)
	if !ok {
		return nil, "", ""
	}
	return retry, value, authField
}

// roundTrip performs one hop: dial, write the request, read and frame
// the response. The connection is closed afterwards; reuse is the
// dialer's business, not ours.
func (c *Client) roundTrip(ctx context.Context, req *message.Request) (*message.Response, error) {
	ctx, span := c.tracer.Start(ctx, "httpwire.hop", trace.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL.String()),
	))
	defer span.End()

	scheme, addr := transport.Address(req.URL)
	conn, err := c.dialer.DialContext(ctx, scheme, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.logger.Error("failed to close connection", "error", err)
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			c.logger.Error("failed to set connection deadline", "error", err)
		}
	}

	if c.userAgent != "" && !req.Header.Has("User-Agent") {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if !req.Header.Has("Accept") {
		req.Header.Set("Accept", "*/*")
	}
	// One connection per hop, so advertise close instead of lying
	// about reuse.
	req.Header.Set("Connection", "close")

	bw := bufio.NewWriter(conn)
	if err := req.Write(bw); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("flushing request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := message.ReadResponse(br)
	if err != nil {
		return nil, fmt.Errorf("reading response head: %w", err)
	}

	length, isChunked, err := resp.BodyLength(req.Method)
	if err != nil {
		return nil, fmt.Errorf("interpreting response framing: %w", err)
	}

	var body io.Reader = br
	body = framing.NewBody(body, length, isChunked)
	payload, err := framing.ReadAll(body)
	if err != nil {
		return nil, err
	}
	resp.Body = payload

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}
