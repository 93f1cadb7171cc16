// Package restclient is the JSON-over-HTTP transport shared by the tracker
// and source-control adapters. It retries transient failures with
// exponential backoff.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultMaxTries = 3
	maxBodyBytes    = 1 << 20
	maxErrBody      = 512
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Authorizer decorates outgoing requests with credentials.
type Authorizer func(*http.Request)

// Bearer returns an Authorizer setting a bearer token.
func Bearer(token string) Authorizer {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

// Basic returns an Authorizer setting basic auth.
func Basic(user, pass string) Authorizer {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

// Client issues JSON requests relative to a base URL. Safe for concurrent use.
type Client struct {
	base     string
	http     *http.Client
	auth     Authorizer
	headers  http.Header
	maxTries uint
	newBO    func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAuth sets the request authorizer.
func WithAuth(a Authorizer) Option {
	return func(c *Client) { c.auth = a }
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithMaxTries caps attempts per request, including the first.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// WithBackOff sets the backoff policy factory, called once per request.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBO = f }
}

// New returns a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		headers:  make(http.Header),
		maxTries: defaultMaxTries,
		newBO:    func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	c.headers.Set("Accept", "application/json")
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get issues a GET request and decodes the response into out when non-nil.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// Do performs the request with retry. Network errors are retried for every
// method; 5xx responses only for idempotent methods; 4xx never.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
	}

	idempotent := method == http.MethodGet || method == http.MethodHead
	op := func() (struct{}, error) {
		return struct{}{}, c.once(ctx, method, path, payload, out, idempotent)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBO()),
		backoff.WithMaxTries(c.maxTries),
	)
	return err
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any, idempotent bool) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.http.Do(req) //nolint:gosec // base URL comes from tenant configuration
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		serr := &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		if resp.StatusCode >= 500 && idempotent {
			return serr
		}
		return backoff.Permanent(serr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return backoff.Permanent(fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == code
}
