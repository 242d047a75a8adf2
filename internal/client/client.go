// Package client executes authenticated calls against the tenant-scoped backend API.
//
// A call is retried only when no response came back at all. A 401 with a refresh
// token triggers one refresh on the same route and one replay of the call. Every
// other response is final.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/logging"
	"github.com/kimhsiao/gatesync/internal/session"
	"github.com/kimhsiao/gatesync/internal/telemetry"
	"github.com/kimhsiao/gatesync/internal/transport"
	"github.com/kimhsiao/gatesync/internal/uuid"
)

const (
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries = 3
	// BaseDelay is the wait before the first retry; each later wait doubles it.
	BaseDelay = time.Second

	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh"
)

// Performer sends a request over a preferred route. *transport.Selector implements it.
type Performer interface {
	Perform(ctx context.Context, req *transport.Request, prefer transport.Route) (*transport.Response, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client is the request executor. It is safe for concurrent use; each call keeps
// its own retry state.
type Client struct {
	session   *session.Session
	transport Performer
	sleep     SleepFunc
	metrics   *telemetry.Metrics
	log       *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSleep replaces the backoff wait, e.g. to record delays in tests.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithMetrics records retries and refreshes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger replaces the global logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client reading endpoint and credentials from sess at call time.
func New(sess *session.Session, tr Performer, opts ...Option) *Client {
	c := &Client{
		session:   sess,
		transport: tr,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.Get()
	}
	c.log = c.log.With(map[string]interface{}{"component": "client"})
	return c
}

// Session returns the session the client reads from.
func (c *Client) Session() *session.Session {
	return c.session
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// newBackOff yields BaseDelay, 2*BaseDelay, 4*BaseDelay, ... without jitter.
func newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Minute,
	}
	b.Reset()
	return b
}

// Options describe one call.
type Options struct {
	// Method defaults to GET, or POST when Body is set.
	Method string
	// Header is merged into the request; Authorization and X-Request-ID are set by the client.
	Header http.Header
	// Body is sent as JSON. []byte and json.RawMessage are sent unchanged.
	Body interface{}
	// NoAuth sends no bearer token and skips the refresh on 401.
	NoAuth bool
}

// Result is a successful (2xx) response.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
	Route  transport.Route
}

// IsJSON reports whether the body parses as JSON.
func (r *Result) IsJSON() bool {
	return len(r.Body) > 0 && json.Valid(r.Body)
}

// Value returns the decoded JSON body, or the raw text when the body is not JSON.
func (r *Result) Value() interface{} {
	if r.IsJSON() {
		var v interface{}
		if err := json.Unmarshal(r.Body, &v); err == nil {
			return v
		}
	}
	return string(r.Body)
}

// Decode unmarshals a JSON body into v. A non-JSON body leaves v untouched.
func (r *Result) Decode(v interface{}) error {
	if v == nil || !r.IsJSON() {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrap(errors.ErrInternal, "decode response", err)
	}
	return nil
}

// Call sends in as the JSON body of method path and decodes the response into out.
// in and out may be nil.
func (c *Client) Call(ctx context.Context, method, path string, in, out interface{}) error {
	res, err := c.Request(ctx, path, Options{Method: method, Body: in})
	if err != nil {
		return err
	}
	return res.Decode(out)
}

// WithQuery appends the non-empty values of q to path.
func WithQuery(path string, q url.Values) string {
	clean := url.Values{}
	for k, vs := range q {
		for _, v := range vs {
			if v != "" {
				clean.Add(k, v)
			}
		}
	}
	if len(clean) == 0 {
		return path
	}
	return path + "?" + clean.Encode()
}

// Request executes path against the tenant-scoped base URL.
func (c *Client) Request(ctx context.Context, path string, opts Options) (*Result, error) {
	target, err := c.session.URL(path)
	if err != nil {
		return nil, err
	}
	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}
	requestID := opts.Header.Get(uuid.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewRequestID()
	}
	logCtx := map[string]interface{}{
		"method":     method,
		"path":       path,
		"request_id": requestID,
	}

	build := func() *transport.Request {
		return c.buildRequest(method, target, body, opts, requestID)
	}

	bo := newBackOff()
	var resp *transport.Response
	for attempt := 0; ; attempt++ {
		c.log.Debug("request attempt", logCtx, map[string]interface{}{"attempt": attempt + 1})

		resp, err = c.transport.Perform(ctx, build(), transport.RouteDirect)
		if err == nil {
			break
		}
		if !errors.IsTransient(err) || attempt >= MaxRetries || ctx.Err() != nil {
			c.log.Warn("request failed", logCtx, map[string]interface{}{
				"attempts": attempt + 1,
				"error":    err.Error(),
			})
			return nil, err
		}

		delay := bo.NextBackOff()
		c.log.Warn("network error, retrying", logCtx, map[string]interface{}{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		c.metrics.Retry(ctx)
		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, errors.Transient("request cancelled during backoff", serr)
		}
	}

	if resp.Status == http.StatusUnauthorized && !opts.NoAuth && c.session.RefreshToken() != "" {
		if err := c.refresh(ctx, resp.Route, requestID); err != nil {
			return nil, err
		}
		c.log.Debug("replaying request after refresh", logCtx, map[string]interface{}{"route": resp.Route.String()})

		// The replay is not retried and its 401, if any, is final.
		resp, err = c.transport.Perform(ctx, build(), resp.Route)
		if err != nil {
			return nil, err
		}
	}

	return interpret(resp)
}

func (c *Client) buildRequest(method, target string, body []byte, opts Options, requestID string) *transport.Request {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	for k, vs := range opts.Header {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	h.Set(uuid.RequestIDHeader, requestID)
	if !opts.NoAuth {
		if token := c.session.AccessToken(); token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	}
	return &transport.Request{Method: method, URL: target, Header: h, Body: body}
}

func encodeBody(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, "encode request body", err)
		}
		return data, nil
	}
}

// serverMessage is the error envelope the backend uses. Detail is raw because some
// endpoints return a list of validation errors there.
type serverMessage struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

func (m serverMessage) detail() string {
	var s string
	if len(m.Detail) > 0 && json.Unmarshal(m.Detail, &s) == nil {
		return s
	}
	return ""
}

func parseServerMessage(body []byte) serverMessage {
	var m serverMessage
	_ = json.Unmarshal(body, &m)
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// interpret maps a final response to a Result or a typed error.
func interpret(resp *transport.Response) (*Result, error) {
	if resp.OK {
		return &Result{
			Status: resp.Status,
			Header: resp.Header,
			Body:   resp.Body,
			Route:  resp.Route,
		}, nil
	}

	msg := parseServerMessage(resp.Body)
	if resp.Status == http.StatusUnauthorized {
		return nil, errors.AuthRequired(resp.Status, firstNonEmpty(msg.detail(), msg.Message, msg.Code))
	}
	return nil, errors.HTTP(resp.Status, firstNonEmpty(msg.Message, msg.detail()), msg.Code)
}

// describe is used in log lines; never includes bodies or tokens.
func describe(resp *transport.Response) string {
	return fmt.Sprintf("%d %s via %s", resp.Status, resp.StatusText, resp.Route)
}
