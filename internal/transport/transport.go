// Package transport performs HTTP round trips over two routes: a direct route and a
// fallback route used when the direct one cannot reach the backend.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kimhsiao/gatesync/internal/errors"
)

// Route identifies which transport produced a response.
type Route int

const (
	RouteDirect Route = iota
	RouteFallback
)

func (r Route) String() string {
	switch r {
	case RouteDirect:
		return "direct"
	case RouteFallback:
		return "fallback"
	default:
		return fmt.Sprintf("route(%d)", int(r))
	}
}

// Request is a fully built HTTP request. Body is sent as-is.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response, independent of the route that produced it.
type Response struct {
	OK         bool
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	URL        string
	Route      Route
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Transport performs one round trip. An error means no response was received.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// maxBodyBytes bounds how much of a response is buffered. Larger bodies are an error.
var maxBodyBytes int64 = 16 << 20

// HTTPTransport adapts an *http.Client to Transport.
type HTTPTransport struct {
	client *http.Client
	route  Route
}

// NewHTTPTransport wraps client; responses are tagged with route.
func NewHTTPTransport(client *http.Client, route Route) *HTTPTransport {
	return &HTTPTransport{client: client, route: route}
}

// NewDirect returns the direct transport: environment proxy settings, strict timeout.
func NewDirect(timeout time.Duration) *HTTPTransport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = http.ProxyFromEnvironment
	return NewHTTPTransport(&http.Client{Transport: t, Timeout: timeout}, RouteDirect)
}

// NewFallback returns the fallback transport: no proxy, HTTP/1.1 only and a longer
// timeout, for networks where the direct path is filtered.
func NewFallback(timeout time.Duration) *HTTPTransport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.ForceAttemptHTTP2 = false
	t.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	return NewHTTPTransport(&http.Client{Transport: t, Timeout: timeout}, RouteFallback)
}

// Route returns the route this transport serves.
func (t *HTTPTransport) Route() Route {
	return t.route
}

func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		// Nothing was sent.
		return nil, errors.Wrap(errors.ErrInvalid, "build request", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > maxBodyBytes {
		return nil, errors.New(errors.ErrInternal,
			fmt.Sprintf("response body of %s exceeds %d bytes", req.URL, maxBodyBytes))
	}

	return &Response{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header,
		Body:       data,
		URL:        resp.Request.URL.String(),
		Route:      t.route,
	}, nil
}
