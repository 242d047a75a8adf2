package transport

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/logging"
	"github.com/kimhsiao/gatesync/internal/telemetry"
)

// Selector tries the direct transport first and the fallback transport when the
// direct one fails to produce any response. HTTP error statuses are responses and
// never trigger the fallback.
type Selector struct {
	direct   Transport
	fallback Transport
	metrics  *telemetry.Metrics
}

// NewSelector creates a Selector. fallback may be nil, in which case only direct is used.
func NewSelector(direct, fallback Transport) *Selector {
	return &Selector{direct: direct, fallback: fallback}
}

// WithMetrics records attempts and fallbacks on m.
func (s *Selector) WithMetrics(m *telemetry.Metrics) *Selector {
	s.metrics = m
	return s
}

// Perform sends req. With prefer == RouteFallback the direct route is skipped, so
// follow-up calls of one exchange stay on the route that already worked.
// When no route produces a response the error is TRANSIENT_NETWORK. Errors a
// transport already classified as something else are returned unchanged and never
// trigger the fallback.
func (s *Selector) Perform(ctx context.Context, req *Request, prefer Route) (*Response, error) {
	var directErr error

	if prefer != RouteFallback || s.fallback == nil {
		s.metrics.RequestAttempt(ctx, RouteDirect.String())
		resp, err := s.direct.RoundTrip(ctx, req)
		if err == nil {
			resp.Route = RouteDirect
			return resp, nil
		}
		if !isNetworkFailure(err) {
			return nil, err
		}
		directErr = err
		if s.fallback == nil || ctx.Err() != nil {
			return nil, errors.Transient(fmt.Sprintf("%s %s", req.Method, req.URL), err)
		}
		logging.Debug("direct route failed, trying fallback", map[string]interface{}{
			"url":   req.URL,
			"error": err.Error(),
		})
	}

	s.metrics.RequestAttempt(ctx, RouteFallback.String())
	resp, err := s.fallback.RoundTrip(ctx, req)
	if err == nil {
		resp.Route = RouteFallback
		s.metrics.Fallback(ctx)
		return resp, nil
	}
	if !isNetworkFailure(err) {
		return nil, err
	}

	cause := err
	if directErr != nil {
		cause = stderrors.Join(fmt.Errorf("direct: %w", directErr), fmt.Errorf("fallback: %w", err))
	}
	return nil, errors.Transient(fmt.Sprintf("%s %s", req.Method, req.URL), cause)
}

// isNetworkFailure reports whether err means no response was received. Classified
// errors other than TRANSIENT_NETWORK come from the request or the response body.
func isNetworkFailure(err error) bool {
	code := errors.CodeOf(err)
	return code == "" || code == errors.ErrTransient
}
