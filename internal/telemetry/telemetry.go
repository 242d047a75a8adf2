// Package telemetry provides opt-in OpenTelemetry metrics for the gate client.
// Nothing leaves the machine unless an OTLP endpoint is configured.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"github.com/kimhsiao/gatesync/internal/logging"
)

// MeterName scopes every instrument created by this package.
const MeterName = "github.com/kimhsiao/gatesync"

// Provider holds the MeterProvider and its shutdown function.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Shutdown      func(context.Context) error

	exporting bool
}

// IsEnabled reports whether metrics are exported.
func (p *Provider) IsEnabled() bool {
	return p != nil && p.exporting
}

// NewProvider creates a MeterProvider exporting via OTLP gRPC to endpoint.
// endpoint may be host:port or a URL; only host:port is used. If empty, a provider
// without readers is returned and Shutdown is a no-op.
func NewProvider(ctx context.Context, endpoint, serviceName string) (*Provider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return &Provider{
			MeterProvider: sdkmetric.NewMeterProvider(),
			Shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(u.Host)}
	if u.Scheme != "https" {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second))),
	)
	logging.Info("metrics export enabled", map[string]interface{}{"endpoint": u.Host})

	return &Provider{
		MeterProvider: mp,
		Shutdown:      mp.Shutdown,
		exporting:     true,
	}, nil
}

// SetGlobal installs the MeterProvider as the otel global.
func (p *Provider) SetGlobal() {
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
}

// Metrics are the counters recorded by the request and queue paths.
// A nil *Metrics records nothing.
type Metrics struct {
	attempts  metric.Int64Counter
	retries   metric.Int64Counter
	refreshes metric.Int64Counter
	fallbacks metric.Int64Counter
	enqueued  metric.Int64Counter
	flushed   metric.Int64Counter
}

// NewMetrics creates the counters on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(MeterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.attempts, "gatesync.request.attempts", "Transport attempts, one per network round trip."},
		{&m.retries, "gatesync.request.retries", "Backoff retries after a transient failure."},
		{&m.refreshes, "gatesync.auth.refreshes", "Token refresh exchanges."},
		{&m.fallbacks, "gatesync.transport.fallbacks", "Requests served by the fallback route."},
		{&m.enqueued, "gatesync.queue.enqueued", "Scans appended to the offline queue."},
		{&m.flushed, "gatesync.queue.flushed", "Scans delivered by a bulk flush."},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}
	return m, nil
}

// RequestAttempt counts one transport round trip on route.
func (m *Metrics) RequestAttempt(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

// Retry counts one backoff retry.
func (m *Metrics) Retry(ctx context.Context) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1)
}

// Refresh counts one refresh exchange and its outcome.
func (m *Metrics) Refresh(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

// Fallback counts a request that had to use the fallback route.
func (m *Metrics) Fallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1)
}

// Enqueued counts a scan written to the offline queue.
func (m *Metrics) Enqueued(ctx context.Context) {
	if m == nil {
		return
	}
	m.enqueued.Add(ctx, 1)
}

// Flushed counts n scans delivered by one flush.
func (m *Metrics) Flushed(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.flushed.Add(ctx, int64(n))
}
