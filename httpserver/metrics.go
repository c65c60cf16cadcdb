package httpserver

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/kroma-labs/sentinel-drain/httpserver"

// Metrics records request metrics and server lifecycle metrics.
//
// Request instruments:
//   - http.server.request.duration: latency histogram (s)
//   - http.server.active_requests: in-flight requests
//   - http.server.request.total: completed requests by status
//   - http.server.response.size: response body size (By)
//
// Lifecycle instruments:
//   - http.server.open_connections: open client connections, idle included
//   - http.server.shutdown.total: shutdowns by outcome (graceful, forced)
//   - http.server.shutdown.duration: time spent draining (s)
type Metrics struct {
	serviceName string

	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
	requestTotal    metric.Int64Counter
	responseSize    metric.Int64Histogram

	openConnections  metric.Int64UpDownCounter
	shutdownTotal    metric.Int64Counter
	shutdownDuration metric.Float64Histogram
}

// MetricsConfig configures metrics.
type MetricsConfig struct {
	// MeterProvider defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// serviceName is set by the server.
	serviceName string

	// SkipPaths are not recorded by the request middleware.
	SkipPaths []string

	// DurationBuckets are the request duration histogram boundaries in seconds.
	// The defaults reach 120s so slow routes land in a real bucket.
	DurationBuckets []float64
}

// DefaultMetricsConfig returns a default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MeterProvider:   otel.GetMeterProvider(),
		DurationBuckets: defaultDurationBuckets(),
	}
}

func defaultDurationBuckets() []float64 {
	return []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
}

// NewMetrics creates the instruments.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = defaultDurationBuckets()
	}

	meter := cfg.MeterProvider.Meter(
		instrumentationName,
		metric.WithInstrumentationVersion("1.0.0"),
	)

	m := &Metrics{serviceName: cfg.serviceName}
	var err error

	if m.requestDuration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(cfg.DurationBuckets...),
	); err != nil {
		return nil, err
	}

	if m.activeRequests, err = meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of in-flight HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestTotal, err = meter.Int64Counter(
		"http.server.request.total",
		metric.WithDescription("Total number of completed HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.responseSize, err = meter.Int64Histogram(
		"http.server.response.size",
		metric.WithDescription("Size of HTTP response bodies in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.openConnections, err = meter.Int64UpDownCounter(
		"http.server.open_connections",
		metric.WithDescription("Number of open client connections"),
	); err != nil {
		return nil, err
	}

	if m.shutdownTotal, err = meter.Int64Counter(
		"http.server.shutdown.total",
		metric.WithDescription("Server shutdowns by outcome"),
	); err != nil {
		return nil, err
	}

	if m.shutdownDuration, err = meter.Float64Histogram(
		"http.server.shutdown.duration",
		metric.WithDescription("Time spent draining connections during shutdown"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(cfg.DurationBuckets...),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// Middleware returns middleware that records request metrics.
func (m *Metrics) Middleware(skipPaths ...string) Middleware {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			start := time.Now()

			attrs := []attribute.KeyValue{
				attribute.String("service.name", m.serviceName),
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			}
			inFlight := metric.WithAttributes(attrs...)
			m.activeRequests.Add(ctx, 1, inFlight)
			defer m.activeRequests.Add(ctx, -1, inFlight)

			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			done := metric.WithAttributes(append(attrs,
				attribute.Int("http.response.status_code", wrapped.Status()),
			)...)
			m.requestDuration.Record(ctx, time.Since(start).Seconds(), done)
			m.responseSize.Record(ctx, int64(wrapped.BytesWritten()), done)
			m.requestTotal.Add(ctx, 1, done)
		})
	}
}

// The lifecycle hooks below are called by Server and tolerate a nil receiver,
// which is what a server without WithMetrics has.

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.openConnections.Add(context.Background(), 1, m.serviceAttr())
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.openConnections.Add(context.Background(), -1, m.serviceAttr())
}

func (m *Metrics) recordShutdown(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(
		attribute.String("service.name", m.serviceName),
		attribute.String("outcome", outcome),
	)
	m.shutdownTotal.Add(ctx, 1, attrs)
	m.shutdownDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) serviceAttr() metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("service.name", m.serviceName))
}
