package httpserver

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Option configures the server.
type Option func(*Config)

// WithConfig replaces the whole configuration. Apply it first; options after it
// override individual fields.
//
//	server := httpserver.New(
//	    httpserver.WithConfig(httpserver.ProductionConfig()),
//	    httpserver.WithAddr("127.0.0.1:0"),
//	    httpserver.WithHandler(mux),
//	)
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithAddr sets the address the listener binds to.
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Addr = addr
	}
}

// WithServiceName sets the service name used by logging, metrics, tracing
// and health responses.
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

// WithHandler sets the HTTP handler for the server. Required.
func WithHandler(h http.Handler) Option {
	return func(c *Config) {
		c.Handler = h
	}
}

// WithLogger sets the lifecycle logger.
//
// Lifecycle events are startup, bind failures, shutdown and drain progress.
// Per-request logs are configured separately with WithLogging.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithShutdownTimeout sets the grace period for draining in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

// WithWriteTimeout sets the response write timeout. Handlers that respond
// slowly need a value above their own latency.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithSignals replaces the OS signal subscription used by ListenAndServe.
//
// Tests use this to trigger shutdown without sending real signals:
//
//	sigCh := make(chan os.Signal, 1)
//	server := httpserver.New(httpserver.WithSignals(sigCh), ...)
//	sigCh <- syscall.SIGTERM
func WithSignals(ch <-chan os.Signal) Option {
	return func(c *Config) {
		c.Signals = ch
	}
}

// WithMiddleware appends middleware around the handler. The first middleware
// given is the outermost of the group.
func WithMiddleware(ms ...Middleware) Option {
	return func(c *Config) {
		c.Middleware = append(c.Middleware, ms...)
	}
}

// WithTracing enables OpenTelemetry tracing middleware.
//
//	httpserver.WithTracing(httpserver.TracingConfig{
//	    SkipPaths: []string{"/livez", "/readyz", "/ping"},
//	})
func WithTracing(cfg TracingConfig) Option {
	return func(c *Config) {
		c.TracingConfig = &cfg
	}
}

// WithMetrics enables OpenTelemetry request metrics and lifecycle metrics
// (open connections, shutdown outcome and duration).
func WithMetrics(cfg MetricsConfig) Option {
	return func(c *Config) {
		c.MetricsConfig = &cfg
	}
}

// WithLogging enables request logging middleware.
func WithLogging(cfg LoggerConfig) Option {
	return func(c *Config) {
		c.LoggerConfig = &cfg
	}
}

// WithHealth creates a HealthHandler bound to this server.
//
// The handler gets the server's ServiceName and a "listener" readiness check
// that fails as soon as the server starts draining, so load balancers stop
// routing to an instance that is going away.
//
//	var health *httpserver.HealthHandler
//	server := httpserver.New(
//	    httpserver.WithHealth(&health, "1.0.0"),
//	    httpserver.WithHandler(mux),
//	)
//	mux.Handle("/readyz", health.ReadyHandler())
func WithHealth(handler **HealthHandler, version string) Option {
	return func(c *Config) {
		c.HealthVersion = version
		c.HealthHandler = handler
	}
}

// WithRateLimit enables rate limiting for all requests.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(c *Config) {
		c.RateLimitConfig = &cfg
	}
}
