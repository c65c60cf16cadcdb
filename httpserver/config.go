package httpserver

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "0.0.0.0:8080"

// Config holds the HTTP server configuration parameters.
//
// Start from DefaultConfig(), ProductionConfig(), or DevelopmentConfig() and
// override the fields you need:
//
//	cfg := httpserver.DefaultConfig()
//	cfg.Addr = "127.0.0.1:9090"
//	cfg.ShutdownTimeout = 15 * time.Second
//
//	server := httpserver.New(
//	    httpserver.WithConfig(cfg),
//	    httpserver.WithHandler(mux),
//	)
type Config struct {
	// Addr is the TCP address the listener binds to (default: "0.0.0.0:8080").
	// Use port 0 to let the OS pick a free port; Server.Addr reports the result.
	Addr string

	// ServiceName identifies the service in logs, metrics, traces and health
	// responses. Default: "http-server"
	ServiceName string

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body. Zero means no timeout.
	ReadTimeout time.Duration

	// ReadHeaderTimeout is the maximum duration for reading request headers.
	// If zero, ReadTimeout is used.
	ReadHeaderTimeout time.Duration

	// WriteTimeout bounds the time from the end of the request headers to the
	// end of the response write. It must be longer than the slowest handler,
	// otherwise slow responses are cut off. Zero means no timeout.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum time to wait for the next request on a
	// keep-alive connection. If zero, ReadTimeout is used.
	IdleTimeout time.Duration

	// MaxHeaderBytes caps the size of request headers. Default: 1MB
	MaxHeaderBytes int

	// Logger receives lifecycle events (listening, shutdown, drain progress).
	// The presets log JSON to stdout; use zerolog.Nop() to silence it.
	Logger zerolog.Logger

	// Middleware wraps Handler, innermost after the built-in stack.
	Middleware []Middleware

	// Handler serves requests. Required, set via WithHandler().
	Handler http.Handler

	// ShutdownTimeout is the grace period for draining.
	//
	// When shutdown is triggered:
	//  1. The listener is closed, new connections are refused
	//  2. In-flight requests get up to ShutdownTimeout to complete
	//  3. Remaining connections are closed and a ShutdownError is returned
	ShutdownTimeout time.Duration

	// DrainInterval is how often drain progress (open connections) is logged
	// while shutting down. Zero disables progress logging.
	DrainInterval time.Duration

	// Signals overrides the OS signal source used by ListenAndServe.
	// If nil, SIGINT and SIGTERM are subscribed via NotifySignals.
	Signals <-chan os.Signal

	// TracingConfig enables tracing. ServiceName is applied automatically.
	TracingConfig *TracingConfig

	// MetricsConfig enables request and lifecycle metrics. ServiceName is
	// applied automatically.
	MetricsConfig *MetricsConfig

	// LoggerConfig enables request logging. ServiceName is applied automatically.
	LoggerConfig *LoggerConfig

	// HealthHandler is populated by WithHealth.
	HealthHandler **HealthHandler

	// HealthVersion is the version string for health responses.
	HealthVersion string

	// RateLimitConfig enables rate limiting for all requests.
	RateLimitConfig *RateLimitConfig
}

// DefaultConfig returns a balanced configuration suitable for most use cases.
//
// Timeout values:
//   - ReadTimeout: 15s
//   - WriteTimeout: 15s
//   - IdleTimeout: 60s
//   - ShutdownTimeout: 10s
func DefaultConfig() Config {
	return Config{
		Addr:              DefaultAddr,
		ServiceName:       "http-server",
		Logger:            defaultLogger(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
		ShutdownTimeout:   10 * time.Second,
		DrainInterval:     500 * time.Millisecond,
	}
}

// ProductionConfig returns a hardened configuration.
//
// ShutdownTimeout is 25s: Kubernetes sends SIGTERM and then SIGKILL after
// terminationGracePeriodSeconds (30s by default), so draining must finish
// inside that window.
func ProductionConfig() Config {
	return Config{
		Addr:              DefaultAddr,
		ServiceName:       "http-server",
		Logger:            defaultLogger(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
		ShutdownTimeout:   25 * time.Second,
		DrainInterval:     500 * time.Millisecond,
	}
}

// DevelopmentConfig returns a lenient configuration for local work: no
// read/write timeouts so breakpoints do not kill requests, and a short grace
// period for fast restarts.
//
// Do not use this in production.
func DevelopmentConfig() Config {
	return Config{
		Addr:              DefaultAddr,
		ServiceName:       "http-server",
		Logger:            defaultLogger(),
		ReadTimeout:       0,
		ReadHeaderTimeout: 0,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
		ShutdownTimeout:   3 * time.Second,
		DrainInterval:     100 * time.Millisecond,
	}
}

func defaultLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
