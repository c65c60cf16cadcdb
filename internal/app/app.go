// Package app wires the service routes onto a drainable httpserver.Server.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kroma-labs/sentinel-drain/httpserver"
	"github.com/kroma-labs/sentinel-drain/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Response bodies of the two public routes.
const (
	RootMessage    = "It's on DigitalOcean!"
	DelayedMessage = "delayed response"
)

// Process exit codes returned by ExitCode.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitForcedShutdown = 2
)

var probePaths = []string{"/ping", "/livez", "/readyz", "/metrics"}

// App is the service: a router with the public and operational routes,
// served by an httpserver.Server.
type App struct {
	cfg    config.Config
	logger zerolog.Logger

	router *chi.Mux
	server *httpserver.Server
	health *httpserver.HealthHandler

	redis     redis.UniversalClient
	ownsRedis bool
}

type options struct {
	gatherer       prometheus.Gatherer
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	redis          redis.UniversalClient
	serverOpts     []httpserver.Option
}

// Option customizes New.
type Option func(*options)

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *options) {
		o.gatherer = g
	}
}

// WithMeterProvider sets the provider for request and lifecycle metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTracerProvider enables request tracing.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithRedis uses rdb for the shared rate limiter instead of dialing
// Config.RedisAddr. The caller keeps ownership of rdb.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = rdb
	}
}

// WithServerOptions appends options to the ones derived from the config.
func WithServerOptions(opts ...httpserver.Option) Option {
	return func(o *options) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}

// New builds the router and the server. Nothing is bound until Run.
func New(cfg config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		router: chi.NewRouter(),
		redis:  o.redis,
	}

	if a.redis == nil && cfg.RedisAddr != "" {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{cfg.RedisAddr},
		})
		a.ownsRedis = true
	}

	serverOpts := []httpserver.Option{
		httpserver.WithConfig(httpserver.ProductionConfig()),
		httpserver.WithAddr(cfg.Addr()),
		httpserver.WithServiceName(cfg.ServiceName),
		httpserver.WithLogger(logger),
		httpserver.WithShutdownTimeout(cfg.ShutdownTimeout),
		httpserver.WithWriteTimeout(cfg.WriteTimeout()),
		httpserver.WithHealth(&a.health, cfg.Version),
		httpserver.WithLogging(httpserver.LoggerConfig{
			Logger:    logger,
			SkipPaths: probePaths,
		}),
		httpserver.WithHandler(a.router),
	}

	if cfg.MetricsEnabled {
		metricsCfg := httpserver.DefaultMetricsConfig()
		if o.meterProvider != nil {
			metricsCfg.MeterProvider = o.meterProvider
		}
		metricsCfg.SkipPaths = probePaths
		serverOpts = append(serverOpts, httpserver.WithMetrics(metricsCfg))
	}

	if o.tracerProvider != nil {
		serverOpts = append(serverOpts, httpserver.WithTracing(httpserver.TracingConfig{
			TracerProvider: o.tracerProvider,
			SkipPaths:      probePaths,
		}))
	}

	if cfg.RateLimitRPS > 0 {
		serverOpts = append(serverOpts, httpserver.WithRateLimit(httpserver.RateLimitConfig{
			Limit:          rate.Limit(cfg.RateLimitRPS),
			Burst:          cfg.RateLimitBurst,
			KeyFunc:        httpserver.KeyFuncByIP(),
			Redis:          a.redis,
			RedisKeyPrefix: cfg.ServiceName + ":ratelimit:",
		}))
	}

	a.server = httpserver.New(append(serverOpts, o.serverOpts...)...)

	if a.redis != nil {
		a.health.AddReadinessCheck("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}

	a.routes(o.gatherer)
	return a, nil
}

func (a *App) routes(gatherer prometheus.Gatherer) {
	r := a.router

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpserver.WriteError(w, http.StatusNotFound, "route not found",
			httpserver.Error{Field: "path", Message: r.URL.Path})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpserver.WriteError(w, http.StatusMethodNotAllowed, "method not allowed",
			httpserver.Error{Field: "method", Message: r.Method})
	})

	r.Method(http.MethodGet, "/", httpserver.Handle(a.root))
	r.Method(http.MethodGet, "/delayed", httpserver.Handle(a.delayed))

	r.Method(http.MethodGet, "/ping", a.health.PingHandler())
	r.Method(http.MethodGet, "/livez", a.health.LiveHandler())
	r.Method(http.MethodGet, "/readyz", a.health.ReadyHandler())

	if a.cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", httpserver.PrometheusHandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if a.cfg.PprofEnabled {
		r.Handle("/debug/pprof/*", httpserver.PprofHandler(httpserver.PprofConfig{}))
	}
}

func (a *App) root(w http.ResponseWriter, _ *http.Request) error {
	httpserver.WriteMessage(w, http.StatusOK, RootMessage)
	return nil
}

// delayed answers after ResponseDelay. Each request waits on its own
// goroutine, so other requests are served meanwhile.
func (a *App) delayed(w http.ResponseWriter, r *http.Request) error {
	timer := time.NewTimer(a.cfg.ResponseDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		httpserver.WriteMessage(w, http.StatusOK, DelayedMessage)
		return nil
	case <-r.Context().Done():
		// Client gone or connection force-closed after the grace period.
		return r.Context().Err()
	}
}

// Handler returns the routed handler, without the server middleware.
func (a *App) Handler() http.Handler {
	return a.router
}

// Server exposes the lifecycle, mainly for tests.
func (a *App) Server() *httpserver.Server {
	return a.server
}

// Run serves until a shutdown signal or ctx cancellation, then drains.
func (a *App) Run(ctx context.Context) error {
	if a.ownsRedis {
		defer func() {
			if err := a.redis.Close(); err != nil {
				a.logger.Warn().Err(err).Msg("failed to close redis client")
			}
		}()
	}

	a.logger.Info().
		Str("addr", a.cfg.Addr()).
		Dur("response_delay", a.cfg.ResponseDelay).
		Dur("shutdown_timeout", a.cfg.ShutdownTimeout).
		Bool("rate_limit", a.cfg.RateLimitRPS > 0).
		Msg("starting service")

	return a.server.ListenAndServe(ctx)
}

// Run builds an App and runs it.
func Run(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts ...Option) error {
	a, err := New(cfg, logger, opts...)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// ExitCode maps the result of Run to a process exit code: 0 after a graceful
// drain, 2 when connections had to be force-closed, 1 for anything else
// (bind failure, bad configuration).
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var shutdownErr *httpserver.ShutdownError
	if errors.As(err, &shutdownErr) {
		return ExitForcedShutdown
	}
	return ExitFailure
}
