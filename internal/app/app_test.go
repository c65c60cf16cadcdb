package app_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kroma-labs/sentinel-drain/httpserver"
	"github.com/kroma-labs/sentinel-drain/internal/app"
	"github.com/kroma-labs/sentinel-drain/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func testConfig() config.Config {
	return config.Config{
		Host:            "127.0.0.1",
		Port:            0,
		ServiceName:     "drain-test",
		Version:         "test",
		ResponseDelay:   300 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        zerolog.Disabled,
		LogFormat:       config.LogFormatJSON,
	}
}

type running struct {
	app    *app.App
	sigCh  chan os.Signal
	result chan error
}

func (r *running) url(path string) string {
	return "http://" + r.app.Server().Addr() + path
}

func (r *running) wait(t *testing.T) error {
	t.Helper()

	select {
	case err := <-r.result:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func startApp(t *testing.T, cfg config.Config, opts ...app.Option) *running {
	t.Helper()

	sigCh := make(chan os.Signal, 2)
	a, err := app.New(cfg, zerolog.Nop(),
		append(opts, app.WithServerOptions(httpserver.WithSignals(sigCh)))...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := &running{app: a, sigCh: sigCh, result: make(chan error, 1)}
	go func() { r.result <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.Server().State() == httpserver.StateListening
	}, 2*time.Second, 5*time.Millisecond)

	return r
}

var client = &http.Client{
	Timeout:   10 * time.Second,
	Transport: &http.Transport{DisableKeepAlives: true},
}

type result struct {
	status int
	body   string
	err    error
}

func get(url string) result {
	resp, err := client.Get(url)
	if err != nil {
		return result{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return result{status: resp.StatusCode, body: string(body), err: err}
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	a, err := app.New(testConfig(), zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "given root path, then returns welcome message",
			method:     http.MethodGet,
			path:       "/",
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"It's on DigitalOcean!"}`,
		},
		{
			name:       "given delayed path, then returns delayed message",
			method:     http.MethodGet,
			path:       "/delayed",
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"delayed response"}`,
		},
		{
			name:       "given unknown path, then returns 404 json",
			method:     http.MethodGet,
			path:       "/missing",
			wantStatus: http.StatusNotFound,
			wantBody:   `{"errors":[{"field":"path","message":"/missing"}],"message":"route not found"}`,
		},
		{
			name:       "given wrong method, then returns 405 json",
			method:     http.MethodPost,
			path:       "/",
			wantStatus: http.StatusMethodNotAllowed,
			wantBody:   `{"errors":[{"field":"method","message":"POST"}],"message":"method not allowed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}

	t.Run("given pprof disabled, then debug routes are absent", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDelayed_CancelledRequest(t *testing.T) {
	t.Parallel()

	t.Run("given client goes away, then handler returns early", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.ResponseDelay = time.Minute
		cfg.ShutdownTimeout = 2 * time.Minute
		a, err := app.New(cfg, zerolog.Nop())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		rec := httptest.NewRecorder()
		start := time.Now()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/delayed", nil).WithContext(ctx))

		assert.Less(t, time.Since(start), time.Second)
		assert.NotContains(t, rec.Body.String(), app.DelayedMessage)
	})
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("given root request, then returns message over the network", func(t *testing.T) {
		t.Parallel()

		r := startApp(t, testConfig())

		res := get(r.url("/"))
		require.NoError(t, res.err)
		assert.Equal(t, http.StatusOK, res.status)
		assert.JSONEq(t, `{"message":"It's on DigitalOcean!"}`, res.body)

		r.sigCh <- syscall.SIGTERM
		assert.Equal(t, app.ExitOK, app.ExitCode(r.wait(t)))
	})

	t.Run("given delayed request pending, then other requests are not blocked", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.ResponseDelay = time.Second
		r := startApp(t, cfg)

		delayed := make(chan result, 1)
		start := time.Now()
		go func() { delayed <- get(r.url("/delayed")) }()

		res := get(r.url("/"))
		require.NoError(t, res.err)
		assert.Equal(t, http.StatusOK, res.status)
		assert.Less(t, time.Since(start), cfg.ResponseDelay)

		res = <-delayed
		require.NoError(t, res.err)
		assert.JSONEq(t, `{"message":"delayed response"}`, res.body)
		assert.GreaterOrEqual(t, time.Since(start), cfg.ResponseDelay)

		r.sigCh <- syscall.SIGINT
		assert.NoError(t, r.wait(t))
	})

	t.Run("given signal during delayed request, then it completes and exit is clean", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.ResponseDelay = 500 * time.Millisecond
		r := startApp(t, cfg)
		addr := r.app.Server().Addr()

		delayed := make(chan result, 1)
		go func() { delayed <- get(r.url("/delayed")) }()
		require.Eventually(t, func() bool { return r.app.Server().ActiveConnections() > 0 },
			time.Second, 5*time.Millisecond)

		r.sigCh <- syscall.SIGTERM

		require.Eventually(t, func() bool {
			conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
			if err != nil {
				return true
			}
			_ = conn.Close()
			return false
		}, time.Second, 10*time.Millisecond, "new connections must be refused while draining")

		res := <-delayed
		require.NoError(t, res.err)
		assert.Equal(t, http.StatusOK, res.status)
		assert.JSONEq(t, `{"message":"delayed response"}`, res.body)

		err := r.wait(t)
		assert.NoError(t, err)
		assert.Equal(t, app.ExitOK, app.ExitCode(err))
		assert.Equal(t, httpserver.StateTerminated, r.app.Server().State())
	})

	t.Run("given two signals in quick succession, then shuts down once", func(t *testing.T) {
		t.Parallel()

		r := startApp(t, testConfig())

		r.sigCh <- syscall.SIGINT
		r.sigCh <- syscall.SIGTERM

		err := r.wait(t)
		assert.NoError(t, err)
		assert.Equal(t, app.ExitOK, app.ExitCode(err))
	})

	t.Run("given request outlives grace period, then exits with forced code", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.ResponseDelay = 5 * time.Second
		cfg.ShutdownTimeout = 10 * time.Second
		r := startApp(t, cfg, app.WithServerOptions(httpserver.WithShutdownTimeout(100*time.Millisecond)))

		delayed := make(chan result, 1)
		go func() { delayed <- get(r.url("/delayed")) }()
		require.Eventually(t, func() bool { return r.app.Server().ActiveConnections() > 0 },
			time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)

		r.sigCh <- syscall.SIGTERM

		err := r.wait(t)
		var shutdownErr *httpserver.ShutdownError
		require.ErrorAs(t, err, &shutdownErr)
		assert.Equal(t, app.ExitForcedShutdown, app.ExitCode(err))

		res := <-delayed
		assert.Error(t, res.err)
	})

	t.Run("given port already in use, then fails with bind error", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		t.Cleanup(func() { _ = ln.Close() })

		_, portStr, err := net.SplitHostPort(ln.Addr().String())
		require.NoError(t, err)
		port, err := strconv.Atoi(portStr)
		require.NoError(t, err)

		cfg := testConfig()
		cfg.Port = port

		err = app.Run(context.Background(), cfg, zerolog.Nop(),
			app.WithServerOptions(httpserver.WithSignals(make(chan os.Signal))))

		var bindErr *httpserver.BindError
		require.ErrorAs(t, err, &bindErr)
		assert.Equal(t, app.ExitFailure, app.ExitCode(err))
	})

	t.Run("given invalid config, then New fails", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.ShutdownTimeout = cfg.ResponseDelay

		_, err := app.New(cfg, zerolog.Nop())
		assert.ErrorIs(t, err, config.ErrInvalid)
		assert.Equal(t, app.ExitFailure, app.ExitCode(err))
	})
}

func TestRun_Readiness(t *testing.T) {
	t.Parallel()

	t.Run("given server draining, then readyz reports unavailable", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.ResponseDelay = 500 * time.Millisecond
		r := startApp(t, cfg)

		res := get(r.url("/readyz"))
		require.NoError(t, res.err)
		assert.Equal(t, http.StatusOK, res.status)

		go func() { _ = get(r.url("/delayed")) }()
		require.Eventually(t, func() bool { return r.app.Server().ActiveConnections() > 0 },
			time.Second, 5*time.Millisecond)

		r.sigCh <- syscall.SIGTERM
		require.Eventually(t, r.app.Server().ShuttingDown, time.Second, 5*time.Millisecond)

		// The listener is closed, so probe the handler directly.
		rec := httptest.NewRecorder()
		r.app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "listener")

		assert.NoError(t, r.wait(t))
	})
}

func TestRun_Metrics(t *testing.T) {
	t.Parallel()

	t.Run("given metrics enabled, then exposes request and lifecycle metrics", func(t *testing.T) {
		t.Parallel()

		registry := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		require.NoError(t, err)
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

		cfg := testConfig()
		cfg.MetricsEnabled = true
		r := startApp(t, cfg, app.WithGatherer(registry), app.WithMeterProvider(provider))

		require.NoError(t, get(r.url("/")).err)

		// The request is recorded after the response is flushed.
		var res result
		require.Eventually(t, func() bool {
			res = get(r.url("/metrics"))
			return res.err == nil && strings.Contains(res.body, "http_server_request_total")
		}, 2*time.Second, 20*time.Millisecond)
		assert.Equal(t, http.StatusOK, res.status)
		assert.Contains(t, res.body, "http_server_open_connections")

		r.sigCh <- syscall.SIGTERM
		assert.NoError(t, r.wait(t))
	})
}

func TestRun_RateLimit(t *testing.T) {
	t.Parallel()

	t.Run("given shared redis limiter, then excess requests get 429", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		cfg := testConfig()
		cfg.RateLimitRPS = 1
		cfg.RateLimitBurst = 1
		r := startApp(t, cfg, app.WithRedis(rdb))

		first := get(r.url("/"))
		require.NoError(t, first.err)
		assert.Equal(t, http.StatusOK, first.status)

		second := get(r.url("/"))
		require.NoError(t, second.err)
		assert.Equal(t, http.StatusTooManyRequests, second.status)

		keys := mr.Keys()
		require.Len(t, keys, 1)
		assert.Equal(t, "drain-test:ratelimit:127.0.0.1", keys[0])

		r.sigCh <- syscall.SIGTERM
		assert.NoError(t, r.wait(t))
	})

	t.Run("given redis down, then readiness fails but requests pass", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = rdb.Close() })
		mr.Close()

		cfg := testConfig()
		cfg.RateLimitRPS = 1
		cfg.RateLimitBurst = 1
		a, err := app.New(cfg, zerolog.Nop(), app.WithRedis(rdb))
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "redis")
	})
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "given nil, then 0", err: nil, want: 0},
		{name: "given bind error, then 1", err: &httpserver.BindError{Addr: ":80", Err: errors.New("permission denied")}, want: 1},
		{name: "given shutdown error, then 2", err: &httpserver.ShutdownError{Err: context.DeadlineExceeded}, want: 2},
		{
			name: "given wrapped shutdown error, then 2",
			err:  errors.Join(errors.New("serve"), &httpserver.ShutdownError{Err: context.DeadlineExceeded}),
			want: 2,
		},
		{name: "given other error, then 1", err: errors.New("boom"), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, app.ExitCode(tt.err))
		})
	}
}
