package httpserver

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Server owns a bound listener and drives it through the lifecycle
// Starting -> Listening -> Draining -> Terminated.
//
// The listener is exclusively owned by the Server: Start binds it and the
// first Shutdown closes it. Shutdown is idempotent, so every termination
// signal can simply call it.
//
//	server := httpserver.New(
//	    httpserver.WithConfig(httpserver.ProductionConfig()),
//	    httpserver.WithServiceName("my-api"),
//	    httpserver.WithHandler(mux),
//	)
//
//	// Blocks until SIGTERM/SIGINT or ctx cancellation, then drains.
//	if err := server.ListenAndServe(ctx); err != nil {
//	    log.Fatal(err)
//	}
type Server struct {
	httpServer  *http.Server
	config      Config
	logger      zerolog.Logger
	serviceName string
	metrics     *Metrics

	// mu serializes the Starting->Listening and Listening->Draining
	// transitions against each other.
	mu       sync.Mutex
	state    atomic.Int32
	listener net.Listener

	started      atomic.Bool
	shuttingDown atomic.Bool
	activeConns  atomic.Int64

	serveErr  chan error
	serveDone chan struct{}
	done      chan struct{}
	err       error
}

// New creates a new Server with the provided options.
//
// If no config is provided, DefaultConfig() is used. The handler is wrapped
// with the built-in stack, outermost first:
//
//	RequestID -> Tracing -> Metrics -> Logging -> Recovery -> RateLimit -> Middleware... -> Handler
//
// RequestID and Recovery are always installed; the others only when configured.
func New(opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "http-server"
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	logger := cfg.Logger

	s := &Server{
		config:      cfg,
		logger:      logger,
		serviceName: cfg.ServiceName,
		serveErr:    make(chan error, 1),
		serveDone:   make(chan struct{}),
		done:        make(chan struct{}),
	}

	middlewares := []Middleware{RequestID()}

	if cfg.TracingConfig != nil {
		tracingCfg := *cfg.TracingConfig
		tracingCfg.serviceName = cfg.ServiceName
		middlewares = append(middlewares, Tracing(tracingCfg))
	}

	if cfg.MetricsConfig != nil {
		metricsCfg := *cfg.MetricsConfig
		metricsCfg.serviceName = cfg.ServiceName
		metrics, err := NewMetrics(metricsCfg)
		if err != nil {
			logger.Warn().Err(err).Msg("metrics disabled: failed to create instruments")
		} else {
			s.metrics = metrics
			middlewares = append(middlewares, metrics.Middleware(metricsCfg.SkipPaths...))
		}
	}

	if cfg.LoggerConfig != nil {
		loggerCfg := *cfg.LoggerConfig
		loggerCfg.serviceName = cfg.ServiceName
		middlewares = append(middlewares, Logger(loggerCfg))
	}

	middlewares = append(middlewares, Recovery(logger))

	if cfg.RateLimitConfig != nil {
		middlewares = append(middlewares, RateLimit(*cfg.RateLimitConfig))
	}

	middlewares = append(middlewares, cfg.Middleware...)

	if cfg.HealthHandler != nil {
		health := NewHealthHandler(
			withHealthServiceName(cfg.ServiceName),
			WithVersion(cfg.HealthVersion),
		)
		health.AddReadinessCheck("listener", s.readinessCheck)
		*cfg.HealthHandler = health
	}

	handler := cfg.Handler
	if handler != nil {
		handler = Chain(middlewares...)(handler)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ConnState:         s.trackConn,
		ErrorLog:          newErrorLog(logger),
	}

	return s
}

// Start binds the listener and begins serving in the background.
//
// A bind failure is fatal for this Server: it returns a *BindError and the
// server moves to StateTerminated. Start never retries.
func (s *Server) Start(ctx context.Context) error {
	if s.config.Handler == nil {
		return ErrNoHandler
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Shutdown before Start already terminated the server.
	if s.State() != StateStarting {
		return http.ErrServerClosed
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		bindErr := &BindError{Addr: s.config.Addr, Err: err}
		s.logger.Error().
			Err(err).
			Str("addr", s.config.Addr).
			Str("service", s.serviceName).
			Msg("failed to bind listener")

		s.terminate(bindErr)
		return bindErr
	}

	s.listener = ln
	s.setState(StateListening)

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("service", s.serviceName).
		Msg("server listening")

	go s.serve(ln)
	return nil
}

// serve runs the accept loop until the listener is closed.
func (s *Server) serve(ln net.Listener) {
	defer close(s.serveDone)

	// ErrServerClosed is the normal result of Shutdown or Close.
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.serveErr <- err
	}
}

// ListenAndServe binds the listener and blocks until the server terminates.
//
// Shutdown is triggered by the first of:
//   - SIGTERM or SIGINT (or a value on Config.Signals)
//   - cancellation of ctx
//   - an unexpected accept-loop error
//
// Returns nil after a clean drain, a *BindError if the listener could not be
// bound, or a *ShutdownError if the grace period elapsed.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	sigCh := s.config.Signals
	if sigCh == nil {
		ch, stop := NotifySignals()
		defer stop()
		sigCh = ch
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return WatchSignals(gctx, s, sigCh)
	})

	g.Go(func() error {
		select {
		case err := <-s.serveErr:
			s.logger.Error().Err(err).Msg("server error")
			if shutdownErr := s.Shutdown(context.WithoutCancel(ctx), "serve error"); shutdownErr != nil {
				return errors.Join(err, shutdownErr)
			}
			return err
		case <-ctx.Done():
			return s.Shutdown(context.WithoutCancel(ctx), "context canceled")
		case <-s.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return s.Wait()
}

// Shutdown stops the server gracefully.
//
// The first call moves the server to StateDraining, closes the listener so new
// connections are refused, and waits up to ShutdownTimeout for in-flight
// requests. If the grace period elapses, remaining connections are closed and
// a *ShutdownError is returned. Either way the server ends in StateTerminated.
//
// Later calls do not start anything new: they wait for the first call to
// finish (or for ctx to end) and return its result. reason is logged, usually
// the name of the signal that triggered shutdown.
//
// Cancelling ctx does not shorten the grace period of the first call.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		s.logger.Debug().
			Str("signal", reason).
			Str("state", s.State().String()).
			Msg("shutdown already in progress, ignoring")

		select {
		case <-s.done:
			return s.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	switch s.State() {
	case StateListening:
		s.setState(StateDraining)
	case StateStarting:
		// Never bound, nothing to drain.
		s.terminate(nil)
		s.mu.Unlock()
		return nil
	default:
		// Bind failed; Start already terminated the server.
		s.mu.Unlock()
		return s.err
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("signal", reason).
		Dur("timeout", s.config.ShutdownTimeout).
		Int64("open_connections", s.ActiveConnections()).
		Msg("shutdown initiated")

	start := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()

	stopProgress := make(chan struct{})
	go s.reportDrain(stopProgress)

	err := s.httpServer.Shutdown(shutdownCtx)
	close(stopProgress)

	if err != nil {
		s.logger.Error().
			Err(err).
			Int64("open_connections", s.ActiveConnections()).
			Msg("graceful shutdown timed out, forcing close")

		if closeErr := s.httpServer.Close(); closeErr != nil {
			s.logger.Error().Err(closeErr).Msg("force close failed")
		}
		<-s.serveDone

		s.metrics.recordShutdown(ctx, "forced", time.Since(start))
		shutdownErr := &ShutdownError{Timeout: s.config.ShutdownTimeout, Err: err}
		s.terminate(shutdownErr)
		return shutdownErr
	}

	<-s.serveDone

	s.metrics.recordShutdown(ctx, "graceful", time.Since(start))
	s.logger.Info().
		Dur("elapsed", time.Since(start)).
		Msg("server stopped gracefully")

	s.terminate(nil)
	return nil
}

// terminate records the final result and releases everyone blocked in Wait,
// Done or a repeated Shutdown. It must run exactly once.
func (s *Server) terminate(err error) {
	s.err = err
	s.setState(StateTerminated)
	close(s.done)
}

// reportDrain logs the number of open connections every DrainInterval until
// stop is closed.
func (s *Server) reportDrain(stop <-chan struct{}) {
	if s.config.DrainInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.logger.Debug().
				Int64("open_connections", s.ActiveConnections()).
				Msg("draining connections")
		}
	}
}

// trackConn is installed as http.Server.ConnState.
func (s *Server) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.activeConns.Add(1)
		s.metrics.connectionOpened()
	case http.StateClosed, http.StateHijacked:
		s.activeConns.Add(-1)
		s.metrics.connectionClosed()
	}
}

func (s *Server) readinessCheck(_ context.Context) error {
	if s.State() != StateListening {
		return ErrNotListening
	}
	return nil
}

func (s *Server) setState(state State) {
	s.state.Store(int32(state))
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// ShuttingDown reports whether shutdown has begun. Once true it stays true.
func (s *Server) ShuttingDown() bool {
	return s.State() >= StateDraining
}

// Done returns a channel that is closed when the server reaches StateTerminated.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the server terminates and returns the reason it stopped
// abnormally: a *BindError, a *ShutdownError, or nil after a clean drain.
func (s *Server) Wait() error {
	<-s.done
	return s.err
}

// ActiveConnections returns the number of open client connections, idle
// keep-alive connections included.
func (s *Server) ActiveConnections() int64 {
	return s.activeConns.Load()
}

// Addr returns the bound listener address once the server is listening, and
// the configured address before that. With port 0 this is how callers find
// the port the OS picked.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// ServiceName returns the configured service name.
func (s *Server) ServiceName() string {
	return s.serviceName
}

// newErrorLog routes net/http's internal errors (accept failures, TLS
// handshake noise, panics in handlers without Recovery) to the lifecycle logger.
func newErrorLog(logger zerolog.Logger) *log.Logger {
	return log.New(logger.With().Str("component", "net/http").Logger(), "", 0)
}
