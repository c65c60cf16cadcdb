// Package httpserver runs an HTTP listener with a well-defined shutdown
// lifecycle.
//
// A Server moves through four states:
//
//	Starting -> Listening -> Draining -> Terminated
//
// Start binds the listener; a bind failure is returned as *BindError and the
// server goes straight to Terminated. The first Shutdown closes the listener
// so new connections are refused, lets accepted requests finish within the
// grace period (Config.ShutdownTimeout), and force-closes whatever is left,
// returning *ShutdownError in that case. Further Shutdown calls are no-ops
// that wait for the first.
//
// # Quick Start
//
//	router := chi.NewRouter()
//	router.Get("/", homeHandler)
//
//	server := httpserver.New(
//	    httpserver.WithServiceName("my-api"),
//	    httpserver.WithHandler(router),
//	)
//
//	// Blocks until SIGINT/SIGTERM or ctx cancellation, then drains.
//	if err := server.ListenAndServe(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Signals
//
// ListenAndServe subscribes to SIGINT and SIGTERM itself. To manage the
// subscription explicitly, for example to watch several servers:
//
//	sigCh, stop := httpserver.NotifySignals()
//	defer stop()
//
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	return httpserver.WatchSignals(ctx, server, sigCh)
//
// # Handler Errors
//
// Handlers that can fail return an error through Handle. The error becomes a
// JSON error response for that request only; panics are turned into a 500 by
// the always-installed Recovery middleware.
//
//	router.Method(http.MethodGet, "/orders", httpserver.Handle(getOrder))
//
// # Observability
//
// The server's ServiceName flows into every component:
//
//	var health *httpserver.HealthHandler
//	server := httpserver.New(
//	    httpserver.WithServiceName("payment-api"),
//	    httpserver.WithTracing(httpserver.TracingConfig{}),
//	    httpserver.WithMetrics(httpserver.MetricsConfig{}),
//	    httpserver.WithLogging(httpserver.LoggerConfig{Logger: logger}),
//	    httpserver.WithHealth(&health, "1.0.0"),
//	    httpserver.WithHandler(router),
//	)
//
//	router.Handle("/readyz", health.ReadyHandler()) // 503 once draining
package httpserver
