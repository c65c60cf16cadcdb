package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kroma-labs/sentinel-drain/internal/app"
	"github.com/kroma-labs/sentinel-drain/internal/config"
	"github.com/kroma-labs/sentinel-drain/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return app.ExitFailure
	}

	logger := cfg.NewLogger(os.Stdout)
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	ctx := context.Background()

	// 1. Telemetry: Prometheus-backed metrics, OTLP traces when configured
	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to set up telemetry")
		return app.ExitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	opts := []app.Option{
		app.WithGatherer(tel.Registry),
		app.WithMeterProvider(tel.MeterProvider),
	}
	if tel.TracingEnabled() {
		opts = append(opts, app.WithTracerProvider(tel.TracerProvider))
	}

	// 2. Serve until SIGINT/SIGTERM, then drain
	err = app.Run(ctx, cfg, logger, opts...)

	code := app.ExitCode(err)
	if err != nil {
		logger.Error().Err(err).Int("exit_code", code).Msg("server exited with error")
	}
	return code
}
