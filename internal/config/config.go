// Package config loads the service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for every variable Load reads.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultServiceName     = "sentinel-drain"
	DefaultResponseDelay   = 60 * time.Second
	DefaultShutdownTimeout = 90 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
)

// LogFormat values.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the service configuration.
type Config struct {
	Host        string
	Port        int
	ServiceName string
	Version     string

	// ResponseDelay is how long /delayed waits before answering.
	ResponseDelay time.Duration

	// ShutdownTimeout is the drain grace period. It must exceed ResponseDelay,
	// otherwise a pending /delayed request is cut off on every shutdown.
	ShutdownTimeout time.Duration

	LogLevel  zerolog.Level
	LogFormat string

	MetricsEnabled bool
	PprofEnabled   bool

	// RateLimitRPS enables per-IP rate limiting when positive.
	RateLimitRPS   float64
	RateLimitBurst int

	// RedisAddr shares rate limit buckets across instances when set.
	RedisAddr string

	// OTLPEndpoint enables OTLP/gRPC trace export when set.
	OTLPEndpoint string
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup reads the configuration through lookup, which has the signature
// of os.LookupEnv. Unset and empty variables take their default.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	env := envReader{lookup: lookup}

	cfg := Config{
		Host:            env.str("HOST", DefaultHost),
		Port:            env.int("PORT", DefaultPort),
		ServiceName:     env.str("SERVICE_NAME", DefaultServiceName),
		Version:         env.str("VERSION", "0.0.0"),
		ResponseDelay:   env.duration("RESPONSE_DELAY", DefaultResponseDelay),
		ShutdownTimeout: env.duration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
		LogFormat:       strings.ToLower(env.str("LOG_FORMAT", DefaultLogFormat)),
		MetricsEnabled:  env.bool("METRICS_ENABLED", true),
		PprofEnabled:    env.bool("PPROF_ENABLED", false),
		RateLimitRPS:    env.float("RATE_LIMIT_RPS", 0),
		RedisAddr:       env.str("REDIS_ADDR", ""),
		OTLPEndpoint:    env.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
	cfg.RateLimitBurst = env.int("RATE_LIMIT_BURST", int(2*cfg.RateLimitRPS))

	level, err := zerolog.ParseLevel(strings.ToLower(env.str("LOG_LEVEL", DefaultLogLevel)))
	if err != nil {
		env.errs = append(env.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.ResponseDelay < 0 {
		errs = append(errs, fmt.Errorf("RESPONSE_DELAY %s is negative", c.ResponseDelay))
	}
	if c.ShutdownTimeout <= c.ResponseDelay {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT %s must exceed RESPONSE_DELAY %s",
			c.ShutdownTimeout, c.ResponseDelay))
	}
	if c.LogFormat != LogFormatJSON && c.LogFormat != LogFormatConsole {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be %q or %q",
			c.LogFormat, LogFormatJSON, LogFormatConsole))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS %v is negative", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST %d must be at least 1", c.RateLimitBurst))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Addr is the listen address, host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// WriteTimeout leaves headroom after ResponseDelay so /delayed can write its
// response.
func (c Config) WriteTimeout() time.Duration {
	return c.ResponseDelay + 15*time.Second
}

// NewLogger builds the process logger writing to w.
func (c Config) NewLogger(w io.Writer) zerolog.Logger {
	if c.LogFormat == LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(c.LogLevel).
		With().
		Timestamp().
		Str("service", c.ServiceName).
		Logger()
}

// envReader collects parse errors so Load reports all of them at once.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.get(key); ok {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e *envReader) bool(key string, def bool) bool {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
