package httpserver

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultMaxBodyLogSize = 4 * 1024 // 4KB

// LoggerConfig configures the request logging middleware.
type LoggerConfig struct {
	Logger zerolog.Logger

	// serviceName is set by the server.
	serviceName string

	// SkipPaths are not logged. Typically probes and /metrics.
	SkipPaths []string

	// SlowThreshold logs requests that take longer at Warn level, even when
	// they succeed. Zero disables it.
	SlowThreshold time.Duration

	// LogRequestBody and LogResponseBody add bounded copies of the bodies to
	// the log entry. Development only.
	LogRequestBody  bool
	LogResponseBody bool

	// MaxBodyLogSize bounds logged bodies (default: 4KB).
	MaxBodyLogSize int
}

// Logger returns middleware that writes one log entry per completed request.
//
// Level is Info for 2xx/3xx, Warn for 4xx or requests slower than
// SlowThreshold, Error for 5xx.
//
//	handler := httpserver.Logger(httpserver.LoggerConfig{
//	    Logger:    logger,
//	    SkipPaths: []string{"/livez", "/readyz", "/ping"},
//	})(myHandler)
func Logger(cfg LoggerConfig) Middleware {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skip[path] = struct{}{}
	}

	maxBody := cfg.MaxBodyLogSize
	if maxBody <= 0 {
		maxBody = defaultMaxBodyLogSize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			var requestBody []byte
			if cfg.LogRequestBody && r.Body != nil {
				requestBody, _ = io.ReadAll(io.LimitReader(r.Body, int64(maxBody)))
				r.Body = readCloser{
					Reader: io.MultiReader(bytes.NewReader(requestBody), r.Body),
					Closer: r.Body,
				}
			}

			wrapped := wrapResponseWriter(w)
			if cfg.LogResponseBody {
				wrapped.bodyBuffer = &bytes.Buffer{}
				wrapped.maxBodySize = maxBody
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			status := wrapped.Status()

			var event *zerolog.Event
			switch {
			case status >= http.StatusInternalServerError:
				event = cfg.Logger.Error()
			case status >= http.StatusBadRequest:
				event = cfg.Logger.Warn()
			case cfg.SlowThreshold > 0 && duration > cfg.SlowThreshold:
				event = cfg.Logger.Warn().Bool("slow", true)
			default:
				event = cfg.Logger.Info()
			}

			event.
				Str("service", cfg.serviceName).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", duration).
				Int("bytes", wrapped.BytesWritten()).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent())

			if id := RequestIDFromContext(r.Context()); id != "" {
				event.Str("request_id", id)
			}
			if len(requestBody) > 0 {
				event.Bytes("request_body", requestBody)
			}
			if wrapped.bodyBuffer != nil && wrapped.bodyBuffer.Len() > 0 {
				event.Bytes("response_body", wrapped.bodyBuffer.Bytes())
			}

			event.Msg("request completed")
		})
	}
}

// readCloser re-attaches the original body's Close to a replayed reader.
type readCloser struct {
	io.Reader
	io.Closer
}
