package httpserver

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Recovery returns middleware that turns a handler panic into a 500 for that
// request only. The server, and every other in-flight request, keep running.
//
// http.ErrAbortHandler is re-panicked: net/http uses it to abort a response
// deliberately and handles it silently.
func Recovery(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := wrapResponseWriter(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				event := logger.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack())
				if id := RequestIDFromContext(r.Context()); id != "" {
					event.Str("request_id", id)
				}
				event.Msg("panic recovered")

				if wrapped.WroteHeader() {
					// Too late for a clean error response; drop the connection.
					panic(http.ErrAbortHandler)
				}
				WriteError(wrapped, http.StatusInternalServerError,
					"internal server error",
					Error{Field: "server", Message: "an unexpected error occurred"},
				)
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}
