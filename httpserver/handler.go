package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandlerFunc is an HTTP handler that can fail.
//
// Use Handle to adapt it to http.Handler. A returned error only affects the
// request that produced it.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// StatusError attaches an HTTP status code to a handler error.
type StatusError struct {
	Code int
	Err  error
}

// NewStatusError wraps err so Handle responds with code.
func NewStatusError(code int, err error) error {
	return &StatusError{Code: code, Err: err}
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Handle adapts a HandlerFunc to http.Handler.
//
// On error:
//   - *StatusError: responds with its code and message
//   - context.Canceled: the client went away, nothing is written
//   - anything else: 500 with a generic message, the error is logged
//
// If the handler already started the response, the error is only logged.
//
//	mux.Handle("/orders", httpserver.Handle(func(w http.ResponseWriter, r *http.Request) error {
//	    order, err := store.Get(r.Context(), r.URL.Query().Get("id"))
//	    if errors.Is(err, store.ErrNotFound) {
//	        return httpserver.NewStatusError(http.StatusNotFound, err)
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    httpserver.WriteSuccess(w, http.StatusOK, order, "")
//	    return nil
//	}))
func Handle(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := wrapResponseWriter(w)

		err := h(wrapped, r)
		if err == nil {
			return
		}

		if errors.Is(err, context.Canceled) {
			// Nobody is left to read the response.
			handlerErrorEvent(log.Debug(), r, err).Msg("handler canceled")
			return
		}

		if wrapped.WroteHeader() {
			handlerErrorEvent(log.Error(), r, err).Msg("handler failed after writing response")
			return
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			handlerErrorEvent(log.Warn(), r, err).Int("status", statusErr.Code).Msg("handler returned error")
			WriteError(wrapped, statusErr.Code, http.StatusText(statusErr.Code),
				Error{Field: "request", Message: statusErr.Error()})
			return
		}

		handlerErrorEvent(log.Error(), r, err).
			Int("status", http.StatusInternalServerError).
			Msg("handler returned error")
		WriteError(wrapped, http.StatusInternalServerError, "internal server error",
			Error{Field: "server", Message: "an unexpected error occurred"})
	})
}

func handlerErrorEvent(event *zerolog.Event, r *http.Request, err error) *zerolog.Event {
	event = event.
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path)
	if id := RequestIDFromContext(r.Context()); id != "" {
		event = event.Str("request_id", id)
	}
	return event
}
