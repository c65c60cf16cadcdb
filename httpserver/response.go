package httpserver

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Response is the JSON envelope used by every endpoint.
//
// Empty fields are omitted, so a plain message renders as:
//
//	{"message": "It's on DigitalOcean!"}
//
// and a failure as:
//
//	{
//	  "errors": [{"field": "path", "message": "/missing"}],
//	  "message": "route not found"
//	}
type Response[T any] struct {
	Data    T       `json:"data,omitempty"`
	Errors  []Error `json:"errors,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Error represents a single field-level error.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// WriteJSON writes response as JSON with the given status code.
//
// Encoding errors are logged, not returned: the status line is already on the
// wire by then.
func WriteJSON[T any](w http.ResponseWriter, statusCode int, response Response[T]) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().
			Err(err).
			Int("status_code", statusCode).
			Msg("failed to encode JSON response")
	}
}

// WriteMessage writes a body that carries only a message.
//
//	httpserver.WriteMessage(w, http.StatusOK, "delayed response")
func WriteMessage(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, Response[any]{Message: message})
}

// WriteError writes a JSON error response.
//
//	httpserver.WriteError(w, http.StatusNotFound,
//	    "route not found",
//	    httpserver.Error{Field: "path", Message: r.URL.Path},
//	)
func WriteError(w http.ResponseWriter, statusCode int, message string, errors ...Error) {
	WriteJSON(w, statusCode, Response[any]{
		Errors:  errors,
		Message: message,
	})
}

// WriteSuccess writes a JSON response carrying data.
func WriteSuccess[T any](w http.ResponseWriter, statusCode int, data T, message string) {
	WriteJSON(w, statusCode, Response[T]{
		Data:    data,
		Message: message,
	})
}
