package httpserver

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoHandler is returned by Start when no handler was configured.
	ErrNoHandler = errors.New("httpserver: handler is required (use WithHandler)")

	// ErrServerStarted is returned when Start is called more than once.
	ErrServerStarted = errors.New("httpserver: server already started")

	// ErrNotListening is reported by the readiness check once the server has
	// left the Listening state.
	ErrNotListening = errors.New("httpserver: server is not accepting connections")
)

// BindError is returned when the listener cannot be bound, typically because
// the address is already in use or the process lacks permission for the port.
//
// A bind failure is not retried. The server moves straight to StateTerminated.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("httpserver: bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// ShutdownError is returned when in-flight requests did not finish within the
// grace period and the remaining connections had to be closed forcibly.
type ShutdownError struct {
	Timeout time.Duration
	Err     error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("httpserver: graceful shutdown exceeded %s: %v", e.Timeout, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}
