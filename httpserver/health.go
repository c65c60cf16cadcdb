package httpserver

import (
	"context"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is usable. Return nil when healthy.
type HealthCheck func(ctx context.Context) error

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status              string `json:"status"`
	Latency             string `json:"latency"`
	Message             string `json:"message,omitempty"`
	LastChecked         string `json:"last_checked"`
	ConsecutiveSuccess  int    `json:"consecutive_successes,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
}

// HealthResponse is the body of /livez and /readyz.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime,omitempty"`
	Hostname  string                 `json:"hostname,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// PingResponse is the body of /ping.
type PingResponse struct {
	Status string `json:"status"`
}

type checkState struct {
	check               HealthCheck
	consecutiveSuccess  int
	consecutiveFailures int
}

// HealthHandler serves /ping, /livez and /readyz.
//
// A handler created through WithHealth already carries a "listener" readiness
// check that fails once the server is draining.
//
//	health.AddReadinessCheck("redis", func(ctx context.Context) error {
//	    return rdb.Ping(ctx).Err()
//	})
//
//	mux.Handle("/ping", health.PingHandler())
//	mux.Handle("/livez", health.LiveHandler())
//	mux.Handle("/readyz", health.ReadyHandler())
type HealthHandler struct {
	serviceName  string
	version      string
	startTime    time.Time
	hostname     string
	checkTimeout time.Duration

	mu              sync.Mutex
	livenessChecks  map[string]*checkState
	readinessChecks map[string]*checkState
}

// HealthOption configures the HealthHandler.
type HealthOption func(*HealthHandler)

func withHealthServiceName(name string) HealthOption {
	return func(h *HealthHandler) {
		h.serviceName = name
	}
}

// WithVersion sets the version reported in health responses.
func WithVersion(version string) HealthOption {
	return func(h *HealthHandler) {
		h.version = version
	}
}

// WithCheckTimeout bounds each individual check (default: 2s).
func WithCheckTimeout(d time.Duration) HealthOption {
	return func(h *HealthHandler) {
		h.checkTimeout = d
	}
}

// NewHealthHandler creates a HealthHandler. Prefer WithHealth when the handler
// belongs to a Server.
func NewHealthHandler(opts ...HealthOption) *HealthHandler {
	hostname, _ := os.Hostname()

	h := &HealthHandler{
		serviceName:     "unknown",
		version:         "0.0.0",
		startTime:       time.Now(),
		hostname:        hostname,
		checkTimeout:    defaultCheckTimeout,
		livenessChecks:  make(map[string]*checkState),
		readinessChecks: make(map[string]*checkState),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// AddLivenessCheck registers a check for /livez. Failing liveness gets the
// process restarted, so keep these to process-level conditions.
func (h *HealthHandler) AddLivenessCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.livenessChecks[name] = &checkState{check: check}
}

// AddReadinessCheck registers a check for /readyz. Failing readiness only
// takes the instance out of rotation.
func (h *HealthHandler) AddReadinessCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessChecks[name] = &checkState{check: check}
}

// PingHandler always answers 200 without running checks.
func (h *HealthHandler) PingHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteSuccess(w, http.StatusOK, PingResponse{Status: "pong"}, "")
	})
}

// LiveHandler answers 200 when every liveness check passes, 503 otherwise.
func (h *HealthHandler) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveChecks(w, r, h.livenessChecks)
	})
}

// ReadyHandler answers 200 when every readiness check passes, 503 otherwise.
func (h *HealthHandler) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveChecks(w, r, h.readinessChecks)
	})
}

func (h *HealthHandler) serveChecks(
	w http.ResponseWriter,
	r *http.Request,
	checks map[string]*checkState,
) {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]CheckResult, len(checks))
	var failures []Error

	for _, name := range names {
		state := checks[name]

		ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
		start := time.Now()
		err := state.check(ctx)
		latency := time.Since(start)
		cancel()

		result := CheckResult{
			Latency:     latency.String(),
			LastChecked: now.Format(time.RFC3339),
		}

		if err != nil {
			state.consecutiveFailures++
			state.consecutiveSuccess = 0

			result.Status = "fail"
			result.Message = err.Error()
			result.ConsecutiveFailures = state.consecutiveFailures

			failures = append(failures, Error{Field: name, Message: err.Error()})
		} else {
			state.consecutiveSuccess++
			state.consecutiveFailures = 0

			result.Status = "ok"
			result.ConsecutiveSuccess = state.consecutiveSuccess
		}

		results[name] = result
	}

	status, code, message := "ok", http.StatusOK, "all checks passed"
	if len(failures) > 0 {
		status, code, message = "fail", http.StatusServiceUnavailable, "one or more checks failed"
	}

	WriteJSON(w, code, Response[HealthResponse]{
		Data: HealthResponse{
			Status:    status,
			Service:   h.serviceName,
			Version:   h.version,
			Uptime:    time.Since(h.startTime).Round(time.Second).String(),
			Hostname:  h.hostname,
			Timestamp: now.Format(time.RFC3339),
			Checks:    results,
		},
		Errors:  failures,
		Message: message,
	})
}
