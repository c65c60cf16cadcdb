package httpserver

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc picks the rate limiting bucket for a request. Requests with the
// same key share a bucket.
type KeyFunc func(r *http.Request) string

// KeyFuncByIP keys by client IP: the first X-Forwarded-For entry when
// present (reverse proxy setups), the RemoteAddr host otherwise.
//
// Only trust X-Forwarded-For behind a proxy that overwrites it.
func KeyFuncByIP() KeyFunc {
	return clientIP
}

// KeyFuncByPath keys by URL path, so every endpoint has one bucket shared by
// all clients.
func KeyFuncByPath() KeyFunc {
	return func(r *http.Request) string {
		return r.URL.Path
	}
}

// KeyFuncByIPAndPath gives each client IP its own bucket per endpoint.
func KeyFuncByIPAndPath() KeyFunc {
	return func(r *http.Request) string {
		return clientIP(r) + ":" + r.URL.Path
	}
}

// KeyFuncByHeader keys by a request header such as a tenant ID or API key.
func KeyFuncByHeader(header string) KeyFunc {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
