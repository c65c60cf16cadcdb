package httpserver

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
)

// responseWriter records the status code and size of a response, and
// optionally a bounded copy of the body for request logging.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int
	wroteHeader  bool

	bodyBuffer  *bytes.Buffer
	maxBodySize int
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n

	if rw.bodyBuffer != nil {
		if room := rw.maxBodySize - rw.bodyBuffer.Len(); room > 0 {
			rw.bodyBuffer.Write(b[:min(n, room)])
		}
	}
	return n, err
}

// Status returns the status code sent, or 200 if none was set explicitly.
func (rw *responseWriter) Status() int {
	return rw.status
}

// BytesWritten returns the number of body bytes written.
func (rw *responseWriter) BytesWritten() int {
	return rw.bytesWritten
}

// WroteHeader reports whether the status line has been sent.
func (rw *responseWriter) WroteHeader() bool {
	return rw.wroteHeader
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		if !rw.wroteHeader {
			rw.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
