package httpserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusHandler serves the default Prometheus registry.
//
//	mux.Handle("/metrics", httpserver.PrometheusHandler())
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// PrometheusHandlerFor serves a specific gatherer, typically the registry the
// OpenTelemetry Prometheus exporter was attached to. A nil gatherer falls back
// to prometheus.DefaultGatherer.
func PrometheusHandlerFor(gatherer prometheus.Gatherer, opts promhttp.HandlerOpts) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, opts)
}
