// Package metrics exposes Prometheus metrics on a dedicated listener,
// separate from the API listener so scrapes never compete with API traffic.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves the registry on /metrics.
type MetricsServer struct {
	srv      *http.Server
	registry *prometheus.Registry
}

// New creates a metrics server with Go runtime and process collectors
// pre-registered.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:        listenAddr,
			Handler:     mux,
			ReadTimeout: 5 * time.Second,
		},
		registry: registry,
	}, nil
}

// Registry returns the underlying registry for component metrics.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

// ListenAndServe blocks serving metrics until shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
