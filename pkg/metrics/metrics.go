// Package metrics exposes the Prometheus registry of the exporter.
// All metrics are defined in their respective packages (client, cache, ratelimit,
// pagination, tabular) and registered via promauto on the default registry.
//
// This package serves them over HTTP for the duration of a run and documents
// every available metric.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is where promauto registers every exporter metric.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects what Registry holds for /metrics.
var Gatherer = prometheus.DefaultGatherer

// NewHandler returns a router serving /metrics and /health. Scrapes of /metrics
// are themselves counted on Registry.
func NewHandler() http.Handler {
	metricsHandler := promhttp.InstrumentMetricHandler(Registry,
		promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Server is a running metrics listener.
type Server struct {
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// Serve starts the metrics listener on addr (":9090", "127.0.0.1:0").
func Serve(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", listener.Addr().String()).Msg("Metrics server failed")
		}
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("Metrics server listening")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the listener and waits for the serve loop to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - mcf_requests_total{status} (Counter): Requests by HTTP status, "cache", "network_error" or "circuit_open"
//   - mcf_request_duration_seconds (Histogram): Request duration
//   - mcf_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode, circuit_open, unexpected)
//   - mcf_circuit_breaker_state (Gauge): 0 closed, 1 half-open, 2 open
//
// Retry Metrics (pkg/client):
//   - mcf_retries_total{error_class} (Counter): Retry attempts by error class
//   - mcf_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - mcf_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Throttle Metrics (pkg/ratelimit):
//   - mcf_throttle_wait_seconds (Histogram): Time spent waiting for the limiter
//   - mcf_throttled_requests_total (Counter): Requests that had to wait
//
// Cache Metrics (pkg/cache):
//   - mcf_cache_hits_total (Counter): Cache hits
//   - mcf_cache_misses_total (Counter): Cache misses
//   - mcf_cache_stored_bytes_total (Counter): Bytes written to the cache
//   - mcf_cache_errors_total{operation} (Counter): Cache operation errors
//
// Pagination Metrics (pkg/pagination):
//   - mcf_pages_fetched_total (Counter): Pages fetched successfully
//   - mcf_pages_failed_total (Counter): Page fetches that aborted a run
//   - mcf_records_fetched_total (Counter): Records received
//   - mcf_fetch_progress_ratio (Gauge): Completed pages / total pages of the current run
//
// Output Metrics (pkg/tabular):
//   - mcf_csv_rows_written_total (Counter): Data rows written
//   - mcf_csv_writes_total{outcome} (Counter): Writes by outcome (written, noop, error)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(mcf_cache_hits_total[5m])) /
//   (sum(rate(mcf_cache_hits_total[5m])) + sum(rate(mcf_cache_misses_total[5m])))
//
//   # Request Error Rate
//   rate(mcf_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(mcf_request_duration_seconds_bucket[5m]))
