// Package metrics exposes the Prometheus metrics of the client.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination) and registered via promauto with the default registerer.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer every client metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics and /health on addr.
// The caller starts it with ListenAndServe and stops it with Shutdown.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit), label guard="memory"|"redis":
//   - ac_ratelimit_admissions_total (Counter): Admitted requests
//   - ac_ratelimit_wait_seconds (Histogram): Time spent waiting for admission
//   - ac_ratelimit_cancelled_total (Counter): Admissions abandoned on cancellation
//
// Request Metrics (pkg/client):
//   - ac_requests_total{endpoint, status} (Counter): HTTP attempts by endpoint and status
//   - ac_request_duration_seconds{endpoint} (Histogram): Logical request duration including retries
//   - ac_errors_total{class} (Counter): Failed attempts by class (client, server, rate_limit, network, unexpected)
//
// Retry Metrics (pkg/client):
//   - ac_retries_total{error_class} (Counter): Retry attempts by error class
//   - ac_retry_exhausted_total{error_class} (Counter): Requests that exhausted a bounded retry policy
//
// Fetch Metrics (pkg/pagination), label resource:
//   - ac_pages_fetched_total (Counter): Pages received
//   - ac_fetch_duration_seconds (Histogram): Duration of complete collection fetches
//   - ac_fetch_errors_total (Counter): Aborted or cancelled fetches
//
// Example Prometheus Queries:
//
//   # Admission wait P95 (how hard the quota is pushing back)
//   histogram_quantile(0.95, rate(ac_ratelimit_wait_seconds_bucket[5m]))
//
//   # Retry rate by class
//   sum by (error_class) (rate(ac_retries_total[5m]))
//
//   # Pages per second per resource
//   rate(ac_pages_fetched_total[1m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(ac_request_duration_seconds_bucket[5m]))
