// Package metrics provides the Prometheus registry and HTTP handler for the
// legacy adapter. All metrics are defined in their respective packages
// (cache, client, breaker, adapter, events) with promauto to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the adapter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - legacy_cache_hits_total{namespace} (Counter): Cache hits
//   - legacy_cache_misses_total{namespace} (Counter): Cache misses, expired entries included
//   - legacy_cache_expired_total{namespace} (Counter): Entries removed by the read that found them expired
//   - legacy_cache_entries{namespace} (Gauge): Live entries
//
// Request Metrics (pkg/client):
//   - legacy_requests_total{route, status} (Counter): Upstream requests by route and HTTP status
//   - legacy_request_duration_seconds{route} (Histogram): Upstream request duration
//   - legacy_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - legacy_retries_total{error_class} (Counter): Retry attempts by error class
//   - legacy_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - legacy_retry_exhausted_total{error_class} (Counter): Calls that exhausted max attempts
//
// Circuit Breaker Metrics (pkg/breaker):
//   - legacy_circuit_state{name} (Gauge): 0 closed, 1 open, 2 half-open
//   - legacy_circuit_rejections_total{name} (Counter): Calls refused without contacting the upstream
//   - legacy_circuit_transitions_total{name, to} (Counter): State transitions
//
// Adapter Metrics (pkg/adapter):
//   - legacy_adapter_fetch_total{adapter, op, result} (Counter): Fetches by result (hit, loaded, stale, rejected, error)
//   - legacy_adapter_fetch_duration_seconds{adapter, op} (Histogram): Fetch latency seen by callers
//   - legacy_adapter_coalesced_total{adapter, op} (Counter): Fetches that shared an in-flight call
//   - legacy_adapter_transform_errors_total{adapter} (Counter): Records that could not be transformed
//
// Event Bus Metrics (pkg/events):
//   - legacy_events_published_total{bus} (Counter): Published events
//   - legacy_events_dropped_total{bus} (Counter): Events dropped by drop-oldest subscribers
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(legacy_cache_hits_total[5m])) /
//   (sum(rate(legacy_cache_hits_total[5m])) + sum(rate(legacy_cache_misses_total[5m])))
//
//   # Open Circuits
//   legacy_circuit_state == 1
//
//   # Upstream Error Rate
//   rate(legacy_errors_total[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(legacy_request_duration_seconds_bucket[5m]))
