// Package metrics documents the Prometheus metrics of the ArcGIS client and
// exposes them over HTTP.
// All metrics are defined in their respective packages (client, cache, pagination)
// to maintain modularity and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer all client metrics are registered with.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Names lists every metric family the client exports.
var Names = []string{
	"arcgis_requests_total",
	"arcgis_request_duration_seconds",
	"arcgis_errors_total",
	"arcgis_retries_total",
	"arcgis_retry_backoff_seconds",
	"arcgis_retry_exhausted_total",
	"arcgis_query_pages_total",
	"arcgis_query_duration_seconds",
	"arcgis_metadata_cache_hits_total",
	"arcgis_metadata_cache_misses_total",
	"arcgis_metadata_cache_errors_total",
}

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - arcgis_requests_total{endpoint, status} (Counter): HTTP attempts by endpoint (query, metadata) and outcome
//   - arcgis_request_duration_seconds{endpoint} (Histogram): Request duration including retries
//   - arcgis_errors_total{kind} (Counter): Classified errors by kind
//
// Retry Metrics (pkg/client):
//   - arcgis_retries_total{kind} (Counter): Retry attempts by error kind
//   - arcgis_retry_backoff_seconds{kind} (Histogram): Backoff duration by error kind
//   - arcgis_retry_exhausted_total{kind} (Counter): Requests that used every attempt
//
// Query Metrics (pkg/pagination):
//   - arcgis_query_pages_total{outcome} (Counter): Pages by outcome (ok, failed, skipped)
//   - arcgis_query_duration_seconds{state} (Histogram): Query duration by final state
//
// Metadata Cache Metrics (pkg/cache):
//   - arcgis_metadata_cache_hits_total{layer} (Counter): Hits by layer (memory, redis)
//   - arcgis_metadata_cache_misses_total (Counter): Misses
//   - arcgis_metadata_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Metadata Cache Hit Rate
//   sum(rate(arcgis_metadata_cache_hits_total[5m])) /
//   (sum(rate(arcgis_metadata_cache_hits_total[5m])) + sum(rate(arcgis_metadata_cache_misses_total[5m])))
//
//   # Auth Failures
//   rate(arcgis_errors_total{kind="auth_required"}[5m])
//
//   # Aborted Queries
//   rate(arcgis_query_duration_seconds_count{state="failed"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(arcgis_request_duration_seconds_bucket[5m]))
