// Package metrics provides the Prometheus registry and handler of the gallery
// services. All metrics are defined in their respective packages (pagination,
// cache, client, ratelimit) to maintain modularity and avoid circular
// dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer every gallery metric is registered
// with via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the Prometheus gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler exposing all gallery metrics.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Page Load Metrics (pkg/pagination):
//   - gallery_page_loads_total{outcome} (Counter): Page loads by outcome
//     (success, fetch_error, decode_error, invalid, cancelled)
//   - gallery_page_load_duration_seconds (Histogram): Page load duration
//   - gallery_page_items (Histogram): Items per successfully loaded page
//   - gallery_decode_duration_seconds (Histogram): Single item decode duration
//
// Cache Metrics (pkg/cache):
//   - gallery_cache_hits_total (Counter): Raw page windows served from Redis
//   - gallery_cache_misses_total (Counter): Cache misses
//   - gallery_cache_errors_total{operation} (Counter): Cache operation errors
//
// Remote Metrics (pkg/client):
//   - gallery_remote_requests_total{status} (Counter): Remote requests by HTTP status
//   - gallery_remote_request_duration_seconds (Histogram): Remote request duration
//   - gallery_remote_errors_total{class} (Counter): Errors by class
//     (client, server, rate_limit, network, response)
//   - gallery_remote_retries_total{error_class} (Counter): Retry attempts
//   - gallery_remote_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - gallery_remote_retry_exhausted_total{error_class} (Counter): Fetches that exhausted retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - gallery_rate_limit_events_total (Counter): Remote 429 responses recorded
//   - gallery_rate_limit_blocks_total (Counter): Requests withheld by the shared block
//   - gallery_rate_limit_block_seconds (Gauge): Most recent block duration
//
// Example Prometheus Queries:
//
//   # Page failure ratio
//   sum(rate(gallery_page_loads_total{outcome=~"fetch_error|decode_error"}[5m])) /
//   sum(rate(gallery_page_loads_total[5m]))
//
//   # Cache Hit Rate
//   sum(rate(gallery_cache_hits_total[5m])) /
//   (sum(rate(gallery_cache_hits_total[5m])) + sum(rate(gallery_cache_misses_total[5m])))
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(gallery_page_load_duration_seconds_bucket[5m]))
