// Package metrics provides the centralized Prometheus metrics registry for
// the feed core. All metrics are defined in their respective packages
// (orchestrator, statemachine, autofetch, filter, validator, source, cache)
// to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the feed core.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Orchestrator Metrics (pkg/orchestrator):
//   - feed_loadmore_requests_total{strategy, status} (Counter): Load-more requests by strategy and outcome
//   - feed_loadmore_rejected_total{reason} (Counter): Requests rejected before execution
//   - feed_loadmore_duration_seconds (Histogram): End-to-end load-more duration
//
// State Machine Metrics (pkg/statemachine):
//   - feed_state_transitions_total{from, to} (Counter): Accepted state transitions
//   - feed_state_transitions_rejected_total (Counter): Rejected transitions
//   - feed_state_circuit_breaker_resets_total (Counter): Forced resets after repeated errors
//   - feed_state_persist_failures_total (Counter): State snapshot persistence failures
//
// Auto-Fetch Metrics (pkg/autofetch):
//   - feed_autofetch_decisions_total{reason} (Counter): Decisions by reason
//   - feed_autofetch_attempts_total{status} (Counter): Background fetch attempts by outcome
//   - feed_autofetch_retries_total (Counter): Retry attempts against the upstream source
//   - feed_autofetch_duration_seconds (Histogram): Background fetch attempt duration
//   - feed_autofetch_posts_total (Counter): Posts fetched by background expansion
//
// Filter Metrics (pkg/filter):
//   - feed_filter_duration_seconds (Histogram): Filter pipeline duration
//   - feed_filter_expansions_total{status} (Counter): Data-set expansions by outcome
//
// Validator Metrics (pkg/validator):
//   - feed_validation_findings_total{rule, severity} (Counter): Consistency findings by rule
//   - feed_recoveries_total{mode} (Counter): State recoveries by mode
//
// Source Metrics (pkg/source):
//   - feed_source_requests_total{status} (Counter): Upstream requests by HTTP status
//   - feed_source_request_duration_seconds (Histogram): Upstream request duration
//   - feed_source_errors_total{class} (Counter): Upstream errors by class
//
// Page Cache Metrics (pkg/cache):
//   - feed_page_cache_hits_total (Counter): Pages served from the Redis cache
//   - feed_page_cache_misses_total (Counter): Pages not found in the cache
//   - feed_page_cache_errors_total{operation} (Counter): Cache operation failures
//
// Example Prometheus Queries:
//
//   # Load-More Error Rate
//   sum(rate(feed_loadmore_requests_total{status="error"}[5m])) /
//   sum(rate(feed_loadmore_requests_total[5m]))
//
//   # Auto-Fetch Acceptance Rate
//   rate(feed_autofetch_decisions_total{reason="insufficient filtered results"}[5m]) /
//   rate(feed_autofetch_decisions_total[5m])
//
//   # P95 Load-More Latency
//   histogram_quantile(0.95, rate(feed_loadmore_duration_seconds_bucket[5m]))
//
//   # Circuit Breaker Activity
//   rate(feed_state_circuit_breaker_resets_total[5m])
