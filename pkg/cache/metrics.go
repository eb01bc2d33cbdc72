package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the feed page cache.
var (
	// CacheHits counts page cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_page_cache_hits_total",
		Help: "Total feed page cache hits",
	})

	// CacheMisses counts page cache misses.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_page_cache_misses_total",
		Help: "Total feed page cache misses",
	})

	// CacheErrors counts cache operation errors by operation.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_page_cache_errors_total",
		Help: "Total feed page cache operation errors",
	}, []string{"operation"})
)
