package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks raw page cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_cache_hits_total",
			Help: "Total number of raw gallery page cache hits",
		},
	)

	// CacheMisses tracks raw page cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_cache_misses_total",
			Help: "Total number of raw gallery page cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_cache_errors_total",
			Help: "Total number of gallery cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "invalidate"
	)
)
