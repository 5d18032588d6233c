package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks metadata cache hits by layer (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcgis_metadata_cache_hits_total",
			Help: "Total number of metadata cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks metadata cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arcgis_metadata_cache_misses_total",
			Help: "Total number of metadata cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcgis_metadata_cache_errors_total",
			Help: "Total number of metadata cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
