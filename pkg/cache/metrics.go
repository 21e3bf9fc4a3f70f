package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by namespace
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legacy_cache_hits_total",
			Help: "Total number of adapter cache hits",
		},
		[]string{"namespace"},
	)

	// CacheMisses tracks cache misses (never set, deleted or expired)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legacy_cache_misses_total",
			Help: "Total number of adapter cache misses",
		},
		[]string{"namespace"},
	)

	// CacheExpired tracks entries purged by the read that found them expired
	CacheExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legacy_cache_expired_total",
			Help: "Total number of expired entries removed on read",
		},
		[]string{"namespace"},
	)

	// CacheEntries tracks the number of live keys by namespace
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "legacy_cache_entries",
			Help: "Current number of entries held in the adapter cache",
		},
		[]string{"namespace"},
	)
)
