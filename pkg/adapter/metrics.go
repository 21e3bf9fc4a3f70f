package adapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch results used as metric labels.
const (
	resultHit      = "hit"
	resultLoaded   = "loaded"
	resultStale    = "stale"
	resultRejected = "rejected"
	resultError    = "error"
)

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_adapter_fetch_total",
		Help: "Total adapter fetches by adapter, operation and result",
	}, []string{"adapter", "op", "result"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "legacy_adapter_fetch_duration_seconds",
		Help:    "Adapter fetch duration in seconds, cache hits included",
		Buckets: []float64{0.0005, 0.005, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"adapter", "op"})

	coalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_adapter_coalesced_total",
		Help: "Total fetches that shared an in-flight upstream call",
	}, []string{"adapter", "op"})

	transformErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_adapter_transform_errors_total",
		Help: "Total upstream records that could not be transformed",
	}, []string{"adapter"})
)
