// Package cache provides the process-local, TTL-aware store behind the
// adapter's cache-aside lookups.
//
// The store implements the following behaviour:
//
// - Per-call TTL (stable and volatile resources share one store)
// - Lazy expiry: an expired entry is removed by the read that finds it
// - Lock striping over FNV-hashed shards so distinct keys do not contend
// - Last-write-wins for concurrent writers of the same key
// - Deterministic cache key generation
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := cache.NewStore[transform.Customer]("crm.customers")
//
//	key := cache.CacheKey{
//		Namespace: "crm",
//		Resource:  "customers",
//		ID:        "C1",
//	}.String()
//
//	if customer, ok := store.Get(key); ok {
//		return customer, nil
//	}
//
//	// Cache miss - fetch from upstream, then:
//	store.Set(key, customer, 10*time.Minute)
//
// # Metrics
//
// The store exports Prometheus metrics:
//
//   - legacy_cache_hits_total{namespace} - Cache hits
//   - legacy_cache_misses_total{namespace} - Cache misses
//   - legacy_cache_expired_total{namespace} - Entries purged on read
//   - legacy_cache_entries{namespace} - Live keys
//
// The cache is local to the process. Several instances of a service each hold
// their own copy and never coordinate.
package cache
