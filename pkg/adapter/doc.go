// Package adapter fronts one resource of the legacy upstream API.
//
// A Fetch goes through the following steps:
//
//	cache hit  -> return cached value (the breaker is not consulted)
//	cache miss -> breaker.Allow
//	           -> client.Retry(GET item)
//	           -> breaker.Report
//	           -> transform
//	           -> cache.Set
//
// Concurrent misses for the same key share one upstream call. Errors are
// propagated undisguised: *breaker.OpenError when the circuit refuses,
// *client.UpstreamError when the upstream keeps failing, *transform.Error
// when the upstream answered with a record that cannot be mapped, and the
// caller's context error on cancellation.
//
// Example usage:
//
//	customers, err := adapter.New(adapter.Config[transform.LegacyCustomer, transform.Customer]{
//	    Name:       "customers",
//	    Resource:   "customers",
//	    ItemPath:   "/customers/{id}",
//	    ListPath:   "/customers",
//	    DefaultTTL: 5 * time.Minute,
//	    Transform:  transform.CustomerFromLegacy,
//	    Client:     upstream,
//	    Retrier:    retrier,
//	    Breaker:    breakers.Get("customers"),
//	})
//	c, err := customers.Fetch(ctx, "C1", 0)
package adapter
