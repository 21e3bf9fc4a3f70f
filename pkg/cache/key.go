package cache

import (
	"net/url"
	"strings"
)

// CacheKey represents a unique identifier for a cached upstream record.
type CacheKey struct {
	// Namespace isolates one upstream integration from another (e.g., "crm")
	Namespace string

	// Resource is the resource class (e.g., "customers", "payments")
	Resource string

	// ID is the record identifier; empty for list lookups
	ID string

	// Query holds list filters (e.g., {"status": "A"})
	Query url.Values
}

// String generates a deterministic cache key string.
// Format: legacy:namespace:resource:id:query, where query is the
// URL-encoded filter (k1=v1&k2=v2, sorted by key)
//
// Example:
//
//	legacy:crm:customers:C1
//	legacy:crm:customers:region=IL&status=A
func (k CacheKey) String() string {
	parts := []string{"legacy"}

	if ns := strings.TrimSpace(k.Namespace); ns != "" {
		parts = append(parts, ns)
	}

	if res := strings.Trim(k.Resource, "/"); res != "" {
		parts = append(parts, res)
	}

	if k.ID != "" {
		parts = append(parts, k.ID)
	}

	// Encode sorts by key, keeps value order and escapes the separators, so
	// distinct filters never share a key.
	if len(k.Query) > 0 {
		parts = append(parts, k.Query.Encode())
	}

	return strings.Join(parts, ":")
}
