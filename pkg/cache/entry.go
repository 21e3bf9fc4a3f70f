package cache

import (
	"time"
)

// Entry represents a cached value together with its lifetime.
type Entry[V any] struct {
	// Value is the cached, already transformed record
	Value V

	// ExpiresAt is when the entry becomes stale
	ExpiresAt time.Time

	// CachedAt is when we cached this value
	CachedAt time.Time
}

// IsExpired returns true if the entry has expired at the given instant.
// An entry whose ExpiresAt equals now is considered expired.
func (e *Entry[V]) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the time until expiration relative to now.
// Returns 0 if already expired.
func (e *Entry[V]) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the entry was cached.
func (e *Entry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}
