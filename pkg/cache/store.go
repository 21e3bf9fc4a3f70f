package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultShards is the number of lock stripes used when none is configured.
const DefaultShards = 16

// Stats is a read-only snapshot of store counters.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Keys   int    `json:"keys"`
}

// Option configures a Store.
type Option func(*options)

type options struct {
	shards int
	now    func() time.Time
}

// WithShards sets the number of lock stripes. Values < 1 are ignored.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]*Entry[V]
}

// Store is a process-local key/value store with per-entry TTL.
//
// Expired entries are purged lazily by the Get that discovers them; there is
// no background sweeper. Keys are spread over independently locked shards so
// operations on distinct keys rarely contend. Writes to the same key are
// last-write-wins.
type Store[V any] struct {
	namespace string
	shards    []*shard[V]
	now       func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
	keys   atomic.Int64
}

// NewStore creates a store. The namespace labels its metrics.
func NewStore[V any](namespace string, opts ...Option) *Store[V] {
	o := options{shards: DefaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	shards := make([]*shard[V], o.shards)
	for i := range shards {
		shards[i] = &shard[V]{entries: make(map[string]*Entry[V])}
	}

	return &Store[V]{
		namespace: namespace,
		shards:    shards,
		now:       o.now,
	}
}

func (s *Store[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get returns the value stored under key.
// Returns false if the key was never set, was deleted, or has expired.
func (s *Store[V]) Get(key string) (V, bool) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.RLock()
	entry, ok := sh.entries[key]
	sh.mu.RUnlock()

	if ok && !entry.IsExpired(now) {
		s.hits.Add(1)
		CacheHits.WithLabelValues(s.namespace).Inc()
		return entry.Value, true
	}

	if ok {
		// Only remove the entry we saw; a concurrent Set may have replaced it.
		sh.mu.Lock()
		if current, still := sh.entries[key]; still && current == entry {
			delete(sh.entries, key)
			s.removed()
			CacheExpired.WithLabelValues(s.namespace).Inc()
		}
		sh.mu.Unlock()
	}

	s.misses.Add(1)
	CacheMisses.WithLabelValues(s.namespace).Inc()

	var zero V
	return zero, false
}

// Lookup is like Get but returns the whole entry, including its expiry.
// It does not count towards hit/miss statistics.
func (s *Store[V]) Lookup(key string) (Entry[V], bool) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	entry, ok := sh.entries[key]
	if !ok || entry.IsExpired(s.now()) {
		return Entry[V]{}, false
	}
	return *entry, true
}

// Set stores value under key for ttl, overwriting any existing entry.
// A ttl <= 0 removes the key instead of caching an already expired value.
func (s *Store[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		s.Delete(key)
		return
	}

	now := s.now()
	entry := &Entry[V]{
		Value:     value,
		ExpiresAt: now.Add(ttl),
		CachedAt:  now,
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	_, existed := sh.entries[key]
	sh.entries[key] = entry
	sh.mu.Unlock()

	if !existed {
		s.keys.Add(1)
		CacheEntries.WithLabelValues(s.namespace).Inc()
	}
}

// Delete removes key. It is a no-op if the key is absent.
func (s *Store[V]) Delete(key string) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	_, ok := sh.entries[key]
	if ok {
		delete(sh.entries, key)
		s.removed()
	}
	sh.mu.Unlock()
}

// Purge removes every entry. Counters are kept.
func (s *Store[V]) Purge() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		n := len(sh.entries)
		sh.entries = make(map[string]*Entry[V])
		sh.mu.Unlock()

		if n > 0 {
			s.keys.Add(int64(-n))
			CacheEntries.WithLabelValues(s.namespace).Sub(float64(n))
		}
	}
}

// Len returns the number of stored keys, including expired entries that no
// read has discovered yet.
func (s *Store[V]) Len() int {
	return int(s.keys.Load())
}

// Stats returns a snapshot of hit, miss and key counts.
func (s *Store[V]) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Keys:   s.Len(),
	}
}

// Namespace returns the namespace the store was created with.
func (s *Store[V]) Namespace() string {
	return s.namespace
}

func (s *Store[V]) removed() {
	s.keys.Add(-1)
	CacheEntries.WithLabelValues(s.namespace).Dec()
}
