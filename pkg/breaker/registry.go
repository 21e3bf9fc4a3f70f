package breaker

import (
	"sort"
	"sync"
)

// Registry hands out one breaker per upstream name so a flaky upstream
// cannot trip an unrelated one.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
	opts     []Option
}

// NewRegistry creates a registry whose breakers use the thresholds of
// defaults (its Name is ignored) and the given options.
func NewRegistry(defaults Config, opts ...Option) (*Registry, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		opts:     opts,
	}, nil
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cfg := r.defaults
	cfg.Name = name
	// defaults were validated in NewRegistry
	cb, _ = New(cfg, r.opts...)
	r.breakers[name] = cb
	return cb
}

// Reset closes every breaker.
func (r *Registry) Reset() {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// Stats returns the state of every breaker by name.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.State()
	}
	return stats
}

// Snapshots returns a snapshot of every breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mutex.RLock()
	snaps := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	r.mutex.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}
