// Package events provides a typed, in-process event bus with bounded
// per-subscriber buffers and an explicit backpressure policy.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	published = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_events_published_total",
		Help: "Total events published by bus",
	}, []string{"bus"})

	dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_events_dropped_total",
		Help: "Total events dropped by drop-oldest subscribers",
	}, []string{"bus"})
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("event bus closed")

// Policy decides what Publish does when a subscriber's buffer is full.
type Policy int

const (
	// PolicyBlock makes Publish wait until the subscriber has room or ctx is done.
	// Block subscribers must keep draining C until they unsubscribe.
	PolicyBlock Policy = iota

	// PolicyDropOldest discards the oldest buffered event to make room.
	PolicyDropOldest
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// Subscription receives events published after it was created.
type Subscription[T any] struct {
	ch      chan T
	policy  Policy
	bus     *Bus[T]
	dropped atomic.Uint64
	once    sync.Once
	// mu serializes drop-oldest sends so two publishers cannot both evict.
	mu sync.Mutex
}

// C returns the receive channel. It is closed on Unsubscribe or Bus.Close.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped returns how many events this subscription has lost to backpressure.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription[T]) Unsubscribe() {
	s.bus.remove(s)
}

func (s *Subscription[T]) close() {
	s.once.Do(func() { close(s.ch) })
}

func (s *Subscription[T]) deliver(ctx context.Context, event T) error {
	if s.policy == PolicyDropOldest {
		s.mu.Lock()
		defer s.mu.Unlock()
		for {
			select {
			case s.ch <- event:
				return nil
			default:
			}
			select {
			case <-s.ch:
				s.dropped.Add(1)
				dropped.WithLabelValues(s.bus.name).Inc()
			default:
			}
		}
	}

	select {
	case s.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bus fans events of type T out to subscribers.
type Bus[T any] struct {
	name   string
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewBus creates a bus. The name labels its metrics.
func NewBus[T any](name string) *Bus[T] {
	return &Bus[T]{
		name: name,
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a subscriber with a buffer of the given size (minimum 1).
// Subscribing to a closed bus returns a subscription whose channel is closed.
func (b *Bus[T]) Subscribe(buffer int, policy Policy) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription[T]{
		ch:     make(chan T, buffer),
		policy: policy,
		bus:    b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers event to every subscriber according to its policy.
// With PolicyBlock subscribers Publish may wait; it returns ctx.Err() if ctx
// ends first. Subscribers are served in no particular order.
func (b *Bus[T]) Publish(ctx context.Context, event T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	published.WithLabelValues(b.name).Inc()

	for sub := range b.subs {
		if err := sub.deliver(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of active subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches and closes every subscription. Further publishes fail with ErrClosed.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.close()
		delete(b.subs, sub)
	}
}

func (b *Bus[T]) remove(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		sub.close()
	}
}
