// Package observer provides callback sets with explicit subscription handles.
//
// A Subscription is acquired when a callback is registered and released with
// Close. Closing is idempotent, so owners can defer it unconditionally.
package observer

import (
	"slices"
	"sync"
)

// Subscription releases a registered callback when closed.
type Subscription struct {
	once    sync.Once
	release func()
}

// NewSubscription wraps a release function in a Subscription handle.
func NewSubscription(release func()) *Subscription {
	return &Subscription{release: release}
}

// Close releases the subscription. Calling Close more than once is a no-op.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// List is an ordered set of callbacks. Callbacks are invoked in registration
// order and never while the list's lock is held.
type List[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry[T]
}

// Add registers fn and returns its id.
func (l *List[T]) Add(fn func(T)) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.entries = append(l.entries, entry[T]{id: l.nextID, fn: fn})
	return l.nextID
}

// Remove unregisters the callback with the given id and returns the number of
// callbacks that remain.
func (l *List[T]) Remove(id uint64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.id == id {
			l.entries = slices.Delete(l.entries, i, i+1)
			break
		}
	}
	return len(l.entries)
}

// Subscribe registers fn and returns a handle that removes it.
func (l *List[T]) Subscribe(fn func(T)) *Subscription {
	id := l.Add(fn)
	return NewSubscription(func() { l.Remove(id) })
}

// Len returns the number of registered callbacks.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Publish invokes every registered callback with v.
func (l *List[T]) Publish(v T) {
	l.mu.Lock()
	fns := make([]func(T), len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Registry is a set of callback lists keyed by topic.
type Registry[K comparable, T any] struct {
	mu     sync.Mutex
	topics map[K]*List[T]
}

// NewRegistry creates an empty topic registry.
func NewRegistry[K comparable, T any]() *Registry[K, T] {
	return &Registry[K, T]{topics: make(map[K]*List[T])}
}

// Subscribe registers fn for topic.
func (r *Registry[K, T]) Subscribe(topic K, fn func(T)) *Subscription {
	r.mu.Lock()
	list, ok := r.topics[topic]
	if !ok {
		list = &List[T]{}
		r.topics[topic] = list
	}
	id := list.Add(fn)
	r.mu.Unlock()

	return NewSubscription(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// Drop empty topics so short-lived subscriptions don't accumulate
		if list.Remove(id) == 0 && r.topics[topic] == list {
			delete(r.topics, topic)
		}
	})
}

// Publish invokes the callbacks registered for topic. It reports whether any
// callback was registered.
func (r *Registry[K, T]) Publish(topic K, v T) bool {
	r.mu.Lock()
	list, ok := r.topics[topic]
	r.mu.Unlock()
	if !ok {
		return false
	}
	list.Publish(v)
	return true
}

// Count returns the number of callbacks registered for topic.
func (r *Registry[K, T]) Count(topic K) int {
	r.mu.Lock()
	list, ok := r.topics[topic]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return list.Len()
}
