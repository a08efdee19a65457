package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/scoreboard/go/internal/realtime/observer"
)

// ErrClosed is returned once the registry was closed.
var ErrClosed = errors.New("store registry closed")

// Snapshot is a point-in-time view of a store.
type Snapshot struct {
	Data    json.RawMessage
	HasData bool
	Stale   bool
	Err     error // last fetch failure, cleared by the next successful fetch
}

type fetchCall struct {
	done    chan struct{}
	data    json.RawMessage
	err     error
	waiters int
}

// Store is the locally cached value of one (resource, args) pair.
type Store struct {
	registry *Registry
	resource string
	args     json.RawMessage
	key      string

	mu       sync.Mutex
	data     json.RawMessage
	hasData  bool
	stale    bool
	err      error
	epoch    uint64
	inflight *fetchCall

	subscribers observer.List[struct{}]
	evictTimer  clockwork.Timer
	evictGen    uint64
	evicted     bool // dropped from the registry, missed pushes since
}

// Resource returns the resource name.
func (s *Store) Resource() string { return s.resource }

// Args returns the normalized arguments identifying the store.
func (s *Store) Args() json.RawMessage { return s.args }

// Subscribe registers fn to run after every data change. The first
// subscriber of a stale store triggers a fetch; closing the last subscription
// schedules eviction. Subscribing to a store that was already evicted puts it
// back into the registry as stale.
func (s *Store) Subscribe(fn func()) *observer.Subscription {
	r := s.registry
	r.mu.Lock()
	online := !r.offline

	s.mu.Lock()
	if s.evicted {
		r.reviveLocked(s)
	}
	id := s.subscribers.Add(func(struct{}) { fn() })
	s.stopEvictionLocked()
	if s.subscribers.Len() == 1 && s.stale && online {
		s.startFetchLocked()
	}
	s.mu.Unlock()
	r.mu.Unlock()

	return observer.NewSubscription(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.subscribers.Remove(id) == 0 {
			s.scheduleEvictionLocked()
		}
	})
}

// Subscribers returns the number of active subscriptions.
func (s *Store) Subscribers() int {
	return s.subscribers.Len()
}

// Snapshot returns the current state and starts a fetch when the store is
// stale and none is in flight. A store whose last fetch failed, or whose
// registry is offline, is not fetched from here; Fetch or a registry refresh
// retries it.
func (s *Store) Snapshot() Snapshot {
	online := s.registry.online()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stale && s.inflight == nil && s.err == nil && online {
		s.startFetchLocked()
	}
	return Snapshot{Data: s.data, HasData: s.hasData, Stale: s.stale, Err: s.err}
}

// Fetch waits for the in-flight fetch, starting one if needed, and returns its
// result.
func (s *Store) Fetch(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	call := s.inflight
	if call == nil {
		call = s.startFetchLocked()
	}
	call.waiters++
	s.mu.Unlock()

	select {
	case <-call.done:
		return call.data, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode unmarshals the store's data into out, blocking until the first load
// completed if there is no data yet.
func (s *Store) Decode(ctx context.Context, out any) error {
	snap := s.Snapshot()
	data := snap.Data
	if !snap.HasData {
		var err error
		if data, err = s.Fetch(ctx); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.resource, err)
	}
	return nil
}

func (s *Store) startFetchLocked() *fetchCall {
	if s.inflight != nil {
		return s.inflight
	}
	call := &fetchCall{done: make(chan struct{})}
	s.inflight = call
	go s.runFetch(call, s.epoch)
	return call
}

func (s *Store) runFetch(call *fetchCall, epoch uint64) {
	r := s.registry
	call.data, call.err = r.fetcher.Fetch(r.ctx, s.resource, s.args)

	s.mu.Lock()
	if s.inflight == call {
		s.inflight = nil
	}
	committed := false
	switch {
	case s.epoch != epoch:
		r.metrics.RecordFetch(s.resource, FetchDiscarded)
		r.logger.Debug().Str("resource", s.resource).Msg("discarding fetch result from previous connection")
	case call.err != nil:
		s.err = call.err
		r.metrics.RecordFetch(s.resource, FetchError)
		r.logger.Error().Err(call.err).Str("resource", s.resource).RawJSON("args", rawOrNull(s.args)).Msg("fetch failed")
	default:
		s.data = call.data
		s.hasData = true
		s.stale = false
		s.err = nil
		committed = true
		r.metrics.RecordFetch(s.resource, FetchOK)
		r.logger.Debug().Str("resource", s.resource).Int("waiters", call.waiters).Msg("fetch completed")
	}
	s.mu.Unlock()

	close(call.done)
	if committed {
		s.subscribers.Publish(struct{}{})
	}
}

func (s *Store) applyPush(data json.RawMessage) {
	s.mu.Lock()
	s.data = data
	s.hasData = true
	s.mu.Unlock()

	s.subscribers.Publish(struct{}{})
}

func (s *Store) markStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
	s.epoch++
	s.inflight = nil
}

func (s *Store) refresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stale || s.inflight != nil || s.subscribers.Len() == 0 {
		return false
	}
	s.err = nil
	s.startFetchLocked()
	return true
}

func (s *Store) scheduleEvictionLocked() {
	s.stopEvictionLocked()
	gen := s.evictGen
	s.evictTimer = s.registry.clock.AfterFunc(s.registry.grace, func() {
		s.registry.evict(s, gen)
	})
}

func (s *Store) stopEvictionLocked() {
	s.evictGen++
	if s.evictTimer != nil {
		s.evictTimer.Stop()
		s.evictTimer = nil
	}
}
