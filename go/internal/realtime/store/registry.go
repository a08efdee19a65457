// Package store caches server resources as subscribable values.
//
// A Registry maps (resource, args) to a Store. Stores load lazily on first
// use, coalesce concurrent loads into one request, follow push events for
// their exact identity, and are evicted once nobody subscribed to them for a
// grace period.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/scoreboard/go/internal/realtime/transport"
)

// DefaultEvictionGrace is how long an unsubscribed store is kept before it is
// evicted.
const DefaultEvictionGrace = 5 * time.Second

// Fetch outcomes reported to the metrics collector.
const (
	FetchOK        = "ok"
	FetchError     = "error"
	FetchDiscarded = "discarded"
)

// Fetcher loads the current value of a resource from the server.
type Fetcher interface {
	Fetch(ctx context.Context, resource string, args json.RawMessage) (json.RawMessage, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, resource string, args json.RawMessage) (json.RawMessage, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, resource string, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, resource, args)
}

// MetricsCollector receives registry activity.
type MetricsCollector interface {
	RecordFetch(resource, outcome string)
	RecordPush(resource string, matched bool)
	SetStores(n int)
}

// NoOpMetricsCollector discards registry activity
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordFetch(resource, outcome string)     {}
func (NoOpMetricsCollector) RecordPush(resource string, matched bool) {}
func (NoOpMetricsCollector) SetStores(n int)                          {}

// Registry owns every Store of one connection.
type Registry struct {
	fetcher Fetcher
	clock   clockwork.Clock
	grace   time.Duration
	logger  zerolog.Logger
	metrics MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stores  map[string]*Store
	closed  bool
	offline bool
}

// Option configures a Registry
type Option func(*Registry)

// WithClock sets the clock driving eviction timers.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithEvictionGrace sets how long an unsubscribed store survives.
func WithEvictionGrace(grace time.Duration) Option {
	return func(r *Registry) { r.grace = grace }
}

// WithLogger sets the registry's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) { r.logger = logger.With().Str("component", "store").Logger() }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(r *Registry) { r.metrics = metrics }
}

// New creates a registry that loads resources through fetcher.
func New(fetcher Fetcher, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		fetcher: fetcher,
		clock:   clockwork.NewRealClock(),
		grace:   DefaultEvictionGrace,
		logger:  log.With().Str("component", "store").Logger(),
		metrics: NoOpMetricsCollector{},
		ctx:     ctx,
		cancel:  cancel,
		stores:  make(map[string]*Store),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// maxArgsExponent bounds the exponents NormalizeArgs expands.
const maxArgsExponent = 1000

// NormalizeArgs returns the canonical JSON encoding of args. Structurally
// equal arguments produce identical bytes regardless of key order. Integral
// numbers are written as plain integers, so {"jam":2.0} and {"jam":2e0} match
// {"jam":2}. Other numbers keep their literal text.
func NormalizeArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}
	raw, ok := args.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(args); err != nil {
			return nil, err
		}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return json.Marshal(canonicalize(v))
}

func canonicalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = canonicalize(e)
		}
	case []any:
		for i, e := range v {
			v[i] = canonicalize(e)
		}
	case json.Number:
		return canonicalNumber(v)
	}
	return v
}

func canonicalNumber(n json.Number) json.Number {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if s == "-0" {
			return "0"
		}
		return n
	}
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		exp, err := strconv.Atoi(s[i+1:])
		if err != nil || exp > maxArgsExponent || exp < -maxArgsExponent {
			return n
		}
	}
	var q big.Rat
	if _, ok := q.SetString(s); !ok || !q.IsInt() {
		return n
	}
	return json.Number(q.Num().String())
}

func storeKey(resource string, args json.RawMessage) string {
	return resource + "\x00" + string(args)
}

// Get returns the store for resource and args, creating it if needed.
// Structurally equal args always return the same store while it is alive.
func (r *Registry) Get(resource string, args any) (*Store, error) {
	norm, err := NormalizeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("invalid args for %s: %w", resource, err)
	}
	key := storeKey(resource, norm)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.stores[key]; ok {
		// a caller holding an unsubscribed store gets a full grace period
		s.mu.Lock()
		if s.subscribers.Len() == 0 {
			s.scheduleEvictionLocked()
		}
		s.mu.Unlock()
		return s, nil
	}

	s := &Store{
		registry: r,
		resource: resource,
		args:     norm,
		key:      key,
		stale:    true,
	}
	r.stores[key] = s
	// never-subscribed stores are evicted like abandoned ones
	s.mu.Lock()
	s.scheduleEvictionLocked()
	s.mu.Unlock()

	r.metrics.SetStores(len(r.stores))
	r.logger.Debug().Str("resource", resource).RawJSON("args", rawOrNull(norm)).Msg("store created")
	return s, nil
}

// HandlePush applies a push event to the store whose identity matches the
// event exactly. It reports whether such a store exists.
func (r *Registry) HandlePush(msg *transport.Message) bool {
	norm, err := NormalizeArgs(msg.Args)
	if err != nil {
		r.logger.Warn().Err(err).Str("resource", msg.Action).Msg("dropping push event with malformed args")
		return false
	}

	r.mu.Lock()
	s, ok := r.stores[storeKey(msg.Action, norm)]
	r.mu.Unlock()

	r.metrics.RecordPush(msg.Action, ok)
	if !ok {
		return false
	}
	s.applyPush(msg.Data)
	return true
}

// MarkStale marks every store stale, keeping its last known data. In-flight
// fetches are abandoned and their results discarded. Stores stop fetching on
// their own until the next Refresh.
func (r *Registry) MarkStale() {
	r.mu.Lock()
	r.offline = true
	r.mu.Unlock()

	for _, s := range r.snapshot() {
		s.markStale()
	}
}

// Refresh starts one fetch for every subscribed store that is stale and has
// no fetch in flight.
func (r *Registry) Refresh() int {
	r.mu.Lock()
	r.offline = false
	r.mu.Unlock()

	started := 0
	for _, s := range r.snapshot() {
		if s.refresh() {
			started++
		}
	}
	if started > 0 {
		r.logger.Info().Int("stores", started).Msg("refreshing stale stores")
	}
	return started
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// Close abandons in-flight fetches, stops eviction timers and drops every
// store.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	stores := r.stores
	r.stores = make(map[string]*Store)
	r.mu.Unlock()

	r.cancel()
	for _, s := range stores {
		s.mu.Lock()
		s.stopEvictionLocked()
		s.mu.Unlock()
	}
	r.metrics.SetStores(0)
}

func (r *Registry) online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.offline
}

func (r *Registry) snapshot() []*Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		out = append(out, s)
	}
	return out
}

// evict removes s if it is still unsubscribed and gen is its current eviction
// generation.
func (r *Registry) evict(s *Store, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.mu.Lock()
	current := s.evictGen == gen && s.subscribers.Len() == 0
	if current {
		s.evictTimer = nil
	}
	s.mu.Unlock()

	if !current || r.stores[s.key] != s {
		return
	}
	delete(r.stores, s.key)
	s.mu.Lock()
	s.evicted = true
	s.mu.Unlock()

	r.metrics.SetStores(len(r.stores))
	r.logger.Debug().Str("resource", s.resource).RawJSON("args", rawOrNull(s.args)).Msg("store evicted")
}

// reviveLocked puts an evicted store back under its key. Pushes were missed
// while it was out, so it restarts stale. Both r.mu and s.mu must be held.
func (r *Registry) reviveLocked(s *Store) {
	if r.closed {
		return
	}
	if other, ok := r.stores[s.key]; ok && other != s {
		r.logger.Warn().Str("resource", s.resource).RawJSON("args", rawOrNull(s.args)).Msg("evicted store subscribed after it was replaced")
		return
	}
	r.stores[s.key] = s
	s.evicted = false
	s.stale = true
	s.epoch++
	s.inflight = nil

	r.metrics.SetStores(len(r.stores))
	r.logger.Debug().Str("resource", s.resource).RawJSON("args", rawOrNull(s.args)).Msg("store revived")
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
