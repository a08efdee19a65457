// Package realtime assembles the sync client: one Client per scoreboard
// connection owning latency estimation, request correlation, the store
// registry and connectivity tracking.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/scoreboard/go/internal/realtime/clock"
	"github.com/mcdev12/scoreboard/go/internal/realtime/connectivity"
	"github.com/mcdev12/scoreboard/go/internal/realtime/correlator"
	"github.com/mcdev12/scoreboard/go/internal/realtime/latency"
	"github.com/mcdev12/scoreboard/go/internal/realtime/metrics"
	"github.com/mcdev12/scoreboard/go/internal/realtime/observer"
	"github.com/mcdev12/scoreboard/go/internal/realtime/store"
	"github.com/mcdev12/scoreboard/go/internal/realtime/transport"
)

// ErrClientClosed rejects requests still pending when the client closes.
var ErrClientClosed = errors.New("sync client closed")

// EventSink receives every push event after local dispatch.
type EventSink interface {
	Enqueue(msg *transport.Message) bool
}

// Status summarizes the client for health and info endpoints.
type Status struct {
	Online         bool  `json:"online"`
	LatencyMs      int64 `json:"latency_ms"`
	LatencyTrusted bool  `json:"latency_trusted"`
	Pending        int   `json:"pending_requests"`
	Stores         int   `json:"stores"`
}

type options struct {
	clock         clockwork.Clock
	logger        zerolog.Logger
	latency       latency.Config
	evictionGrace time.Duration
	clockOptions  clock.Options
	metrics       *metrics.PrometheusMetrics
	sink          EventSink
}

// Option configures a Client
type Option func(*options)

func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithLatencyConfig(cfg latency.Config) Option {
	return func(o *options) { o.latency = cfg }
}

func WithEvictionGrace(grace time.Duration) Option {
	return func(o *options) { o.evictionGrace = grace }
}

func WithClockOptions(opts clock.Options) Option {
	return func(o *options) { o.clockOptions = opts }
}

func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEventSink forwards every push event to sink, typically the event mirror.
func WithEventSink(sink EventSink) Option {
	return func(o *options) { o.sink = sink }
}

// Client is the sync client for one transport handle.
type Client struct {
	handle transport.Handle
	opts   options
	logger zerolog.Logger

	latency      *latency.State
	estimator    *latency.Estimator
	correlator   *correlator.Correlator
	connectivity *connectivity.Notifier
	stores       *store.Registry
	events       *observer.Registry[string, *transport.Message]

	subs      []*observer.Subscription
	closeOnce sync.Once
}

// New wires a client to handle. Inbound messages are dispatched as soon as New
// returns.
func New(handle transport.Handle, opts ...Option) *Client {
	o := options{
		clock:         clockwork.NewRealClock(),
		logger:        log.Logger,
		latency:       latency.DefaultConfig(),
		evictionGrace: store.DefaultEvictionGrace,
		clockOptions:  clock.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		handle:  handle,
		opts:    o,
		logger:  o.logger.With().Str("component", "client").Logger(),
		latency: latency.NewState(),
		events:  observer.NewRegistry[string, *transport.Message](),
	}

	corrOpts := []correlator.Option{correlator.WithClock(o.clock), correlator.WithLogger(o.logger)}
	estOpts := []latency.Option{latency.WithClock(o.clock), latency.WithLogger(o.logger)}
	storeOpts := []store.Option{
		store.WithClock(o.clock),
		store.WithLogger(o.logger),
		store.WithEvictionGrace(o.evictionGrace),
	}
	if o.metrics != nil {
		corrOpts = append(corrOpts, correlator.WithMetrics(o.metrics))
		estOpts = append(estOpts, latency.WithMetrics(o.metrics))
		storeOpts = append(storeOpts, store.WithMetrics(o.metrics))
	}

	c.correlator = correlator.New(handle, c.latency, corrOpts...)
	c.estimator = latency.NewEstimator(c.correlator, c.latency, o.latency, estOpts...)
	c.stores = store.New(store.FetcherFunc(c.fetch), storeOpts...)
	c.connectivity = connectivity.New(handle)

	c.subs = append(c.subs,
		c.connectivity.Subscribe(c.onConnectivity),
		handle.OnMessage(c.dispatch),
	)

	if c.connectivity.Online() {
		c.onConnectivity(true)
	} else {
		c.stores.MarkStale()
	}
	return c
}

func (c *Client) fetch(ctx context.Context, resource string, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		return c.correlator.Request(ctx, resource, nil)
	}
	return c.correlator.Request(ctx, resource, args)
}

func (c *Client) onConnectivity(online bool) {
	if c.opts.metrics != nil {
		c.opts.metrics.RecordConnectivity(online)
	}

	if online {
		c.logger.Info().Msg("connected")
		c.estimator.SetOnline(true)
		c.stores.Refresh()
		return
	}

	c.logger.Warn().Int("pending", c.correlator.Pending()).Msg("connection lost")
	c.correlator.FailAll(nil)
	c.stores.MarkStale()
	c.estimator.SetOnline(false)
}

// dispatch routes one inbound message. Acknowledgements never reach push
// handlers.
func (c *Client) dispatch(msg *transport.Message) {
	if c.correlator.Resolve(msg) {
		return
	}
	if msg.Action == "" {
		c.logger.Debug().Msg("dropping push event without action")
		return
	}

	matched := c.stores.HandlePush(msg)
	delivered := c.events.Publish(msg.Action, msg)
	if c.opts.sink != nil {
		c.opts.sink.Enqueue(msg)
	}

	c.logger.Trace().
		Str("action", msg.Action).
		Bool("store_matched", matched).
		Bool("handled", delivered).
		Msg("push event")
}

// Request sends action and waits for its acknowledgement.
func (c *Client) Request(ctx context.Context, action string, args any) (json.RawMessage, error) {
	return c.correlator.Request(ctx, action, args)
}

// Estimate runs one latency probe batch immediately. It returns the estimate
// and how many samples of the batch were valid.
func (c *Client) Estimate(ctx context.Context) (time.Duration, int) {
	return c.estimator.Estimate(ctx, c.opts.latency.Iterations)
}

// Latency returns the current one-way latency in milliseconds.
func (c *Client) Latency() int64 {
	return c.latency.Milliseconds()
}

// LatencyTrusted reports whether the latency was measured on the current
// connection.
func (c *Client) LatencyTrusted() bool {
	return c.latency.Trusted()
}

func (c *Client) SubscribeLatency(fn func(ms int64)) *observer.Subscription {
	return c.latency.Subscribe(fn)
}

func (c *Client) Online() bool {
	return c.connectivity.Online()
}

func (c *Client) SubscribeConnectivity(fn func(online bool)) *observer.Subscription {
	return c.connectivity.Subscribe(fn)
}

// OnEvent registers fn for push events with the given action.
func (c *Client) OnEvent(action string, fn func(*transport.Message)) *observer.Subscription {
	return c.events.Subscribe(action, fn)
}

func (c *Client) Status() Status {
	return Status{
		Online:         c.connectivity.Online(),
		LatencyMs:      c.latency.Milliseconds(),
		LatencyTrusted: c.latency.Trusted(),
		Pending:        c.correlator.Pending(),
		Stores:         c.stores.Len(),
	}
}

// Close detaches the client from its transport, stops probing, rejects
// pending requests and drops every store.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		for _, sub := range c.subs {
			sub.Close()
		}
		c.connectivity.Close()
		c.estimator.Stop()
		c.correlator.FailAll(ErrClientClosed)
		c.stores.Close()
	})
}
