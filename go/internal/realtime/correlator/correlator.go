// Package correlator matches acknowledgements to the requests that caused
// them.
//
// Every request gets a fresh transaction id. The correlator keeps one pending
// entry per id until the matching acknowledgement arrives, the caller gives
// up, or the connection drops. Matching is by id only, so acknowledgements may
// arrive in any order.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/scoreboard/go/internal/realtime/transport"
)

// Request outcomes reported to the metrics collector.
const (
	OutcomeOK             = "ok"
	OutcomeError          = "error"
	OutcomeConnectionLost = "connection_lost"
	OutcomeCancelled      = "cancelled"
)

// LatencySource provides the latency attached to outgoing requests.
type LatencySource interface {
	Milliseconds() int64
}

// MetricsCollector receives correlator activity.
type MetricsCollector interface {
	RecordRequest(action, outcome string)
	SetPending(n int)
}

// NoOpMetricsCollector discards correlator activity
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordRequest(action, outcome string) {}
func (NoOpMetricsCollector) SetPending(n int)                    {}

type result struct {
	data json.RawMessage
	err  error
}

type pending struct {
	action string
	sentAt time.Time
	done   chan result
}

// Correlator sends requests over a transport handle and settles them when the
// matching acknowledgement is resolved.
type Correlator struct {
	sender  transport.Handle
	latency LatencySource
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics MetricsCollector

	mu      sync.Mutex
	pending map[string]*pending
}

// Option configures a Correlator
type Option func(*Correlator)

// WithClock sets the clock used for client timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Correlator) { c.clock = clock }
}

// WithLogger sets the correlator's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Correlator) { c.logger = logger.With().Str("component", "correlator").Logger() }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(c *Correlator) { c.metrics = metrics }
}

// New creates a correlator sending through sender. latency may be nil, in
// which case requests carry a latency of zero.
func New(sender transport.Handle, latency LatencySource, opts ...Option) *Correlator {
	c := &Correlator{
		sender:  sender,
		latency: latency,
		clock:   clockwork.NewRealClock(),
		logger:  log.With().Str("component", "correlator").Logger(),
		metrics: NoOpMetricsCollector{},
		pending: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request sends action with args and waits for the acknowledgement.
//
// It returns the acknowledgement's data, a *RequestError when the server
// reported a failure, ErrConnectionLost when the connection is or goes down
// before the acknowledgement, or ctx.Err() when ctx ends first. Requests are
// never retried.
func (c *Correlator) Request(ctx context.Context, action string, args any) (json.RawMessage, error) {
	var rawArgs json.RawMessage
	if args != nil {
		var err error
		if rawArgs, err = json.Marshal(args); err != nil {
			return nil, fmt.Errorf("failed to encode %s args: %w", action, err)
		}
	}

	id := uuid.NewString()
	now := c.clock.Now()
	var latencyMs int64
	if c.latency != nil {
		latencyMs = c.latency.Milliseconds()
	}

	p := &pending{action: action, sentAt: now, done: make(chan result, 1)}
	c.mu.Lock()
	c.pending[id] = p
	n := len(c.pending)
	c.mu.Unlock()
	c.metrics.SetPending(n)

	// registered before sending; an ack may arrive before Send returns
	msg := &transport.Message{
		Action:          action,
		Args:            rawArgs,
		TransactionID:   id,
		ClientTimestamp: &now,
		Latency:         &latencyMs,
	}
	if err := c.sender.Send(ctx, msg); err != nil {
		c.forget(id)
		c.metrics.RecordRequest(action, OutcomeConnectionLost)
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	select {
	case res := <-p.done:
		return res.data, res.err
	case <-ctx.Done():
		if c.forget(id) {
			c.metrics.RecordRequest(action, OutcomeCancelled)
			return nil, ctx.Err()
		}
		// settled concurrently with cancellation
		res := <-p.done
		return res.data, res.err
	}
}

// Resolve settles the pending request matching msg's transaction id.
//
// It reports whether msg was an acknowledgement. Acknowledgements for unknown
// ids, such as late replies to cancelled requests, are consumed and dropped;
// they are never push events.
func (c *Correlator) Resolve(msg *transport.Message) bool {
	if !msg.IsAck() {
		return false
	}

	c.mu.Lock()
	p, ok := c.pending[msg.TransactionID]
	if ok {
		delete(c.pending, msg.TransactionID)
	}
	n := len(c.pending)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().
			Str("transaction_id", msg.TransactionID).
			Msg("dropping acknowledgement for unknown transaction")
		return true
	}
	c.metrics.SetPending(n)

	if msg.Error != nil {
		c.metrics.RecordRequest(p.action, OutcomeError)
		reqErr := &RequestError{Action: p.action, Kind: msg.Error.Kind(), Detail: msg.Error.Description()}
		c.logger.Warn().
			Str("transaction_id", msg.TransactionID).
			Str("action", p.action).
			Str("kind", reqErr.Kind).
			Msg("request failed")
		p.done <- result{err: reqErr}
		return true
	}

	c.metrics.RecordRequest(p.action, OutcomeOK)
	c.logger.Trace().
		Str("transaction_id", msg.TransactionID).
		Str("action", p.action).
		Dur("round_trip", c.clock.Since(p.sentAt)).
		Msg("request acknowledged")
	p.done <- result{data: msg.Data}
	return true
}

// FailAll rejects every pending request with ErrConnectionLost and clears the
// pending map. cause, when non-nil, is wrapped alongside.
func (c *Correlator) FailAll(cause error) {
	c.mu.Lock()
	failed := c.pending
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	if len(failed) == 0 {
		return
	}
	c.metrics.SetPending(0)

	err := ErrConnectionLost
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	}
	for _, p := range failed {
		c.metrics.RecordRequest(p.action, OutcomeConnectionLost)
		p.done <- result{err: err}
	}
	c.logger.Info().Int("count", len(failed)).Msg("rejected pending requests")
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Probe sends a ping and waits for its acknowledgement. It makes the
// correlator usable as a latency prober.
func (c *Correlator) Probe(ctx context.Context) error {
	_, err := c.Request(ctx, "ping", nil)
	return err
}

func (c *Correlator) forget(id string) bool {
	c.mu.Lock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	n := len(c.pending)
	c.mu.Unlock()

	if ok {
		c.metrics.SetPending(n)
	}
	return ok
}
