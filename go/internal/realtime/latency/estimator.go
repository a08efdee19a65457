// Package latency estimates the one-way latency of the scoreboard connection
// from repeated round-trip probes.
package latency

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrProbeFailure marks a probe that timed out, failed, or measured a negative
// round trip. Such samples are excluded from the estimate.
var ErrProbeFailure = errors.New("latency probe failed")

// Prober issues one round-trip probe and returns once it was acknowledged.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// MetricsCollector receives estimator measurements
type MetricsCollector interface {
	RecordLatency(ms int64)
	RecordProbeFailure()
}

// NoOpMetricsCollector discards measurements
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordLatency(ms int64) {}
func (NoOpMetricsCollector) RecordProbeFailure()    {}

// Config controls probe batches and their schedule
type Config struct {
	Iterations   int           // probes per batch
	Interval     time.Duration // time between batches while connected
	ProbeTimeout time.Duration // per-probe acknowledgement deadline
	StartJitter  time.Duration // random delay before the first batch after connect
}

// DefaultConfig returns the default probing schedule
func DefaultConfig() Config {
	return Config{
		Iterations:   5,
		Interval:     15 * time.Second,
		ProbeTimeout: 5 * time.Second,
		StartJitter:  100 * time.Millisecond,
	}
}

// Estimator runs probe batches against a Prober and publishes the result to a
// State.
type Estimator struct {
	prober  Prober
	state   *State
	config  Config
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics MetricsCollector

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Estimator
type Option func(*Estimator)

// WithClock sets the clock used for sample timing and scheduling.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Estimator) { e.clock = clock }
}

// WithLogger sets the estimator's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Estimator) { e.logger = logger.With().Str("component", "latency").Logger() }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(e *Estimator) { e.metrics = metrics }
}

// NewEstimator creates an estimator that probes through prober and publishes
// to state.
func NewEstimator(prober Prober, state *State, config Config, opts ...Option) *Estimator {
	if config.Iterations < 1 {
		config.Iterations = DefaultConfig().Iterations
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultConfig().ProbeTimeout
	}

	e := &Estimator{
		prober:  prober,
		state:   state,
		config:  config,
		clock:   clockwork.NewRealClock(),
		logger:  log.With().Str("component", "latency").Logger(),
		metrics: NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate runs a batch of probes and returns the one-way latency together
// with the number of samples it was computed from.
//
// Failed, timed out and negative samples are skipped. When no sample is valid,
// or ctx was cancelled during the batch, the previous estimate is returned
// unchanged with a sample count of zero.
func (e *Estimator) Estimate(ctx context.Context, iterations int) (time.Duration, int) {
	var (
		sum   time.Duration
		valid int
	)
	for i := 0; i < iterations && ctx.Err() == nil; i++ {
		rtt, err := e.sample(ctx)
		if err != nil {
			e.metrics.RecordProbeFailure()
			e.logger.Debug().Err(err).Int("iteration", i).Msg("discarding latency sample")
			continue
		}
		sum += rtt
		valid++
	}

	if valid == 0 || ctx.Err() != nil {
		prev := e.state.Value()
		e.logger.Debug().
			Int("iterations", iterations).
			Int("valid", valid).
			Int64("latency_ms", roundMillis(prev)).
			Msg("no usable latency samples, keeping previous estimate")
		return prev, 0
	}

	oneWay := time.Duration(roundMillis(sum/time.Duration(valid)/2)) * time.Millisecond
	if e.state.set(oneWay) {
		e.logger.Info().Int64("latency_ms", oneWay.Milliseconds()).Int("samples", valid).Msg("latency changed")
	}
	e.metrics.RecordLatency(oneWay.Milliseconds())
	return oneWay, valid
}

// sample measures one round trip
func (e *Estimator) sample(ctx context.Context) (time.Duration, error) {
	probeCtx, cancel := context.WithTimeout(ctx, e.config.ProbeTimeout)
	defer cancel()

	t0 := e.clock.Now()
	err := e.prober.Probe(probeCtx)
	t1 := e.clock.Now()

	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbeFailure, err)
	}
	if t1.Before(t0) {
		return 0, fmt.Errorf("%w: negative round trip %s", ErrProbeFailure, t1.Sub(t0))
	}
	return t1.Sub(t0), nil
}

// SetOnline starts the probe schedule on connect and cancels it on
// disconnect. Disconnecting keeps the estimate but marks it untrusted.
func (e *Estimator) SetOnline(online bool) {
	if !online {
		e.Stop()

		e.mu.Lock()
		if e.cancel == nil {
			e.state.invalidate()
		}
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	go e.run(ctx, done)
}

// Running reports whether the probe schedule is active.
func (e *Estimator) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// Stop cancels the probe schedule and waits for the running batch to return.
func (e *Estimator) Stop() {
	e.mu.Lock()
	done := e.done
	e.stopLocked()
	e.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (e *Estimator) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
		e.done = nil
	}
}

func (e *Estimator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if e.config.StartJitter > 0 {
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(rand.N(e.config.StartJitter)):
		}
	}

	ticker := e.clock.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		e.Estimate(ctx, e.config.Iterations)

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
		}
	}
}
