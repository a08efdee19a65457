// Package mirror republishes push events received from the scoreboard server
// so other consumers (overlays, recorders) can follow a bout without holding
// their own scoreboard connection.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/scoreboard/go/internal/realtime/transport"
)

var (
	ErrAlreadyRunning = errors.New("mirror already running")
	ErrNotRunning     = errors.New("mirror not running")
)

// Event is the envelope published for every push event.
type Event struct {
	ID              uuid.UUID       `json:"eventId"`
	Action          string          `json:"action"`
	Args            json.RawMessage `json:"args,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	ServerTimestamp *time.Time      `json:"serverTimestamp,omitempty"`
	ReceivedAt      time.Time       `json:"receivedAt"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// MetricsCollector receives mirror activity
type MetricsCollector interface {
	RecordEventPublished(action string, success bool, duration time.Duration)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEventPublished(action string, success bool, duration time.Duration) {}

type Config struct {
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:  256,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Mirror queues push events and publishes them from a single worker
// goroutine, preserving arrival order.
type Mirror struct {
	publisher Publisher
	config    Config
	clock     clockwork.Clock
	logger    zerolog.Logger
	metrics   MetricsCollector

	queue chan Event

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

type Option func(*Mirror)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Mirror) { m.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Mirror) { m.logger = logger.With().Str("component", "mirror").Logger() }
}

func WithMetrics(metrics MetricsCollector) Option {
	return func(m *Mirror) { m.metrics = metrics }
}

func New(publisher Publisher, cfg Config, opts ...Option) *Mirror {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	m := &Mirror{
		publisher: publisher,
		config:    cfg,
		clock:     clockwork.NewRealClock(),
		logger:    log.With().Str("component", "mirror").Logger(),
		metrics:   NoOpMetricsCollector{},
		queue:     make(chan Event, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopChan = make(chan struct{})

	m.wg.Add(1)
	go m.run(ctx, m.stopChan)

	m.logger.Info().Int("queue_size", m.config.QueueSize).Msg("event mirror started")
	return nil
}

func (m *Mirror) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().
		Uint64("published", m.published.Load()).
		Uint64("dropped", m.dropped.Load()).
		Uint64("failed", m.failed.Load()).
		Msg("event mirror stopped")
	return nil
}

// Enqueue queues msg for publishing. Events are dropped when the queue is
// full so a slow broker never stalls the scoreboard connection.
func (m *Mirror) Enqueue(msg *transport.Message) bool {
	event := Event{
		ID:              uuid.New(),
		Action:          msg.Action,
		Args:            msg.Args,
		Data:            msg.Data,
		ServerTimestamp: msg.ServerTimestamp,
		ReceivedAt:      m.clock.Now().UTC(),
	}

	select {
	case m.queue <- event:
		return true
	default:
		m.dropped.Add(1)
		m.logger.Warn().Str("action", msg.Action).Msg("mirror queue full, dropping event")
		return false
	}
}

// Stats returns how many events were published, dropped and failed.
func (m *Mirror) Stats() (published, dropped, failed uint64) {
	return m.published.Load(), m.dropped.Load(), m.failed.Load()
}

func (m *Mirror) run(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event := <-m.queue:
			start := m.clock.Now()
			err := m.publishWithRetry(ctx, stop, event)
			m.metrics.RecordEventPublished(event.Action, err == nil, m.clock.Since(start))
			if err != nil {
				m.failed.Add(1)
				m.logger.Error().Err(err).
					Str("event_id", event.ID.String()).
					Str("action", event.Action).
					Msg("failed to mirror event")
				continue
			}
			m.published.Add(1)
		}
	}
}

func (m *Mirror) publishWithRetry(ctx context.Context, stop <-chan struct{}, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-stop:
				return fmt.Errorf("stopped after %d attempts: %w", attempt, lastErr)
			case <-m.clock.After(m.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := m.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			m.logger.Warn().Err(err).
				Str("event_id", event.ID.String()).
				Int("attempt", attempt+1).
				Msg("failed to publish event, retrying")
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", m.config.MaxRetries+1, lastErr)
}
