package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/scoreboard/go/internal/realtime"
	"github.com/mcdev12/scoreboard/go/internal/realtime/config"
	"github.com/mcdev12/scoreboard/go/internal/realtime/metrics"
	"github.com/mcdev12/scoreboard/go/internal/realtime/mirror"
	"github.com/mcdev12/scoreboard/go/internal/realtime/transport"
)

// app owns everything one scoreboard connection needs.
type app struct {
	cfg       config.Config
	ws        *transport.WebSocket
	client    *realtime.Client
	metrics   *metrics.PrometheusMetrics
	mirror    *mirror.Mirror
	publisher *mirror.JetStreamPublisher
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		metrics: metrics.NewPrometheusMetrics(),
		ws:      transport.NewWebSocket(cfg.WebSocket()).WithLogger(log.Logger),
	}

	opts := []realtime.Option{
		realtime.WithLogger(log.Logger),
		realtime.WithLatencyConfig(cfg.LatencyConfig()),
		realtime.WithEvictionGrace(cfg.Stores.EvictionGrace.Std()),
		realtime.WithClockOptions(cfg.ClockOptions()),
		realtime.WithMetrics(a.metrics),
	}

	if cfg.Mirror.Enabled {
		pub, err := mirror.NewJetStreamPublisher(ctx, cfg.JetStream(), log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create event mirror: %w", err)
		}
		a.publisher = pub
		a.mirror = mirror.New(pub, cfg.MirrorConfig(),
			mirror.WithLogger(log.Logger),
			mirror.WithMetrics(a.metrics),
		)
		opts = append(opts, realtime.WithEventSink(a.mirror))
	}

	a.client = realtime.New(a.ws, opts...)
	return a, nil
}

// Start runs the websocket and the mirror until ctx ends.
func (a *app) Start(ctx context.Context) {
	if a.mirror != nil {
		if err := a.mirror.Start(ctx); err != nil {
			log.Error().Err(err).Msg("failed to start event mirror")
		}
	}

	go func() {
		if err := a.ws.Run(ctx); err != nil {
			log.Error().Err(err).Str("url", a.cfg.Server.URL).Msg("scoreboard connection gave up")
		}
	}()
}

// WaitOnline blocks until the client is connected or ctx ends.
func (a *app) WaitOnline(ctx context.Context) error {
	online := make(chan struct{}, 1)
	sub := a.client.SubscribeConnectivity(func(up bool) {
		if up {
			select {
			case online <- struct{}{}:
			default:
			}
		}
	})
	defer sub.Close()

	if a.client.Online() {
		return nil
	}
	select {
	case <-online:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops syncing. The websocket stops with the context passed to Start.
func (a *app) Close() {
	a.client.Close()

	if a.mirror != nil {
		if err := a.mirror.Stop(); err != nil && !errors.Is(err, mirror.ErrNotRunning) {
			log.Error().Err(err).Msg("failed to stop event mirror")
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close NATS connection")
		}
	}
}
