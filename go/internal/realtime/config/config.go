// Package config loads scoreboard-sync settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/scoreboard/go/internal/realtime/clock"
	"github.com/mcdev12/scoreboard/go/internal/realtime/latency"
	"github.com/mcdev12/scoreboard/go/internal/realtime/mirror"
	"github.com/mcdev12/scoreboard/go/internal/realtime/store"
	"github.com/mcdev12/scoreboard/go/internal/realtime/transport"
)

// Duration is a time.Duration written as a Go duration string ("15s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server struct {
		URL              string   `yaml:"url"`
		HandshakeTimeout Duration `yaml:"handshake_timeout"`
		PingInterval     Duration `yaml:"ping_interval"`
		ReconnectWait    Duration `yaml:"reconnect_wait"`
		MaxReconnects    int      `yaml:"max_reconnects"`
	} `yaml:"server"`

	Latency struct {
		Iterations   int      `yaml:"iterations"`
		Interval     Duration `yaml:"interval"`
		ProbeTimeout Duration `yaml:"probe_timeout"`
		StartJitter  Duration `yaml:"start_jitter"`
	} `yaml:"latency"`

	Stores struct {
		EvictionGrace Duration `yaml:"eviction_grace"`
	} `yaml:"stores"`

	Clock struct {
		Tick        Duration `yaml:"tick"`
		ClampAtZero bool     `yaml:"clamp_at_zero"`
	} `yaml:"clock"`

	Watch struct {
		Bout string `yaml:"bout"`
	} `yaml:"watch"`

	Mirror struct {
		Enabled       bool   `yaml:"enabled"`
		NATSURL       string `yaml:"nats_url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
		QueueSize     int    `yaml:"queue_size"`
	} `yaml:"mirror"`

	Status struct {
		Addr string `yaml:"addr"`
	} `yaml:"status"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the built-in settings.
func Default() Config {
	var c Config

	ws := transport.DefaultWebSocketConfig("ws://localhost:8000/ws")
	c.Server.URL = ws.URL
	c.Server.HandshakeTimeout = Duration(ws.HandshakeTimeout)
	c.Server.PingInterval = Duration(ws.PingInterval)
	c.Server.ReconnectWait = Duration(ws.ReconnectWait)
	c.Server.MaxReconnects = ws.MaxReconnects

	lat := latency.DefaultConfig()
	c.Latency.Iterations = lat.Iterations
	c.Latency.Interval = Duration(lat.Interval)
	c.Latency.ProbeTimeout = Duration(lat.ProbeTimeout)
	c.Latency.StartJitter = Duration(lat.StartJitter)

	c.Stores.EvictionGrace = Duration(store.DefaultEvictionGrace)

	opts := clock.DefaultOptions()
	c.Clock.Tick = Duration(opts.Tick)
	c.Clock.ClampAtZero = opts.ClampAtZero

	js := mirror.DefaultJetStreamConfig()
	c.Mirror.NATSURL = js.URL
	c.Mirror.Stream = js.StreamName
	c.Mirror.SubjectPrefix = js.SubjectPrefix
	c.Mirror.QueueSize = mirror.DefaultConfig().QueueSize

	c.Status.Addr = ":9090"
	c.Log.Level = "info"
	return c
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from SCOREBOARD_* and related variables.
func (c *Config) ApplyEnv() {
	c.Server.URL = getEnv("SCOREBOARD_URL", c.Server.URL)
	c.Watch.Bout = getEnv("SCOREBOARD_BOUT", c.Watch.Bout)
	c.Status.Addr = getEnv("SCOREBOARD_STATUS_ADDR", c.Status.Addr)
	c.Latency.Iterations = getEnvAsInt("SCOREBOARD_LATENCY_ITERATIONS", c.Latency.Iterations)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.Mirror.NATSURL = natsURL
		c.Mirror.Enabled = true
	}
}

func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Server.URL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("server.url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("server.url: scheme must be ws or wss, got %q", u.Scheme))
	}
	if c.Latency.Iterations < 1 {
		errs = append(errs, fmt.Errorf("latency.iterations must be at least 1, got %d", c.Latency.Iterations))
	}
	if c.Latency.Interval <= 0 {
		errs = append(errs, errors.New("latency.interval must be positive"))
	}
	if c.Clock.Tick <= 0 {
		errs = append(errs, errors.New("clock.tick must be positive"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// LogLevel returns the configured level, defaulting to info.
func (c Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func (c Config) WebSocket() transport.WebSocketConfig {
	ws := transport.DefaultWebSocketConfig(c.Server.URL)
	ws.HandshakeTimeout = c.Server.HandshakeTimeout.Std()
	ws.PingInterval = c.Server.PingInterval.Std()
	ws.ReconnectWait = c.Server.ReconnectWait.Std()
	ws.MaxReconnects = c.Server.MaxReconnects
	return ws
}

func (c Config) LatencyConfig() latency.Config {
	return latency.Config{
		Iterations:   c.Latency.Iterations,
		Interval:     c.Latency.Interval.Std(),
		ProbeTimeout: c.Latency.ProbeTimeout.Std(),
		StartJitter:  c.Latency.StartJitter.Std(),
	}
}

func (c Config) ClockOptions() clock.Options {
	return clock.Options{ClampAtZero: c.Clock.ClampAtZero, Tick: c.Clock.Tick.Std()}
}

func (c Config) JetStream() mirror.JetStreamConfig {
	js := mirror.DefaultJetStreamConfig()
	js.URL = c.Mirror.NATSURL
	js.StreamName = c.Mirror.Stream
	js.SubjectPrefix = c.Mirror.SubjectPrefix
	return js
}

func (c Config) MirrorConfig() mirror.Config {
	m := mirror.DefaultConfig()
	m.QueueSize = c.Mirror.QueueSize
	return m
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
