package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Headers set on every mirrored message besides the JetStream msg id.
const (
	HeaderAction     = "Scoreboard-Action"
	HeaderBout       = "Scoreboard-Bout"
	HeaderServerTime = "Scoreboard-Server-Time"
)

// noBout is the subject token for events whose args name no bout.
const noBout = "_"

// JetStreamConfig locates the stream push events are mirrored to.
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	Retention     time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "SCOREBOARD_EVENTS",
		SubjectPrefix: "scoreboard.events",
		Retention:     24 * time.Hour,
	}
}

// streamConfig covers every bout and action under the prefix. Duplicate
// detection uses the server's default window.
func (c JetStreamConfig) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        c.StreamName,
		Description: "Scoreboard push events by bout and action",
		Subjects:    []string{c.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		Discard:     jetstream.DiscardOld,
		MaxAge:      c.Retention,
		Storage:     jetstream.FileStorage,
	}
}

// JetStreamPublisher republishes push events onto a JetStream stream, one
// subject per bout and action.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	logger zerolog.Logger
}

func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig, logger zerolog.Logger) (*JetStreamPublisher, error) {
	p := &JetStreamPublisher{
		config: cfg,
		logger: logger.With().Str("component", "jetstream").Str("stream", cfg.StreamName).Logger(),
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("scoreboard-sync"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.logger.Warn().Err(err).Msg("NATS disconnected, events queue up until it returns")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg.streamConfig()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}

	p.nc, p.js = nc, js
	p.logger.Info().Str("subjects", cfg.SubjectPrefix+".>").Msg("mirroring push events")
	return p, nil
}

// Subject returns the subject for an action on a bout. Tokens are sanitized
// so that no event can address more than one subject level.
func Subject(prefix, bout, action string) string {
	if bout == "" {
		bout = noBout
	}
	return prefix + "." + subjectToken(bout) + "." + subjectToken(action)
}

func subjectToken(s string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
	if token == "" {
		return "unknown"
	}
	return token
}

// boutOf returns the bout named by push args of the form {"uri":{"bout":id}}.
func boutOf(args json.RawMessage) string {
	var ref struct {
		URI struct {
			Bout string `json:"bout"`
		} `json:"uri"`
	}
	if len(args) == 0 || json.Unmarshal(args, &ref) != nil {
		return ""
	}
	return ref.URI.Bout
}

// message wraps event for the stream. The event id doubles as the JetStream
// msg id, so a retried publish is stored once.
func message(prefix string, event Event) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	bout := boutOf(event.Args)
	msg := nats.NewMsg(Subject(prefix, bout, event.Action))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID.String())
	msg.Header.Set(HeaderAction, event.Action)
	if bout != "" {
		msg.Header.Set(HeaderBout, bout)
	}
	if event.ServerTimestamp != nil {
		msg.Header.Set(HeaderServerTime, event.ServerTimestamp.UTC().Format(time.RFC3339Nano))
	}
	return msg, nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := message(p.config.SubjectPrefix, event)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, msg, jetstream.WithExpectStream(p.config.StreamName))
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	p.logger.Debug().
		Str("subject", msg.Subject).
		Str("event_id", event.ID.String()).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("event mirrored")
	return nil
}

// Connected reports whether the NATS connection is up.
func (p *JetStreamPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
