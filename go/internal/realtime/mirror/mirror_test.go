package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/scoreboard/go/internal/realtime/transport"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	fail   int
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errors.New("nats: no responders available for request")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func TestMirrorPublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	m := New(pub, DefaultConfig(), WithLogger(zerolog.New(io.Discard)))
	require.NoError(t, m.Start(context.Background()))
	require.ErrorIs(t, m.Start(context.Background()), ErrAlreadyRunning)

	for _, action := range []string{"bout", "jam", "boutTimeout"} {
		require.True(t, m.Enqueue(&transport.Message{
			Action: action,
			Args:   json.RawMessage(`{"uri":{"bout":"b1"}}`),
			Data:   json.RawMessage(`{}`),
		}))
	}

	require.Eventually(t, func() bool { return len(pub.Events()) == 3 }, time.Second, time.Millisecond)
	events := pub.Events()
	require.Equal(t, "bout", events[0].Action)
	require.Equal(t, "jam", events[1].Action)
	require.Equal(t, "boutTimeout", events[2].Action)
	require.NotEqual(t, events[0].ID, events[1].ID)

	require.NoError(t, m.Stop())
	require.ErrorIs(t, m.Stop(), ErrNotRunning)

	published, dropped, failed := m.Stats()
	require.Equal(t, uint64(3), published)
	require.Zero(t, dropped)
	require.Zero(t, failed)
}

func TestMirrorRetriesFailedPublish(t *testing.T) {
	fc := clockwork.NewFakeClock()
	pub := &recordingPublisher{fail: 2}
	cfg := Config{QueueSize: 4, MaxRetries: 3, RetryDelay: time.Second}
	m := New(pub, cfg, WithClock(fc), WithLogger(zerolog.New(io.Discard)))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	m.Enqueue(&transport.Message{Action: "jam"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(time.Second)
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(2 * time.Second)

	require.Eventually(t, func() bool { return len(pub.Events()) == 1 }, time.Second, time.Millisecond)
}

func TestMirrorDropsWhenQueueFull(t *testing.T) {
	m := New(&recordingPublisher{}, Config{QueueSize: 1}, WithLogger(zerolog.New(io.Discard)))

	require.True(t, m.Enqueue(&transport.Message{Action: "jam"}))
	require.False(t, m.Enqueue(&transport.Message{Action: "jam"}))

	_, dropped, _ := m.Stats()
	require.Equal(t, uint64(1), dropped)
}

func TestSubject(t *testing.T) {
	require.Equal(t, "scoreboard.events.b1.jam", Subject("scoreboard.events", "b1", "jam"))
	require.Equal(t, "scoreboard.events.b1.Jam_start", Subject("scoreboard.events", "b1", "Jam.start"))
	require.Equal(t, "scoreboard.events._.unknown", Subject("scoreboard.events", "", ""))
	require.Equal(t, "scoreboard.events.b___1.jam", Subject("scoreboard.events", "b.>.1", "jam"))
}

func TestMessageCarriesEventIdentity(t *testing.T) {
	at := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)
	event := Event{
		ID:              uuid.MustParse("9f1c2b3a-0d4e-4f56-8a7b-1c2d3e4f5a6b"),
		Action:          "jam",
		Args:            json.RawMessage(`{"uri":{"bout":"b1","period":0,"jam":2}}`),
		Data:            json.RawMessage(`{"points":3}`),
		ServerTimestamp: &at,
		ReceivedAt:      at.Add(40 * time.Millisecond),
	}

	msg, err := message("scoreboard.events", event)
	require.NoError(t, err)
	require.Equal(t, "scoreboard.events.b1.jam", msg.Subject)
	require.Equal(t, event.ID.String(), msg.Header.Get(nats.MsgIdHdr))
	require.Equal(t, "jam", msg.Header.Get(HeaderAction))
	require.Equal(t, "b1", msg.Header.Get(HeaderBout))
	require.Equal(t, "2026-03-14T18:30:00Z", msg.Header.Get(HeaderServerTime))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, event.ID, decoded.ID)
	require.JSONEq(t, `{"points":3}`, string(decoded.Data))
}

func TestMessageWithoutBout(t *testing.T) {
	msg, err := message("scoreboard.events", Event{ID: uuid.New(), Action: "ping", Args: json.RawMessage(`["x"]`)})
	require.NoError(t, err)
	require.Equal(t, "scoreboard.events._.ping", msg.Subject)
	require.Empty(t, msg.Header.Get(HeaderBout))
	require.Empty(t, msg.Header.Get(HeaderServerTime))
}
