package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/scoreboard/go/internal/realtime/clock"
	"github.com/mcdev12/scoreboard/go/internal/realtime/correlator"
	"github.com/mcdev12/scoreboard/go/internal/realtime/derby"
	"github.com/mcdev12/scoreboard/go/internal/realtime/latency"
	"github.com/mcdev12/scoreboard/go/internal/realtime/store"
	"github.com/mcdev12/scoreboard/go/internal/realtime/transport"
	"github.com/mcdev12/scoreboard/go/internal/realtime/transport/transporttest"
)

const testBout = `{
	"clocks": {
		"intermission": {"elapsed": 0, "alarm": 900000, "running": false},
		"period": {"elapsed": 60000, "alarm": 1800000, "running": true},
		"lineup": {"elapsed": 0, "alarm": 30000, "running": false},
		"jam": {"elapsed": 119500, "alarm": 120000, "running": true},
		"timeout": {"elapsed": 0, "alarm": null, "running": false}
	},
	"periods": [{"jamCount": 4}, {"jamCount": 0}]
}`

// server answers requests sent through a fake transport.
type server struct {
	fake *transporttest.Fake

	mu      sync.Mutex
	data    map[string]json.RawMessage
	holding bool
}

func newServer() *server {
	s := &server{fake: transporttest.New(), data: map[string]json.RawMessage{
		"ping": json.RawMessage(`"pong"`),
	}}
	s.fake.OnSend(func(msg *transport.Message) {
		s.mu.Lock()
		data, ok := s.data[msg.Action]
		hold := s.holding
		s.mu.Unlock()

		if hold && msg.Action != "ping" {
			return
		}
		if !ok {
			s.fake.Fail(msg.TransactionID, "NotFound", msg.Action)
			return
		}
		s.fake.Ack(msg.TransactionID, data)
	})
	return s
}

func (s *server) set(action, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[action] = json.RawMessage(data)
}

func (s *server) hold(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = v
}

type sinkRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *sinkRecorder) Enqueue(msg *transport.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, msg.Action)
	return true
}

func (r *sinkRecorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}

func newTestClient(t *testing.T, srv *server, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithLogger(zerolog.New(io.Discard)),
		WithLatencyConfig(latency.Config{Iterations: 2, Interval: time.Hour, ProbeTimeout: time.Second}),
	}
	c := New(srv.fake, append(base, opts...)...)
	t.Cleanup(c.Close)
	return c
}

func TestAcksAndPushesAreRoutedSeparately(t *testing.T) {
	srv := newServer()
	srv.fake.Connect()
	sink := &sinkRecorder{}
	c := newTestClient(t, srv, WithEventSink(sink))

	var pushes atomic.Int32
	defer c.OnEvent("jam", func(*transport.Message) { pushes.Add(1) }).Close()

	data, err := c.Request(context.Background(), "ping", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"pong"`, string(data))
	require.Equal(t, int32(0), pushes.Load())

	srv.fake.Push("jam", derby.JamRef{Bout: "b1", Jam: 2}.Args(), map[string]int{"points": 3})
	require.Equal(t, int32(1), pushes.Load())
	require.Equal(t, []string{"jam"}, sink.Actions())

	srv.fake.Ack("no-such-transaction", nil)
	require.Equal(t, int32(1), pushes.Load())
	require.Len(t, sink.Actions(), 1)
}

// recorder collects the payloads a view publishes.
type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) record(s store.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, string(s.Data))
}

func (r *recorder) contains(data string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.seen {
		if s == data {
			return true
		}
	}
	return false
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return ""
	}
	return r.seen[len(r.seen)-1]
}

type jamPayload struct {
	Points int `json:"points"`
}

func TestResourceViewFollowsPushesForItsIdentity(t *testing.T) {
	srv := newServer()
	srv.set("jam", `{"points":0}`)
	srv.fake.Connect()
	c := newTestClient(t, srv)

	jam2 := derby.JamRef{Bout: "b1", Period: 0, Jam: 2}
	jam3 := derby.JamRef{Bout: "b1", Period: 0, Jam: 3}

	view, err := c.Resource(derby.ResourceJam, jam2.Args())
	require.NoError(t, err)
	defer view.Close()

	var jam jamPayload
	require.NoError(t, view.Decode(context.Background(), &jam))
	require.Equal(t, 0, jam.Points)

	rec := &recorder{}
	defer view.Subscribe(rec.record).Close()

	srv.fake.Push(derby.ResourceJam, jam3.Args(), map[string]int{"points": 9})
	srv.fake.Push(derby.ResourceJam, jam2.Args(), map[string]int{"points": 4})

	require.True(t, rec.contains(`{"points":4}`))
	require.False(t, rec.contains(`{"points":9}`))
	require.JSONEq(t, `{"points":4}`, string(view.Snapshot().Data))
}

func TestRebindIgnoresPreviousStore(t *testing.T) {
	srv := newServer()
	srv.set("jam", `{"points":1}`)
	srv.fake.Connect()
	c := newTestClient(t, srv)

	jam1 := derby.JamRef{Bout: "b1", Jam: 1}
	jam2 := derby.JamRef{Bout: "b1", Jam: 2}

	view, err := c.Resource(derby.ResourceJam, jam1.Args())
	require.NoError(t, err)
	defer view.Close()
	require.Eventually(t, func() bool { return view.Snapshot().HasData }, time.Second, time.Millisecond)

	rec := &recorder{}
	defer view.Subscribe(rec.record).Close()

	require.NoError(t, view.Rebind(derby.ResourceJam, jam2.Args()))
	require.Eventually(t, func() bool { return view.Snapshot().HasData }, time.Second, time.Millisecond)

	srv.fake.Push(derby.ResourceJam, jam1.Args(), map[string]int{"points": 7})
	srv.fake.Push(derby.ResourceJam, jam2.Args(), map[string]int{"points": 8})

	require.True(t, rec.contains(`{"points":8}`))
	require.False(t, rec.contains(`{"points":7}`))
	require.Equal(t, 2, c.Status().Stores)
}

func TestViewListenersEndOnLatestSnapshot(t *testing.T) {
	srv := newServer()
	srv.set("jam", `{"points":0}`)
	srv.fake.Connect()
	c := newTestClient(t, srv)

	jam := derby.JamRef{Bout: "b1", Jam: 1}
	view, err := c.Resource(derby.ResourceJam, jam.Args())
	require.NoError(t, err)
	defer view.Close()
	require.Eventually(t, func() bool { return view.Snapshot().HasData }, time.Second, time.Millisecond)

	rec := &recorder{}
	defer view.Subscribe(rec.record).Close()

	for i := 1; i <= 50; i++ {
		var wg sync.WaitGroup
		var rebindErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			srv.fake.Push(derby.ResourceJam, jam.Args(), map[string]int{"points": i})
		}()
		go func() {
			defer wg.Done()
			rebindErr = view.Rebind(derby.ResourceJam, jam.Args())
		}()
		wg.Wait()

		require.NoError(t, rebindErr)
		require.Equal(t, fmt.Sprintf(`{"points":%d}`, i), rec.last())
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	srv := newServer()
	srv.set("jam", `{"points":2}`)
	srv.fake.Connect()
	c := newTestClient(t, srv)
	require.True(t, c.Online())

	require.Eventually(t, c.LatencyTrusted, time.Second, time.Millisecond)

	view, err := c.Resource(derby.ResourceJam, derby.JamRef{Bout: "b1", Jam: 0}.Args())
	require.NoError(t, err)
	defer view.Close()
	require.Eventually(t, func() bool { return !view.Snapshot().Stale }, time.Second, time.Millisecond)
	fetches := srv.fake.SentCount(derby.ResourceJam)

	// a request left unanswered across the disconnect
	srv.hold(true)
	pending := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "Jam.start", nil)
		pending <- err
	}()
	require.Eventually(t, func() bool { return c.Status().Pending == 1 }, time.Second, time.Millisecond)

	var transitions []bool
	defer c.SubscribeConnectivity(func(online bool) { transitions = append(transitions, online) }).Close()

	srv.fake.Disconnect()
	require.ErrorIs(t, <-pending, correlator.ErrConnectionLost)
	require.False(t, c.Online())
	require.False(t, c.LatencyTrusted())

	snap := view.Snapshot()
	require.True(t, snap.Stale)
	require.True(t, snap.HasData)
	require.Equal(t, fetches, srv.fake.SentCount(derby.ResourceJam))

	_, err = c.Request(context.Background(), "ping", nil)
	require.ErrorIs(t, err, correlator.ErrConnectionLost)

	srv.hold(false)
	srv.fake.Connect()
	require.Eventually(t, func() bool { return !view.Snapshot().Stale }, time.Second, time.Millisecond)
	require.Equal(t, fetches+1, srv.fake.SentCount(derby.ResourceJam))
	require.Equal(t, []bool{false, true}, transitions)
	require.Eventually(t, c.LatencyTrusted, time.Second, time.Millisecond)
}

func TestClockViewInterpolatesBoutTimer(t *testing.T) {
	fc := clockwork.NewFakeClock()
	srv := newServer()
	srv.set(derby.ResourceBout, testBout)
	srv.fake.Connect()
	c := newTestClient(t, srv, WithClock(fc))

	cv, err := c.Clock(derby.BoutArgs("b1"), clock.FieldAction)
	require.NoError(t, err)
	defer cv.Close()

	require.Eventually(t, func() bool { return cv.Reading().State == clock.StateRunning }, time.Second, time.Millisecond)
	require.Equal(t, clock.KindJam, cv.Kind())
	require.NoError(t, cv.Err())

	for i := 0; i < 12; i++ {
		fc.Advance(50 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return cv.Reading().State == clock.StateExpired }, time.Second, time.Millisecond)
	require.Equal(t, int64(0), *cv.Reading().Remaining)

	// the jam ends and lineup starts
	srv.fake.Push(derby.ResourceBout, derby.BoutArgs("b1"), json.RawMessage(`{
		"clocks": {
			"jam": {"elapsed": 120000, "alarm": 120000, "running": false},
			"lineup": {"elapsed": 0, "alarm": 30000, "running": true},
			"timeout": {"elapsed": 0, "alarm": null, "running": false}
		}
	}`))
	require.Equal(t, clock.KindLineup, cv.Kind())
	reading := cv.Reading()
	require.Equal(t, clock.StateRunning, reading.State)
	require.Equal(t, int64(30000), *reading.Remaining)
}

func TestClockViewRejectsUnknownField(t *testing.T) {
	srv := newServer()
	srv.set(derby.ResourceBout, `{"clocks": {"period": {"elapsed": 0, "alarm": 1800000, "running": false}}}`)
	srv.fake.Connect()
	c := newTestClient(t, srv)

	_, err := c.Clock(derby.BoutArgs("b1"), "halftime")
	var unknown *clock.UnknownTimerFieldError
	require.ErrorAs(t, err, &unknown)

	// valid field, but the bout carries no jam timer
	cv, err := c.Clock(derby.BoutArgs("b1"), clock.FieldAction)
	require.NoError(t, err)
	defer cv.Close()
	require.Eventually(t, func() bool { return cv.Err() != nil }, time.Second, time.Millisecond)
	require.True(t, errors.As(cv.Err(), &unknown))
	require.Equal(t, clock.StateIdle, cv.Reading().State)
}

func TestCloseRejectsPendingRequests(t *testing.T) {
	srv := newServer()
	srv.hold(true)
	srv.fake.Connect()
	c := New(srv.fake, WithLogger(zerolog.New(io.Discard)))

	pending := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "Bout.reset", nil)
		pending <- err
	}()
	require.Eventually(t, func() bool { return c.Status().Pending == 1 }, time.Second, time.Millisecond)

	c.Close()
	err := <-pending
	require.ErrorIs(t, err, correlator.ErrConnectionLost)
	require.ErrorIs(t, err, ErrClientClosed)
	require.Equal(t, 0, c.Status().Stores)
}
