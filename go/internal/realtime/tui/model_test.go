package tui

import (
	"encoding/json"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/scoreboard/go/internal/realtime"
	"github.com/mcdev12/scoreboard/go/internal/realtime/clock"
	"github.com/mcdev12/scoreboard/go/internal/realtime/store"
)

type stubClock struct {
	kind    clock.Kind
	reading clock.Reading
	err     error
}

func (s *stubClock) Reading() clock.Reading { return s.reading }
func (s *stubClock) Kind() clock.Kind       { return s.kind }
func (s *stubClock) Err() error             { return s.err }

type stubStatus struct{ status realtime.Status }

func (s *stubStatus) Status() realtime.Status { return s.status }

type stubBout struct{ snap store.Snapshot }

func (s *stubBout) Snapshot() store.Snapshot { return s.snap }

func remaining(ms int64) *int64 { return &ms }

func TestViewRendersClocksAndStatus(t *testing.T) {
	game := &stubClock{kind: clock.KindPeriod, reading: clock.Reading{
		State: clock.StateRunning, Running: true, Remaining: remaining(1_740_000),
	}}
	action := &stubClock{kind: clock.KindJam, reading: clock.Reading{
		State: clock.StateRunning, Running: true, Remaining: remaining(9_400),
	}}
	status := &stubStatus{status: realtime.Status{Online: true, LatencyMs: 12, LatencyTrusted: true}}
	bout := &stubBout{snap: store.Snapshot{
		HasData: true,
		Data:    json.RawMessage(`{"jams": {"score": {"home": 41, "away": 37}}}`),
	}}

	m := New(Options{BoutID: "b1", Status: status, Game: game, Action: action, Bout: bout})
	view := m.View()

	require.Contains(t, view, "Bout b1")
	require.Contains(t, view, "Game (period)")
	require.Contains(t, view, "29:00")
	require.Contains(t, view, "Action (jam)")
	require.Contains(t, view, "9.4")
	require.Contains(t, view, "41 - 37")
	require.Contains(t, view, "online")
	require.Contains(t, view, "12 ms")
	require.NotContains(t, view, "stale")
}

func TestTickPicksUpChanges(t *testing.T) {
	action := &stubClock{kind: clock.KindJam}
	status := &stubStatus{status: realtime.Status{Online: true, LatencyTrusted: true}}
	bout := &stubBout{}

	m := New(Options{Status: status, Action: action, Bout: bout})
	require.Contains(t, m.View(), "--:--")

	action.kind = clock.KindLineup
	action.reading = clock.Reading{State: clock.StateExpired, Remaining: remaining(0)}
	status.status = realtime.Status{Online: false, LatencyMs: 12}
	bout.snap = store.Snapshot{Stale: true}

	next, cmd := m.Update(tickMsg{})
	require.NotNil(t, cmd)
	view := next.View()
	require.Contains(t, view, "Action (lineup)")
	require.Contains(t, view, "0.0")
	require.Contains(t, view, "offline")
	require.Contains(t, view, "12 ms (stale)")
	require.Contains(t, view, "data stale")
}

func TestClockErrorIsShown(t *testing.T) {
	game := &stubClock{err: errors.New("no period timer")}
	m := New(Options{Game: game})
	require.Contains(t, m.View(), "unavailable")
}

func TestQuitKeys(t *testing.T) {
	m := New(Options{})
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := m.Update(key)
		require.NotNil(t, cmd)
		require.IsType(t, tea.QuitMsg{}, cmd())
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.Nil(t, cmd)
}
