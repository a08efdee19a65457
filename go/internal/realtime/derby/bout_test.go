package derby

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcdev12/scoreboard/go/internal/realtime/clock"
)

const boutJSON = `{
	"id": "b1",
	"clocks": {
		"intermission": {"elapsed": 0, "alarm": 900000, "isRunning": false},
		"period": {"elapsed": 61000, "alarm": 1800000, "isRunning": true},
		"lineup": {"elapsed": 0, "alarm": null, "isRunning": false},
		"jam": {"elapsed": 12000, "alarm": 120000, "isRunning": true},
		"timeout": {"elapsed": 0, "alarm": null, "isRunning": false}
	},
	"info": {"date": "2024-03-09", "gameNumber": "3", "venue": "Rink"},
	"periods": [{"jamCount": 3}, {"jamCount": 0}],
	"jams": {"jamCounts": [3, 0], "score": {"home": 14, "away": 9}},
	"timeouts": {
		"remaining": {
			"home": {"timeouts": 3, "officialReviews": 1},
			"away": {"timeouts": 2, "officialReviews": 1}
		},
		"ongoing": null
	}
}`

func TestDecodeBout(t *testing.T) {
	b, err := DecodeBout([]byte(boutJSON))
	require.NoError(t, err)

	require.Equal(t, "b1", b.ID)
	require.Equal(t, 14, b.Jams.Score.Home)
	require.Equal(t, 2, b.Timeouts.Remaining[TeamAway].Timeouts)
	require.Nil(t, b.Timeouts.Ongoing)

	kind, d, err := b.Clock(clock.FieldAction)
	require.NoError(t, err)
	require.Equal(t, clock.KindJam, kind)
	require.True(t, d.Running)
	require.Equal(t, int64(120000), *d.Alarm)

	kind, _, err = b.Clock(clock.FieldGame)
	require.NoError(t, err)
	require.Equal(t, clock.KindPeriod, kind)

	_, err = DecodeBout([]byte(`{"clocks": 5}`))
	require.Error(t, err)
}

func TestJamNavigation(t *testing.T) {
	b := &Bout{Periods: []Period{{JamCount: 3}, {JamCount: 2}}}

	prev, ok := b.PreviousJam(JamRef{Bout: "b1", Period: 1, Jam: 0})
	require.True(t, ok)
	require.Equal(t, JamRef{Bout: "b1", Period: 0, Jam: 2}, prev)

	_, ok = b.PreviousJam(JamRef{Bout: "b1", Period: 0, Jam: 0})
	require.False(t, ok)

	next, ok := b.NextJam(JamRef{Bout: "b1", Period: 0, Jam: 2})
	require.True(t, ok)
	require.Equal(t, JamRef{Bout: "b1", Period: 1, Jam: 0}, next)

	next, ok = b.NextJam(JamRef{Bout: "b1", Period: 1, Jam: 0})
	require.True(t, ok)
	require.Equal(t, JamRef{Bout: "b1", Period: 1, Jam: 1}, next)

	_, ok = b.NextJam(JamRef{Bout: "b1", Period: 1, Jam: 1})
	require.False(t, ok)
}

func TestNextJamWaitsForSecondPeriod(t *testing.T) {
	b := &Bout{Periods: []Period{{JamCount: 4}, {JamCount: 0}}}

	_, ok := b.NextJam(JamRef{Period: 0, Jam: 3})
	require.False(t, ok)

	prev, ok := b.PreviousJam(JamRef{Period: 0, Jam: 3})
	require.True(t, ok)
	require.Equal(t, 2, prev.Jam)
}
