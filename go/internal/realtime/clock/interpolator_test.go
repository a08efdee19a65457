package clock

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fixedLatency int64

func (l fixedLatency) Milliseconds() int64 { return int64(l) }

func ms(v int64) *int64 { return &v }

func newTestInterpolator(fc clockwork.Clock, latency int64, opts Options) *Interpolator {
	return New(fc, fixedLatency(latency), opts).WithLogger(zerolog.New(io.Discard))
}

type readingLog struct {
	mu       sync.Mutex
	readings []Reading
}

func (l *readingLog) add(r Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readings = append(l.readings, r)
}

func (l *readingLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.readings)
}

func TestClockStopsAtAlarm(t *testing.T) {
	fc := clockwork.NewFakeClock()
	interp := newTestInterpolator(fc, 0, DefaultOptions())
	defer interp.Close()

	interp.Set(Descriptor{Elapsed: 9500, Alarm: ms(10000), Running: true})
	require.True(t, interp.Ticking())

	for k := 0; k < 12; k++ {
		fc.Advance(50 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return !interp.Ticking() }, time.Second, time.Millisecond)

	r := interp.Reading()
	require.Equal(t, StateExpired, r.State)
	require.NotNil(t, r.Remaining)
	require.Equal(t, int64(0), *r.Remaining)
	require.Equal(t, int64(10000), r.Elapsed)

	fc.Advance(time.Second)
	require.Equal(t, int64(0), *interp.Reading().Remaining)
}

func TestClockMonotonicUntilAlarm(t *testing.T) {
	fc := clockwork.NewFakeClock()
	interp := newTestInterpolator(fc, 0, DefaultOptions())
	defer interp.Close()

	interp.Set(Descriptor{Elapsed: 0, Alarm: ms(5000), Running: true})

	var prevElapsed int64
	reachedZero := false
	for k := 0; k < 30; k++ {
		fc.Advance(250 * time.Millisecond)
		r := interp.Reading()

		require.GreaterOrEqual(t, r.Elapsed, prevElapsed)
		require.GreaterOrEqual(t, *r.Remaining, int64(0))
		require.LessOrEqual(t, r.Elapsed, int64(5000))
		if reachedZero {
			require.Equal(t, int64(0), *r.Remaining)
		}
		reachedZero = *r.Remaining == 0
		prevElapsed = r.Elapsed
	}
	require.True(t, reachedZero)
}

func TestClockOvertimeGoesNegative(t *testing.T) {
	fc := clockwork.NewFakeClock()
	interp := newTestInterpolator(fc, 0, Options{ClampAtZero: false})
	defer interp.Close()

	interp.Set(Descriptor{Elapsed: 9500, Alarm: ms(10000), Running: true})
	fc.Advance(600 * time.Millisecond)

	r := interp.Reading()
	require.Equal(t, int64(10100), r.Elapsed)
	require.Equal(t, int64(-100), *r.Remaining)
	require.Equal(t, StateRunning, r.State)
	require.True(t, interp.Ticking())
}

func TestClockBackdatesByLatency(t *testing.T) {
	fc := clockwork.NewFakeClock()
	interp := newTestInterpolator(fc, 120, DefaultOptions())
	defer interp.Close()

	interp.Set(Descriptor{Elapsed: 1000, Running: true})
	r := interp.Reading()
	require.Equal(t, int64(1120), r.Elapsed)
	require.Nil(t, r.Remaining)

	// stopped clocks are not backdated
	interp.Set(Descriptor{Elapsed: 1000})
	require.Equal(t, int64(1000), interp.Reading().Elapsed)
	require.Equal(t, StateStopped, interp.Reading().State)
}

func TestClockReplacementDiscardsLoop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	interp := newTestInterpolator(fc, 0, DefaultOptions())
	defer interp.Close()

	var log readingLog
	defer interp.Subscribe(log.add).Close()

	interp.Set(Descriptor{Elapsed: 0, Alarm: ms(60000), Running: true})
	fc.Advance(50 * time.Millisecond)
	require.Eventually(t, func() bool { return log.len() >= 2 }, time.Second, time.Millisecond)

	interp.Set(Descriptor{Elapsed: 30000, Alarm: ms(60000)})
	require.False(t, interp.Ticking())
	settled := log.len()

	fc.Advance(50 * time.Millisecond)
	fc.Advance(50 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, settled, log.len())
	last := interp.Reading()
	require.Equal(t, int64(30000), last.Elapsed)
	require.Equal(t, int64(30000), *last.Remaining)
}

func TestClockAlreadyPastAlarm(t *testing.T) {
	interp := newTestInterpolator(clockwork.NewFakeClock(), 0, DefaultOptions())
	defer interp.Close()

	interp.Set(Descriptor{Elapsed: 12000, Alarm: ms(10000), Running: true})
	require.False(t, interp.Ticking())
	r := interp.Reading()
	require.Equal(t, StateExpired, r.State)
	require.Equal(t, int64(0), *r.Remaining)

	interp.Set(Descriptor{Elapsed: -5})
	require.Equal(t, int64(0), interp.Reading().Elapsed)
}

func TestClockCloseStopsLoop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	interp := newTestInterpolator(fc, 0, DefaultOptions())
	require.Equal(t, StateIdle, interp.Reading().State)

	interp.Set(Descriptor{Running: true})
	require.True(t, interp.Ticking())

	interp.Close()
	require.False(t, interp.Ticking())

	interp.Set(Descriptor{Running: true})
	require.False(t, interp.Ticking())
}
