package clock

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/scoreboard/go/internal/realtime/observer"
)

// DefaultTick is the cadence at which a running clock publishes readings.
const DefaultTick = 50 * time.Millisecond

// State is the interpolator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStopped
	StateRunning
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Reading is the interpolated value of a clock at one instant.
type Reading struct {
	Elapsed   int64
	Remaining *int64 // nil when the timer has no alarm
	Alarm     *int64
	Running   bool
	State     State
}

// Display returns the milliseconds a scoreboard shows: the time remaining for
// timers with an alarm, the elapsed time otherwise.
func (r Reading) Display() int64 {
	if r.Remaining != nil {
		return *r.Remaining
	}
	return r.Elapsed
}

// LatencySource provides the one-way latency used to backdate descriptors.
type LatencySource interface {
	Milliseconds() int64
}

// Options configure an Interpolator.
type Options struct {
	// ClampAtZero stops the clock at its alarm. When false the clock keeps
	// running and Remaining goes negative, for overtime displays.
	ClampAtZero bool
	Tick        time.Duration
}

// DefaultOptions clamps at zero and ticks every DefaultTick.
func DefaultOptions() Options {
	return Options{ClampAtZero: true, Tick: DefaultTick}
}

// Interpolator turns the latest Descriptor into continuously updating
// Readings.
//
// Each Set replaces the previous descriptor and its tick loop wholesale. A
// generation counter guards against ticks of a replaced loop publishing.
type Interpolator struct {
	clock   clockwork.Clock
	latency LatencySource
	opts    Options
	logger  zerolog.Logger

	// emit serializes publication so readings reach listeners in order
	emit sync.Mutex

	mu     sync.Mutex
	desc   Descriptor
	anchor time.Time
	state  State
	gen    uint64
	ticker clockwork.Ticker
	stop   chan struct{}
	closed bool

	listeners observer.List[Reading]
}

// New creates an idle interpolator. A nil clock uses the real clock; a nil
// latency source backdates nothing.
func New(clock clockwork.Clock, latency LatencySource, opts Options) *Interpolator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	return &Interpolator{
		clock:   clock,
		latency: latency,
		opts:    opts,
		logger:  log.With().Str("component", "clock").Logger(),
	}
}

// WithLogger replaces the interpolator's logger.
func (i *Interpolator) WithLogger(logger zerolog.Logger) *Interpolator {
	i.logger = logger.With().Str("component", "clock").Logger()
	return i
}

// Subscribe registers fn for every published reading. Listeners must not call
// Set or Close.
func (i *Interpolator) Subscribe(fn func(Reading)) *observer.Subscription {
	return i.listeners.Subscribe(fn)
}

// Set adopts d, discarding the previous descriptor and its tick loop. The
// descriptor is anchored at now minus the current latency.
func (i *Interpolator) Set(d Descriptor) {
	i.emit.Lock()
	defer i.emit.Unlock()

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.stopLocked()

	if d.Elapsed < 0 {
		d.Elapsed = 0
	}
	now := i.clock.Now()
	var latencyMs int64
	if i.latency != nil {
		latencyMs = i.latency.Milliseconds()
	}
	i.desc = d
	i.anchor = now.Add(-time.Duration(latencyMs) * time.Millisecond)

	switch {
	case !d.Running:
		i.state = StateStopped
	case i.expiredLocked(now):
		i.state = StateExpired
	default:
		i.state = StateRunning
		i.ticker = i.clock.NewTicker(i.opts.Tick)
		i.stop = make(chan struct{})
		go i.loop(i.gen, i.ticker, i.stop)
	}
	reading := i.readingLocked(now)
	i.mu.Unlock()

	i.logger.Debug().
		Int64("elapsed", d.Elapsed).
		Bool("running", d.Running).
		Int64("latency_ms", latencyMs).
		Stringer("state", reading.State).
		Msg("clock descriptor adopted")
	i.listeners.Publish(reading)
}

// Reading returns the current interpolated value.
func (i *Interpolator) Reading() Reading {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.readingLocked(i.clock.Now())
}

// Ticking reports whether a tick loop is active.
func (i *Interpolator) Ticking() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stop != nil
}

// Close stops the tick loop. No reading is published after Close returns.
func (i *Interpolator) Close() {
	i.emit.Lock()
	defer i.emit.Unlock()

	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	i.stopLocked()
}

func (i *Interpolator) stopLocked() {
	i.gen++
	if i.ticker != nil {
		i.ticker.Stop()
		i.ticker = nil
	}
	if i.stop != nil {
		close(i.stop)
		i.stop = nil
	}
}

func (i *Interpolator) loop(gen uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}

		if !i.tick(gen) {
			return
		}
	}
}

// tick publishes one reading and reports whether the loop should continue.
func (i *Interpolator) tick(gen uint64) bool {
	i.emit.Lock()
	defer i.emit.Unlock()

	i.mu.Lock()
	if i.gen != gen {
		i.mu.Unlock()
		return false
	}
	now := i.clock.Now()
	expired := i.expiredLocked(now)
	if expired {
		i.state = StateExpired
		i.stopLocked()
	}
	reading := i.readingLocked(now)
	i.mu.Unlock()

	if expired {
		i.logger.Debug().Int64("alarm", *reading.Alarm).Msg("clock reached its alarm")
	}
	i.listeners.Publish(reading)
	return !expired
}

func (i *Interpolator) expiredLocked(now time.Time) bool {
	if !i.opts.ClampAtZero || i.desc.Alarm == nil {
		return false
	}
	return i.rawElapsedLocked(now) >= *i.desc.Alarm
}

func (i *Interpolator) rawElapsedLocked(now time.Time) int64 {
	elapsed := i.desc.Elapsed
	if i.desc.Running {
		elapsed += now.Sub(i.anchor).Milliseconds()
	}
	return elapsed
}

func (i *Interpolator) readingLocked(now time.Time) Reading {
	r := Reading{State: i.state}
	if i.state == StateIdle {
		return r
	}

	r.Elapsed = i.desc.Elapsed
	if i.state == StateRunning {
		r.Elapsed = i.rawElapsedLocked(now)
		r.Running = true
	}

	if alarm := i.desc.Alarm; alarm != nil {
		a := *alarm
		r.Alarm = &a
		if i.opts.ClampAtZero && (r.Elapsed > a || i.state == StateExpired) {
			r.Elapsed = a
		}
		remaining := a - r.Elapsed
		if i.opts.ClampAtZero && remaining < 0 {
			remaining = 0
		}
		r.Remaining = &remaining
	}
	return r
}
