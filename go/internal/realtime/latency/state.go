package latency

import (
	"math"
	"sync"
	"time"

	"github.com/mcdev12/scoreboard/go/internal/realtime/observer"
)

// State holds the current one-way latency estimate for one connection.
//
// The estimate survives disconnects so the next connection starts from the
// last known value, but it is marked untrusted until a probe batch on the new
// connection produced a valid sample.
type State struct {
	mu        sync.RWMutex
	value     time.Duration
	trusted   bool
	listeners observer.List[int64]
}

// NewState creates a state with a zero estimate.
func NewState() *State {
	return &State{}
}

// Value returns the current estimate.
func (s *State) Value() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Milliseconds returns the current estimate rounded to whole milliseconds.
func (s *State) Milliseconds() int64 {
	return roundMillis(s.Value())
}

// Trusted reports whether the estimate was refreshed on the current connection.
func (s *State) Trusted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trusted
}

// Subscribe registers fn to receive the rounded estimate whenever it changes.
func (s *State) Subscribe(fn func(ms int64)) *observer.Subscription {
	return s.listeners.Subscribe(fn)
}

// set stores a fresh estimate and notifies listeners if the rounded value
// changed. It reports whether listeners were notified.
func (s *State) set(d time.Duration) bool {
	s.mu.Lock()
	old := roundMillis(s.value)
	s.value = d
	s.trusted = true
	ms := roundMillis(d)
	s.mu.Unlock()

	if ms == old {
		return false
	}
	s.listeners.Publish(ms)
	return true
}

// invalidate keeps the estimate but marks it untrusted.
func (s *State) invalidate() {
	s.mu.Lock()
	s.trusted = false
	s.mu.Unlock()
}

func roundMillis(d time.Duration) int64 {
	return int64(math.Round(float64(d) / float64(time.Millisecond)))
}
