// Package connectivity derives an online/offline signal from transport
// lifecycle events.
package connectivity

import (
	"sync"

	"github.com/mcdev12/scoreboard/go/internal/realtime/observer"
	"github.com/mcdev12/scoreboard/go/internal/realtime/transport"
)

// Notifier tracks whether the transport is connected and notifies listeners on
// every transition.
type Notifier struct {
	mu        sync.RWMutex
	online    bool
	listeners observer.List[bool]
	sub       *observer.Subscription
}

// New creates a notifier seeded from the handle's current state.
func New(handle transport.Handle) *Notifier {
	n := &Notifier{online: handle.Connected()}
	n.sub = handle.OnState(func(s transport.State) {
		n.set(s == transport.StateConnected)
	})
	return n
}

// Online reports the current connection state.
func (n *Notifier) Online() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.online
}

// Subscribe registers fn for connection transitions. Listeners run in
// registration order.
func (n *Notifier) Subscribe(fn func(online bool)) *observer.Subscription {
	return n.listeners.Subscribe(fn)
}

// Close detaches the notifier from the transport.
func (n *Notifier) Close() {
	n.sub.Close()
}

func (n *Notifier) set(online bool) {
	n.mu.Lock()
	changed := n.online != online
	n.online = online
	n.mu.Unlock()

	if changed {
		n.listeners.Publish(online)
	}
}
