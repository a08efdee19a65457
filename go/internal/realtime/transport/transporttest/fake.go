// Package transporttest provides an in-memory transport.Handle for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mcdev12/scoreboard/go/internal/realtime/observer"
	"github.com/mcdev12/scoreboard/go/internal/realtime/transport"
)

// Fake records sent messages and lets tests inject inbound traffic and
// connection state changes.
type Fake struct {
	mu        sync.Mutex
	connected bool
	sent      []*transport.Message
	sentCh    chan *transport.Message
	sendErr   error
	onSend    func(*transport.Message)

	messages observer.List[*transport.Message]
	states   observer.List[transport.State]
}

var _ transport.Handle = (*Fake)(nil)

// New creates a disconnected fake transport.
func New() *Fake {
	return &Fake{sentCh: make(chan *transport.Message, 1024)}
}

// Send records msg. It fails with transport.ErrNotConnected while disconnected.
func (f *Fake) Send(ctx context.Context, msg *transport.Message) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return transport.ErrNotConnected
	}
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, msg)
	hook := f.onSend
	f.mu.Unlock()

	select {
	case f.sentCh <- msg:
	default:
	}
	if hook != nil {
		hook(msg)
	}
	return nil
}

// OnMessage registers an inbound message handler.
func (f *Fake) OnMessage(fn func(*transport.Message)) *observer.Subscription {
	return f.messages.Subscribe(fn)
}

// OnState registers a state change handler.
func (f *Fake) OnState(fn func(transport.State)) *observer.Subscription {
	return f.states.Subscribe(fn)
}

// Connected reports the simulated connection state.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Connect marks the fake connected and fires a connect event.
func (f *Fake) Connect() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.states.Publish(transport.StateConnected)
}

// Disconnect marks the fake disconnected and fires a disconnect event.
func (f *Fake) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.states.Publish(transport.StateDisconnected)
}

// Deliver injects an inbound message.
func (f *Fake) Deliver(msg *transport.Message) {
	f.messages.Publish(msg)
}

// Push injects a push event for action identified by args.
func (f *Fake) Push(action string, args any, data any) {
	f.Deliver(&transport.Message{
		Action: action,
		Args:   mustJSON(args),
		Data:   mustJSON(data),
	})
}

// Ack answers the request with the given transaction id.
func (f *Fake) Ack(transactionID string, data any) {
	f.Deliver(&transport.Message{
		TransactionID: transactionID,
		Data:          mustJSON(data),
	})
}

// Fail answers the request with an error envelope.
func (f *Fake) Fail(transactionID, kind, detail string) {
	f.Deliver(&transport.Message{
		TransactionID: transactionID,
		Error:         &transport.ErrorBody{Name: kind, Message: detail},
	})
}

// SetSendError makes subsequent Send calls fail with err.
func (f *Fake) SetSendError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// OnSend installs a hook invoked synchronously after each successful Send,
// typically to auto-acknowledge requests.
func (f *Fake) OnSend(fn func(*transport.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSend = fn
}

// Sent returns a copy of every message sent so far.
func (f *Fake) Sent() []*transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*transport.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentCount returns how many messages with the given action were sent.
func (f *Fake) SentCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msg := range f.sent {
		if msg.Action == action {
			n++
		}
	}
	return n
}

// Requests returns a channel receiving each sent message.
func (f *Fake) Requests() <-chan *transport.Message {
	return f.sentCh
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
