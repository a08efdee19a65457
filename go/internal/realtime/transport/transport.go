// Package transport defines the duplex connection the sync client runs on and
// provides a gorilla/websocket implementation of it.
package transport

import (
	"context"
	"errors"

	"github.com/mcdev12/scoreboard/go/internal/realtime/observer"
)

// ErrNotConnected is returned by Send while the connection is down.
var ErrNotConnected = errors.New("transport not connected")

// ErrClosed is returned by Send after the handle was closed.
var ErrClosed = errors.New("transport closed")

// State is the lifecycle state of a connection.
type State string

const (
	StateConnected    State = "connect"
	StateDisconnected State = "disconnect"
)

// Handle is one duplex connection to the scoreboard server.
//
// Inbound messages and state changes are delivered in arrival order from a
// single goroutine.
type Handle interface {
	// Send writes msg to the server. It does not wait for an acknowledgement.
	Send(ctx context.Context, msg *Message) error
	// OnMessage registers a handler for every inbound message.
	OnMessage(fn func(*Message)) *observer.Subscription
	// OnState registers a handler for connect and disconnect transitions.
	OnState(fn func(State)) *observer.Subscription
	// Connected reports whether the connection is currently up.
	Connected() bool
}
