package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/scoreboard/go/internal/realtime/observer"
)

// WebSocketConfig holds configuration for the websocket transport
type WebSocketConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	SendBufferSize   int
	ReconnectWait    time.Duration
	MaxReconnects    int // -1 redials forever
}

// DefaultWebSocketConfig returns default websocket configuration for url
func DefaultWebSocketConfig(url string) WebSocketConfig {
	return WebSocketConfig{
		URL:              url,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   1 << 20, // bout documents carry every jam
		SendBufferSize:   256,
		ReconnectWait:    2 * time.Second,
		MaxReconnects:    -1,
	}
}

// WebSocket is a Handle backed by a gorilla/websocket client connection that
// redials after the connection drops.
type WebSocket struct {
	config WebSocketConfig
	dialer *websocket.Dialer
	clock  clockwork.Clock
	logger zerolog.Logger

	messages observer.List[*Message]
	states   observer.List[State]

	mu     sync.RWMutex
	conn   *connection
	closed bool
}

// connection is one dialed websocket plus its outbound queue
type connection struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Ensure WebSocket implements Handle at compile time.
var _ Handle = (*WebSocket)(nil)

// NewWebSocket creates a websocket transport. Call Run to connect.
func NewWebSocket(config WebSocketConfig) *WebSocket {
	return &WebSocket{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		clock:  clockwork.NewRealClock(),
		logger: log.With().Str("component", "transport").Str("url", config.URL).Logger(),
	}
}

// WithLogger replaces the transport's logger.
func (w *WebSocket) WithLogger(logger zerolog.Logger) *WebSocket {
	w.logger = logger.With().Str("component", "transport").Str("url", w.config.URL).Logger()
	return w
}

// Run dials the server and keeps the connection up until ctx is cancelled or
// the reconnect budget is exhausted.
func (w *WebSocket) Run(ctx context.Context) error {
	defer func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
	}()

	failures := 0
	for {
		conn, _, err := w.dialer.DialContext(ctx, w.config.URL, w.config.Header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if w.config.MaxReconnects >= 0 && failures > w.config.MaxReconnects {
				return fmt.Errorf("dial %s: %w", w.config.URL, err)
			}
			w.logger.Warn().Err(err).Int("attempt", failures).Msg("websocket dial failed")
			if !w.wait(ctx) {
				return nil
			}
			continue
		}
		failures = 0

		w.serve(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}
		if !w.wait(ctx) {
			return nil
		}
	}
}

// serve runs one connection until it drops
func (w *WebSocket) serve(ctx context.Context, ws *websocket.Conn) {
	c := &connection{
		conn: ws,
		send: make(chan []byte, w.config.SendBufferSize),
		done: make(chan struct{}),
	}

	w.mu.Lock()
	w.conn = c
	w.mu.Unlock()

	w.logger.Info().Msg("websocket connection established")
	w.states.Publish(StateConnected)

	go func() {
		select {
		case <-ctx.Done():
			c.shutdown(w.config.WriteTimeout)
		case <-c.done:
		}
	}()
	go w.writePump(c)
	w.readPump(c)

	c.close()
	w.mu.Lock()
	if w.conn == c {
		w.conn = nil
	}
	w.mu.Unlock()

	w.logger.Info().Msg("websocket connection closed")
	w.states.Publish(StateDisconnected)
}

func (w *WebSocket) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.clock.After(w.config.ReconnectWait):
		return true
	}
}

// Send queues msg on the current connection.
func (w *WebSocket) Send(ctx context.Context, msg *Message) error {
	w.mu.RLock()
	c, closed := w.conn, w.closed
	w.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if c == nil {
		return ErrNotConnected
	}

	data, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnMessage registers a handler for inbound messages.
func (w *WebSocket) OnMessage(fn func(*Message)) *observer.Subscription {
	return w.messages.Subscribe(fn)
}

// OnState registers a handler for connection state changes.
func (w *WebSocket) OnState(fn func(State)) *observer.Subscription {
	return w.states.Subscribe(fn)
}

// Connected reports whether a connection is currently established.
func (w *WebSocket) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn != nil
}

// writePump handles sending messages to the websocket connection
func (w *WebSocket) writePump(c *connection) {
	ticker := w.clock.NewTicker(w.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				w.logger.Error().Err(err).Msg("failed to write message to websocket")
				return
			}

		case <-ticker.Chan():
			c.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.logger.Error().Err(err).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the websocket connection
func (w *WebSocket) readPump(c *connection) {
	c.conn.SetReadLimit(w.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				w.logger.Error().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))

		msg, err := Decode(data)
		if err != nil {
			w.logger.Warn().Err(err).Int("size", len(data)).Msg("dropping malformed message")
			continue
		}
		w.messages.Publish(msg)
	}
}

// shutdown sends a close frame before tearing the connection down
func (c *connection) shutdown(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.close()
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
