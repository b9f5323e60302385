package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport implements Transport over a single WebSocket connection.
type WebSocketTransport struct {
	conn   *websocket.Conn
	config WebSocketConfig

	recv     chan *InboundMessage
	send     chan *OutboundMessage
	done     chan struct{}
	readDone chan struct{}
	mu       sync.Mutex
	closed   bool
}

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	Config // Embed base config

	// WriteTimeout for write operations.
	WriteTimeout time.Duration

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration

	// CheckOrigin is passed to the upgrader. Nil allows same-origin
	// requests and non-browser clients only.
	CheckOrigin func(r *http.Request) bool
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Config:       DefaultConfig(),
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// NewWebSocketTransport creates a transport from an existing connection.
func NewWebSocketTransport(conn *websocket.Conn, cfg WebSocketConfig) *WebSocketTransport {
	cfg.Config = cfg.Config.withDefaults()
	conn.SetReadLimit(int64(cfg.MaxMessageSize))

	return &WebSocketTransport{
		conn:     conn,
		config:   cfg,
		recv:     make(chan *InboundMessage, cfg.RecvBufferSize),
		send:     make(chan *OutboundMessage, cfg.SendBufferSize),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// NewWebSocketUpgrader creates an upgrader for accepting WebSocket connections.
func NewWebSocketUpgrader(cfg WebSocketConfig) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     cfg.CheckOrigin,
	}
}

// WebSocketHandler upgrades each request and hands the resulting transport
// to serve. serve runs on the request goroutine and owns the transport.
func WebSocketHandler(cfg WebSocketConfig, serve func(r *http.Request, t *WebSocketTransport)) http.Handler {
	upgrader := NewWebSocketUpgrader(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied with an HTTP error.
			return
		}
		serve(r, NewWebSocketTransport(conn, cfg))
	})
}

// Recv returns the channel for incoming messages.
func (t *WebSocketTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *WebSocketTransport) Send(msg *OutboundMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Run starts the transport, blocking until ctx is cancelled or Close is
// called. A peer disconnect closes Recv; the owner is expected to Close.
func (t *WebSocketTransport) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t.readLoop(ctx)
	}()

	go func() {
		defer wg.Done()
		t.writeLoop()
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-t.done:
	}

	t.Close()
	wg.Wait()

	return err
}

// Close initiates graceful shutdown. Queued messages are flushed by the
// write loop before the connection is closed.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()
	return nil
}

// readLoop reads WebSocket messages and sends to recv channel.
func (t *WebSocketTransport) readLoop(ctx context.Context) {
	defer close(t.readDone)
	defer close(t.recv)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, parseErr := ParseInbound(data)
		if parseErr != nil {
			_ = t.Send(parseErrorResponse(data, parseErr))
			continue
		}

		select {
		case t.recv <- msg:
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

// writeLoop owns every write to the connection, including the final close.
func (t *WebSocketTransport) writeLoop() {
	ticker := t.createPingTicker()
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			t.drainSendQueue()
			t.shutdownConn()
			return
		case <-ticker.C:
			_ = t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

// shutdownConn sends a close frame, waits briefly for the read loop to see
// the peer's reply, then closes the socket.
func (t *WebSocketTransport) shutdownConn() {
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	select {
	case <-t.readDone:
	case <-time.After(time.Second):
	}
	_ = t.conn.Close()
}

// createPingTicker creates a ticker for keepalive pings.
func (t *WebSocketTransport) createPingTicker() *time.Ticker {
	if t.config.PingInterval > 0 {
		return time.NewTicker(t.config.PingInterval)
	}
	// Return a ticker that never fires
	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	return ticker
}

// drainSendQueue writes remaining messages before shutdown.
func (t *WebSocketTransport) drainSendQueue() {
	for {
		select {
		case msg := <-t.send:
			t.writeMessage(msg)
		default:
			return
		}
	}
}

// writeMessage serializes and writes a single message.
func (t *WebSocketTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return
	}

	if t.config.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	}
	_ = t.conn.WriteMessage(websocket.TextMessage, data)
}
