package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus implements MessageBus using NATS.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
	closed chan struct{}
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name shown in server monitoring.
	Name string

	// Token for token-based auth.
	Token string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration

	// DrainTimeout bounds Close while buffered events are flushed.
	DrainTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		Name:           "pwalker-mcp",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
		DrainTimeout:   2 * time.Second,
	}
}

// NewNATSBus connects to NATS.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	closed := make(chan struct{})
	opts := append(buildNATSOptions(cfg), nats.ClosedHandler(func(*nats.Conn) {
		close(closed)
	}))

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSBus{
		conn:   conn,
		config: cfg,
		closed: closed,
	}, nil
}

func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.DrainTimeout > 0 {
		opts = append(opts, nats.DrainTimeout(cfg.DrainTimeout))
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	return opts
}

// Publish sends a message to a subject. Delivery is asynchronous; events
// published while disconnected are buffered by the client.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.conn.IsClosed() || b.conn.IsDraining() {
		return ErrClosed
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe creates a subscription to a subject pattern.
func (b *NATSBus) Subscribe(pattern string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() || b.conn.IsDraining() {
		return nil, ErrClosed
	}

	// Messages arrive through a Go channel owned by nats; a forwarding
	// goroutine converts them until the subscription ends.
	raw := make(chan *nats.Msg, b.config.BufferSize)
	natsSub, err := b.conn.ChanSubscribe(pattern, raw)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}

	s := &natsSubscription{
		sub:  natsSub,
		raw:  raw,
		ch:   make(chan *Message, b.config.BufferSize),
		stop: make(chan struct{}),
	}
	go s.forward()
	return s, nil
}

// Close drains the connection so queued events reach the server, and
// waits until the connection is closed.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	if !b.conn.IsDraining() {
		if err := b.conn.Drain(); err != nil {
			b.conn.Close()
			return fmt.Errorf("nats drain: %w", err)
		}
	}
	select {
	case <-b.closed:
	case <-time.After(b.config.DrainTimeout + time.Second):
		b.conn.Close()
	}
	return nil
}

// Conn returns the underlying NATS connection for advanced use.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

type natsSubscription struct {
	sub  *nats.Subscription
	raw  chan *nats.Msg
	ch   chan *Message
	stop chan struct{}
}

func (s *natsSubscription) forward() {
	defer close(s.ch)
	for {
		select {
		case m := <-s.raw:
			select {
			case s.ch <- &Message{Subject: m.Subject, Data: m.Data}:
			default:
			}
		case <-s.stop:
			return
		}
	}
}

// Messages returns the message channel.
func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	close(s.stop)
	return err
}
