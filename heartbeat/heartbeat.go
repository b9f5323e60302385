package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pauldw/pwalker-mcp/bus"
	"github.com/pauldw/pwalker-mcp/logging"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Kind is the publisher kind for heartbeat messages.
const Kind = "heartbeat"

// Status of the server as reported in a heartbeat.
type Status string

const (
	StatusServing  Status = "serving"
	StatusDraining Status = "draining"
)

// Load is the server state sampled for every beat.
type Load struct {
	Processes  int `json:"processes"`
	QueueDepth int `json:"queue_depth"`
}

// Heartbeat is a single liveness report.
type Heartbeat struct {
	Server    string    `json:"server"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Uptime    string    `json:"uptime"`
	Load
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Config configures a Sender.
type Config struct {
	Publisher *bus.Publisher

	// Server names the sender in every beat.
	Server string

	// Interval between heartbeats.
	// Default: 30 seconds
	Interval time.Duration

	// Load samples the current state. Optional.
	Load func() Load

	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Publisher == nil || c.Server == "" {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}

// Sender publishes heartbeats at a fixed interval.
type Sender struct {
	pub      *bus.Publisher
	server   string
	interval time.Duration
	load     func() Load
	log      *logging.Logger
	started  time.Time

	mu      sync.Mutex
	status  Status
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSender creates a sender. It does not publish until Start.
func NewSender(cfg Config) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Load == nil {
		cfg.Load = func() Load { return Load{} }
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New().WithComponent("heartbeat")
	}
	return &Sender{
		pub:      cfg.Publisher,
		server:   cfg.Server,
		interval: cfg.Interval,
		load:     cfg.Load,
		log:      cfg.Logger,
		started:  time.Now(),
		status:   StatusServing,
	}, nil
}

// Start sends one beat immediately and then one per interval until ctx is
// done or Stop is called.
func (s *Sender) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx, s.stopCh, s.doneCh)
	return nil
}

func (s *Sender) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	s.send()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.send()
		}
	}
}

func (s *Sender) send() {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()

	hb := Heartbeat{
		Server:    s.server,
		Timestamp: time.Now(),
		Status:    status,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Load:      s.load(),
	}
	if err := s.pub.Publish(Kind, hb); err != nil {
		s.log.Debug("heartbeat publish failed", map[string]interface{}{"error": err.Error()})
	}
}

// Stop ends the loop and publishes a final draining beat.
func (s *Sender) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.running = false
	s.status = StatusDraining
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.send()
	return nil
}
