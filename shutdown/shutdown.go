package shutdown

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is reported for a handler still running when its phase
	// deadline passed.
	ErrTimeout = errors.New("shutdown phase timed out")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Phase orders shutdown work. Lower phases run first.
type Phase int

const (
	// PhaseTransport stops accepting MCP requests.
	PhaseTransport Phase = 10
	// PhaseProcesses sweeps every live child.
	PhaseProcesses Phase = 20
	// PhaseFlush drains the event bus, tracer and metrics server.
	PhaseFlush Phase = 30
)

func (p Phase) String() string {
	switch p {
	case PhaseTransport:
		return "transport"
	case PhaseProcesses:
		return "processes"
	case PhaseFlush:
		return "flush"
	default:
		return fmt.Sprintf("phase-%d", int(p))
	}
}

// HandlerFunc releases one component. ctx ends at the phase deadline.
type HandlerFunc func(ctx context.Context) error

// HandlerResult reports one finished or abandoned handler.
type HandlerResult struct {
	Name     string
	Phase    Phase
	Duration time.Duration
	Err      error
}

// Config configures a Coordinator.
type Config struct {
	// PhaseTimeout is the deadline given to each phase. Every phase gets
	// a fresh one, so a stalled transport cannot eat into the sweep.
	// Default: 10 seconds
	PhaseTimeout time.Duration

	// OnProgress is called as each handler finishes or is abandoned.
	OnProgress func(result HandlerResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.PhaseTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{PhaseTimeout: 10 * time.Second}
}

type registration struct {
	name  string
	phase Phase
	fn    HandlerFunc
}
