package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Coordinator runs registered handlers phase by phase, exactly once.
// Every phase runs regardless of what happened in the phases before it.
type Coordinator struct {
	config Config

	mu       sync.Mutex
	handlers []registration

	once sync.Once
	err  error
	done chan struct{}
}

// NewCoordinator creates a coordinator.
func NewCoordinator(config Config) *Coordinator {
	if config.PhaseTimeout <= 0 {
		config.PhaseTimeout = DefaultConfig().PhaseTimeout
	}
	return &Coordinator{
		config: config,
		done:   make(chan struct{}),
	}
}

// Register adds fn to phase. Handlers in one phase run concurrently.
func (c *Coordinator) Register(phase Phase, name string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, phase: phase, fn: fn})
}

// Shutdown runs the handlers once. A concurrent caller blocks until the
// first run completes and then receives the same error. ctx contributes
// values only; each phase is bounded by Config.PhaseTimeout.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(context.WithoutCancel(ctx))
		close(c.done)
	})
	return c.err
}

// Done is closed once Shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error, or nil while shutdown has not finished.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var failures *multierror.Error
	for _, group := range groupByPhase(handlers) {
		for _, hr := range c.runPhase(ctx, group) {
			if hr.Err != nil {
				failures = multierror.Append(failures, fmt.Errorf("%s: %w", hr.Name, hr.Err))
			}
		}
	}
	return failures.ErrorOrNil()
}

// runPhase starts every handler of one phase and collects their results
// until the phase deadline. Handlers still running then are reported with
// ErrTimeout and left behind.
func (c *Coordinator) runPhase(ctx context.Context, group []registration) []HandlerResult {
	ctx, cancel := context.WithTimeout(ctx, c.config.PhaseTimeout)
	defer cancel()

	type finished struct {
		idx int
		hr  HandlerResult
	}
	start := time.Now()
	ch := make(chan finished, len(group))
	for i, reg := range group {
		go func(i int, reg registration) {
			ch <- finished{i, HandlerResult{
				Name:     reg.name,
				Phase:    reg.phase,
				Err:      call(ctx, reg.fn),
				Duration: time.Since(start),
			}}
		}(i, reg)
	}

	results := make([]HandlerResult, 0, len(group))
	reported := make([]bool, len(group))
	for len(results) < len(group) {
		select {
		case f := <-ch:
			reported[f.idx] = true
			results = append(results, f.hr)
			c.progress(f.hr)
		case <-ctx.Done():
			for i, reg := range group {
				if reported[i] {
					continue
				}
				hr := HandlerResult{Name: reg.name, Phase: reg.phase, Duration: time.Since(start), Err: ErrTimeout}
				results = append(results, hr)
				c.progress(hr)
			}
			return results
		}
	}
	return results
}

// call runs fn, turning a panic into an error so the remaining phases
// still run.
func call(ctx context.Context, fn HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (c *Coordinator) progress(hr HandlerResult) {
	if c.config.OnProgress != nil {
		c.config.OnProgress(hr)
	}
}

// groupByPhase splits phase-sorted handlers into runs of equal phase.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
