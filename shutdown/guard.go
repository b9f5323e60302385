package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pauldw/pwalker-mcp/errors"
	"github.com/pauldw/pwalker-mcp/logging"
)

// Exit codes used by Guard.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitPanic   = 2
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Signals that trigger shutdown. Default: SIGINT, SIGTERM, SIGQUIT.
	Signals []os.Signal

	// ExitFunc terminates the process. Default: os.Exit.
	ExitFunc func(code int)

	Logger *logging.Logger
}

// Guard ties process termination to the coordinator. Every way out of the
// server (signal, panic, normal return) goes through Exit, so the
// registered handlers run exactly once before the process ends.
type Guard struct {
	coord   *Coordinator
	signals []os.Signal
	exit    func(int)
	log     *logging.Logger

	sigChan  chan os.Signal
	stop     chan struct{}
	stopOnce sync.Once
	exitOnce sync.Once
}

// NewGuard creates a guard around coord.
func NewGuard(coord *Coordinator, cfg GuardConfig) *Guard {
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
	}
	if cfg.ExitFunc == nil {
		cfg.ExitFunc = os.Exit
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New().WithComponent("guard")
	}
	return &Guard{
		coord:   coord,
		signals: cfg.Signals,
		exit:    cfg.ExitFunc,
		log:     cfg.Logger,
		sigChan: make(chan os.Signal, 1),
		stop:    make(chan struct{}),
	}
}

// HandleSignals starts listening for the configured signals. The first
// one received runs shutdown and exits.
func (g *Guard) HandleSignals() {
	signal.Notify(g.sigChan, g.signals...)

	go func() {
		select {
		case sig := <-g.sigChan:
			g.log.Info("signal received", map[string]interface{}{"signal": sig.String()})
			g.Exit(ExitOK)
		case <-g.stop:
		}
	}()
}

// Trigger simulates delivery of SIGTERM (useful for testing).
func (g *Guard) Trigger() {
	select {
	case g.sigChan <- syscall.SIGTERM:
	default:
	}
}

// Stop detaches from OS signals without exiting.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		signal.Stop(g.sigChan)
		close(g.stop)
	})
}

// RecoverPanic must be deferred at the top of main and of every request
// goroutine. A recovered panic is logged, shutdown runs, and the process
// exits with ExitPanic. A request goroutine must have released anything
// the transport phase waits on before this runs.
func (g *Guard) RecoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	err := errors.RecoverPanic(r)
	g.log.Error("panic", map[string]interface{}{
		"code":  string(err.Code()),
		"error": err.Error(),
		"type":  fmt.Sprintf("%T", r),
	})
	g.Exit(ExitPanic)
}

// Exit runs shutdown and then calls the exit function. A successful code
// becomes ExitFailure when a shutdown handler failed. Only the first call
// does anything; later callers block until it has finished.
func (g *Guard) Exit(code int) {
	g.exitOnce.Do(func() {
		if err := g.coord.Shutdown(context.Background()); err != nil {
			g.log.Error("shutdown incomplete", map[string]interface{}{"error": err.Error()})
			if code == ExitOK {
				code = ExitFailure
			}
		}
		g.Stop()
		g.exit(code)
	})
}
