package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/pauldw/pwalker-mcp/bus"
	"github.com/pauldw/pwalker-mcp/config"
	"github.com/pauldw/pwalker-mcp/heartbeat"
	"github.com/pauldw/pwalker-mcp/logging"
	"github.com/pauldw/pwalker-mcp/mcp"
	"github.com/pauldw/pwalker-mcp/metrics"
	"github.com/pauldw/pwalker-mcp/process"
	"github.com/pauldw/pwalker-mcp/shutdown"
	"github.com/pauldw/pwalker-mcp/tasks"
	"github.com/pauldw/pwalker-mcp/telemetry"
	"github.com/pauldw/pwalker-mcp/tools"
	"github.com/pauldw/pwalker-mcp/transport"
)

const instructions = `Use push-tasks and pop-task to work through a FIFO list of tasks.
Use launch-background-process for long-running commands, then poll them
with get-process-output and stop them with kill-process.
Every launched process is terminated when the server exits.`

// sweepSlack covers SIGKILL escalation and reaping after the grace period.
const sweepSlack = 5 * time.Second

// app is one assembled server. Everything it starts is registered with the
// coordinator, so guard.Exit tears it down in phase order.
type app struct {
	cfg *config.Config
	log *logging.Logger

	coord *shutdown.Coordinator
	guard *shutdown.Guard

	metrics    *metrics.Metrics
	metricsSrv *metrics.Server
	provider   *telemetry.Provider
	bus        bus.MessageBus
	heartbeat  *heartbeat.Sender

	supervisor *process.Supervisor
	queue      *tasks.Queue
	registry   *tools.Registry
	server     *mcp.Server

	stop      chan struct{}
	stopOnce  sync.Once
	serving   atomic.Bool
	serveDone chan struct{}
}

// newApp wires every component from cfg. On error the components that were
// already started are shut down before returning.
func newApp(ctx context.Context, cfg *config.Config, log *logging.Logger, exit func(int)) (a *app, err error) {
	a = &app{
		cfg:       cfg,
		log:       log,
		stop:      make(chan struct{}),
		serveDone: make(chan struct{}),
	}

	coordCfg := shutdown.DefaultConfig()
	// The sweep phase must outlast the grace period plus SIGKILL reaping.
	if d := cfg.Process.ShutdownGrace.Duration + sweepSlack; d > coordCfg.PhaseTimeout {
		coordCfg.PhaseTimeout = d
	}
	coordCfg.OnProgress = func(r shutdown.HandlerResult) {
		log.WithComponent("shutdown").ShutdownStep(r.Name, r.Phase.String(), r.Duration, r.Err)
	}
	coord := shutdown.NewCoordinator(coordCfg)
	a.coord = coord
	a.guard = shutdown.NewGuard(coord, shutdown.GuardConfig{
		ExitFunc: exit,
		Logger:   log.WithComponent("guard"),
	})

	defer func() {
		if err != nil {
			_ = coord.Shutdown(context.Background())
		}
	}()

	// Flush phase. Registered first so a failure further down still
	// releases whatever was opened here.
	a.coord.Register(shutdown.PhaseFlush, "logger", func(context.Context) error {
		_ = log.Sync()
		return nil
	})

	a.metrics = metrics.New()
	if cfg.Metrics.Listen != "" {
		a.metricsSrv, err = a.metrics.Serve(cfg.Metrics.Listen)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		log.Info("metrics listening", map[string]interface{}{"addr": a.metricsSrv.Addr()})
		a.coord.Register(shutdown.PhaseFlush, "metrics", a.metricsSrv.Shutdown)
	}

	tracer := telemetry.NewNoopTracer()
	if cfg.Telemetry.Endpoint != "" {
		a.provider, err = telemetry.InitProvider(ctx, telemetry.ProviderConfig{
			ServiceName:    cfg.Server.Name,
			ServiceVersion: cfg.Server.Version,
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
			Debug:          cfg.Telemetry.Debug,
		})
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		tracer = a.provider.Tracer()
		telemetry.SetGlobalTracer(tracer)
		a.coord.Register(shutdown.PhaseFlush, "telemetry", a.provider.Shutdown)
	}

	a.bus, err = openBus(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("bus: %w", err)
	}
	a.coord.Register(shutdown.PhaseFlush, "bus", func(context.Context) error {
		return a.bus.Close()
	})
	pub := bus.NewPublisher(a.bus, cfg.Bus.SubjectPrefix)

	// Process phase.
	a.supervisor = process.NewSupervisor(
		process.WithKillSignal(cfg.KillSignal()),
		process.WithWaitDelay(cfg.Process.WaitDelay.Duration),
		process.WithShutdownGrace(cfg.Process.ShutdownGrace.Duration),
		process.WithEnv(envList(cfg.Process.Env)),
		process.WithLogger(log.WithComponent("supervisor")),
		process.WithEventSink(lifecycleSink(log.WithComponent("supervisor"), a.metrics, pub)),
	)
	a.coord.Register(shutdown.PhaseProcesses, "process-sweep", a.supervisor.Sweep)

	a.queue = tasks.NewQueue()
	a.registry = tools.NewBuiltinRegistry(&tools.Env{
		Queue:      a.queue,
		Supervisor: a.supervisor,
		Fs:         afero.NewOsFs(),
		BaseDir:    cfg.Server.BaseDir,
		OnQueue:    a.metrics.QueueChanged,
		Logger:     log,
	})

	a.server = mcp.NewServer(
		mcp.Implementation{Name: cfg.Server.Name, Version: cfg.Server.Version},
		a.registry,
		mcp.WithLogger(log),
		mcp.WithTracer(tracer),
		mcp.WithMetrics(a.metrics),
		mcp.WithPanicHandler(a.guard.RecoverPanic),
		mcp.WithInstructions(instructions),
	)

	if cfg.Bus.HeartbeatInterval.Duration > 0 {
		a.heartbeat, err = heartbeat.NewSender(heartbeat.Config{
			Publisher: pub,
			Server:    cfg.Server.Name,
			Interval:  cfg.Bus.HeartbeatInterval.Duration,
			Load: func() heartbeat.Load {
				return heartbeat.Load{
					Processes:  a.supervisor.LiveCount(),
					QueueDepth: a.queue.Len(),
				}
			},
			Logger: log.WithComponent("heartbeat"),
		})
		if err != nil {
			return nil, fmt.Errorf("heartbeat: %w", err)
		}
		if err = a.heartbeat.Start(ctx); err != nil {
			return nil, fmt.Errorf("heartbeat: %w", err)
		}
		a.coord.Register(shutdown.PhaseTransport, "heartbeat", func(context.Context) error {
			return a.heartbeat.Stop()
		})
	}

	// Transport phase. Stopping ends every session; the handler then
	// waits for serve to return.
	a.coord.Register(shutdown.PhaseTransport, "transport", func(ctx context.Context) error {
		a.stopOnce.Do(func() { close(a.stop) })
		if !a.serving.Load() {
			return nil
		}
		select {
		case <-a.serveDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	return a, nil
}

// serve runs the configured transport until the client goes away or the
// transport phase of shutdown cancels it.
func (a *app) serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	a.serving.Store(true)
	defer close(a.serveDone)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
		case <-a.stop:
			cancel()
		}
	}()

	switch a.cfg.Server.Transport {
	case config.TransportWebSocket:
		ln, err := net.Listen("tcp", a.cfg.Server.Listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", a.cfg.Server.Listen, err)
		}
		return a.server.ServeWebSocket(ctx, ln, transport.DefaultWebSocketConfig())
	default:
		return a.server.ServeStdio(ctx, stdin, stdout)
	}
}

func openBus(cfg config.BusConfig) (bus.MessageBus, error) {
	if cfg.URL == "" {
		return bus.NewMemoryBus(bus.DefaultConfig()), nil
	}
	natsCfg := bus.DefaultNATSConfig()
	natsCfg.URL = cfg.URL
	return bus.NewNATSBus(natsCfg)
}

// envList flattens the configured child environment into sorted KEY=VALUE
// entries.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
