// Package shutdown guarantees that no supervised child outlives the server.
//
// # Overview
//
// A Coordinator runs registered handlers in phases. A Guard routes every
// way the process can end through the coordinator exactly once:
//
//	   SIGINT / SIGTERM / SIGQUIT ──┐
//	   panic (RecoverPanic)  ───────┼──▶ Guard.Exit ──▶ Coordinator.Shutdown ──▶ exit(code)
//	   transport closed (main) ─────┘
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.Register(shutdown.PhaseTransport, "transport", srv.Close)
//	coord.Register(shutdown.PhaseProcesses, "process-sweep", sup.Sweep)
//	coord.Register(shutdown.PhaseFlush, "bus", bus.Close)
//
//	guard := shutdown.NewGuard(coord, shutdown.GuardConfig{})
//	guard.HandleSignals()
//	defer guard.RecoverPanic()
//
//	err := srv.Run(ctx)
//	guard.Exit(exitCode(err))
//
// # Phases
//
// Lower phase numbers are shut down first:
//
//   - 10: transport (stop accepting requests)
//   - 20: process sweep (terminate every live child)
//   - 30: flush (event bus, tracer, metrics server)
//
// Handlers in the same phase run concurrently. Each phase gets its own
// deadline; handlers still running at the deadline are reported as timed
// out and the next phase starts anyway. Failures, timeouts and handler
// panics are collected, so a transport that fails or stalls never skips
// the sweep.
//
// # Exit Codes
//
// Exit uses 0 on a clean run, 1 when any handler failed, and 2 after a
// recovered panic.
package shutdown
