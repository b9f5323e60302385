package shutdown

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pauldw/pwalker-mcp/logging"
	"github.com/pauldw/pwalker-mcp/process"
)

type exitRecorder struct {
	codes chan int
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{codes: make(chan int, 4)}
}

func (r *exitRecorder) exit(code int) {
	r.codes <- code
}

func (r *exitRecorder) wait(t *testing.T) int {
	t.Helper()
	select {
	case code := <-r.codes:
		return code
	case <-time.After(10 * time.Second):
		t.Fatal("exit function was not called")
		return -1
	}
}

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(&bytes.Buffer{})
	return l
}

func TestGuardInterruptSweepsLiveProcesses(t *testing.T) {
	sup := process.NewSupervisor(process.WithShutdownGrace(time.Second), process.WithLogger(quietLogger()))
	a := sup.Launch(context.Background(), "sleep", []string{"30"}, process.LaunchOptions{})
	b := sup.Launch(context.Background(), "sleep", []string{"30"}, process.LaunchOptions{})
	require.Equal(t, 2, sup.LiveCount())

	coord := NewCoordinator(DefaultConfig())
	coord.Register(PhaseProcesses, "process-sweep", sup.Sweep)

	var liveAtExit int32 = -1
	rec := newExitRecorder()
	guard := NewGuard(coord, GuardConfig{
		Logger: quietLogger(),
		ExitFunc: func(code int) {
			atomic.StoreInt32(&liveAtExit, int32(sup.LiveCount()))
			rec.exit(code)
		},
	})
	guard.HandleSignals()
	guard.Trigger()

	assert.Equal(t, ExitOK, rec.wait(t))
	assert.Equal(t, int32(0), atomic.LoadInt32(&liveAtExit))

	for _, id := range []string{a, b} {
		out, ok := sup.Read(id, false)
		require.True(t, ok)
		assert.Equal(t, process.StateExited, out.Status.State)
		assert.Equal(t, 128+int(syscall.SIGTERM), out.Status.ExitCode)
	}
}

func TestGuardRecoverPanic(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	var swept int32
	coord.Register(PhaseProcesses, "process-sweep", func(ctx context.Context) error {
		atomic.AddInt32(&swept, 1)
		return nil
	})

	var logs bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&logs)

	rec := newExitRecorder()
	guard := NewGuard(coord, GuardConfig{Logger: logger, ExitFunc: rec.exit})

	func() {
		defer guard.RecoverPanic()
		panic("request handler exploded")
	}()

	assert.Equal(t, ExitPanic, rec.wait(t))
	assert.Equal(t, int32(1), atomic.LoadInt32(&swept))
	assert.Contains(t, logs.String(), "request handler exploded")
	assert.Contains(t, logs.String(), "PANIC")
}

func TestGuardRecoverPanicNoPanic(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	rec := newExitRecorder()
	guard := NewGuard(coord, GuardConfig{Logger: quietLogger(), ExitFunc: rec.exit})

	func() {
		defer guard.RecoverPanic()
	}()

	select {
	case <-coord.Done():
		t.Fatal("shutdown must not run without a panic")
	default:
	}
	assert.Empty(t, rec.codes)
}

func TestGuardExitRunsOnce(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	var swept int32
	coord.Register(PhaseProcesses, "process-sweep", func(ctx context.Context) error {
		atomic.AddInt32(&swept, 1)
		return nil
	})

	rec := newExitRecorder()
	guard := NewGuard(coord, GuardConfig{Logger: quietLogger(), ExitFunc: rec.exit})
	guard.HandleSignals()

	guard.Exit(ExitOK)
	guard.Exit(ExitPanic)
	guard.Trigger()

	assert.Equal(t, ExitOK, rec.wait(t))
	assert.Equal(t, int32(1), atomic.LoadInt32(&swept))
	assert.Len(t, rec.codes, 0)
}

func TestGuardExitReportsHandlerFailure(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	coord.Register(PhaseFlush, "bus", func(ctx context.Context) error {
		return errors.New("drain failed")
	})

	rec := newExitRecorder()
	guard := NewGuard(coord, GuardConfig{Logger: quietLogger(), ExitFunc: rec.exit})
	guard.Exit(ExitOK)

	assert.Equal(t, ExitFailure, rec.wait(t))
}

func TestGuardStopWithoutExit(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	rec := newExitRecorder()
	guard := NewGuard(coord, GuardConfig{Logger: quietLogger(), ExitFunc: rec.exit})
	guard.HandleSignals()
	guard.Stop()
	guard.Stop()

	assert.Empty(t, rec.codes)
}
