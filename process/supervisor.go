package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	gops "github.com/shirou/gopsutil/v3/process"

	"github.com/pauldw/pwalker-mcp/errors"
	"github.com/pauldw/pwalker-mcp/logging"
)

// Sentinel errors for the process package.
var (
	// ErrNotFound is returned when no live process has the given id.
	ErrNotFound = errors.NotFound("process not found")

	// ErrShuttingDown is recorded as the spawn error of launches that
	// arrive after a sweep has begun.
	ErrShuttingDown = errors.New(errors.ErrCodeUnavailable, "supervisor is shutting down")
)

// Defaults for supervisor tuning.
const (
	DefaultWaitDelay     = 2 * time.Second
	DefaultShutdownGrace = 3 * time.Second
)

// reapTimeout bounds how long a sweep waits for SIGKILLed children to be
// reaped.
const reapTimeout = 2 * time.Second

// LaunchOptions are per-launch settings.
type LaunchOptions struct {
	// Dir is the working directory. Empty inherits the server's.
	Dir string
	// Env entries are appended to the inherited environment.
	Env []string
}

// Summary describes a known record for listing.
type Summary struct {
	ID       string
	Command  string
	Args     []string
	PID      int
	State    State
	ExitCode int
	Started  time.Time
	Ended    time.Time
}

// handle is the live half of a launch. It is dropped once the waiter
// has reaped the child.
type handle struct {
	id      string
	command string
	cmd     *exec.Cmd
	done    chan struct{}
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithKillSignal sets the signal used by Kill and the first sweep pass.
func WithKillSignal(sig syscall.Signal) SupervisorOption {
	return func(s *Supervisor) {
		s.killSignal = sig
	}
}

// WithWaitDelay bounds how long Wait keeps draining output after the
// child exits while a grandchild still holds the pipes.
func WithWaitDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.waitDelay = d
	}
}

// WithShutdownGrace sets how long a sweep waits before escalating to
// SIGKILL.
func WithShutdownGrace(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.grace = d
	}
}

// WithEnv appends KEY=VALUE entries to every child's environment.
func WithEnv(env []string) SupervisorOption {
	return func(s *Supervisor) {
		s.env = append([]string(nil), env...)
	}
}

// WithLogger sets the logger for sweep diagnostics.
func WithLogger(l *logging.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.log = l
	}
}

// WithEventSink registers a receiver for lifecycle events.
func WithEventSink(sink EventSink) SupervisorOption {
	return func(s *Supervisor) {
		s.sink = sink
	}
}

// Supervisor launches and tracks background processes. One mutex guards
// both the live handle table and the record store, so stream appends,
// exit recording, reads and kills are serialized.
type Supervisor struct {
	mu      sync.Mutex
	handles map[string]*handle
	records *store
	closed  bool

	// spawning counts forks in progress; Sweep waits for them.
	spawning sync.WaitGroup

	killSignal syscall.Signal
	waitDelay  time.Duration
	grace      time.Duration
	env        []string
	log        *logging.Logger
	sink       EventSink
	signal     func(*os.Process, syscall.Signal) error
}

// NewSupervisor creates a supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		handles:    make(map[string]*handle),
		records:    newStore(),
		killSignal: syscall.SIGTERM,
		waitDelay:  DefaultWaitDelay,
		grace:      DefaultShutdownGrace,
		signal:     signalTree,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.New().WithComponent("supervisor")
	}
	return s
}

// Launch starts command with args and returns its id. The id is returned
// even when the spawn fails; the failure is kept on the record and shown
// by Read.
func (s *Supervisor) Launch(ctx context.Context, command string, args []string, opts LaunchOptions) string {
	id := uuid.NewString()
	rec := &Record{
		ID:      id,
		Command: command,
		Args:    append([]string(nil), args...),
		Dir:     opts.Dir,
		Started: time.Now(),
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(append(os.Environ(), s.env...), opts.Env...)
	cmd.Stdout = &chunkWriter{s: s, id: id, which: streamStdout}
	cmd.Stderr = &chunkWriter{s: s, id: id, which: streamStderr}
	cmd.WaitDelay = s.waitDelay
	configureCmd(cmd)

	s.mu.Lock()
	s.records.put(rec)
	var spawnErr error
	switch {
	case s.closed:
		spawnErr = ErrShuttingDown
	case ctx.Err() != nil:
		spawnErr = ctx.Err()
	default:
		// A sweep that begins while we fork waits for the handle.
		s.spawning.Add(1)
		defer s.spawning.Done()
	}
	s.mu.Unlock()

	if spawnErr == nil {
		spawnErr = cmd.Start()
	}
	if spawnErr != nil {
		s.mu.Lock()
		rec.spawnErr = spawnErr
		rec.Ended = time.Now()
		s.mu.Unlock()

		s.emit(Event{Type: EventSpawnFailed, ID: id, Command: command, ExitCode: -1, Err: spawnErr.Error()})
		return id
	}

	h := &handle{id: id, command: command, cmd: cmd, done: make(chan struct{})}
	s.mu.Lock()
	rec.PID = cmd.Process.Pid
	s.handles[id] = h
	s.mu.Unlock()

	go s.reap(h)

	s.emit(Event{Type: EventLaunched, ID: id, Command: command, PID: rec.PID, ExitCode: -1})
	return id
}

// reap waits for the child and its stream copies, then records the exit
// and drops the handle in one critical section.
func (s *Supervisor) reap(h *handle) {
	_ = h.cmd.Wait()
	code, sig := exitStatus(h.cmd.ProcessState)
	now := time.Now()

	s.mu.Lock()
	if rec, ok := s.records.get(h.id); ok {
		rec.setExit(code, sig, now)
	}
	delete(s.handles, h.id)
	s.mu.Unlock()
	close(h.done)

	s.emit(Event{Type: EventExited, ID: h.id, Command: h.command, PID: h.cmd.Process.Pid, ExitCode: code, Signal: sig})
}

// Read returns the captured output and status of id. When clear is set,
// the captured streams are emptied after the snapshot; the exit status is
// kept.
func (s *Supervisor) Read(id string, clear bool) (Output, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records.get(id)
	if !ok {
		return Output{}, false
	}
	out := rec.output()
	if clear {
		rec.clearStreams()
	}
	return out, true
}

// Kill signals the live process id. Unless keepOutput is set the record
// is discarded immediately. The exit is confirmed asynchronously by the
// waiter.
func (s *Supervisor) Kill(id string, keepOutput bool) error {
	s.mu.Lock()
	h, live := s.handles[id]
	_, known := s.records.get(id)
	if !live || !known {
		s.mu.Unlock()
		return ErrNotFound
	}
	err := s.signal(h.cmd.Process, s.killSignal)
	if err == nil && !keepOutput {
		s.records.remove(id)
	}
	pid := h.cmd.Process.Pid
	s.mu.Unlock()

	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeSignal, "failed to signal process", errors.WithProcessID(id))
	}
	s.emit(Event{Type: EventKilled, ID: id, Command: h.command, PID: pid, ExitCode: -1, Signal: s.killSignal.String(), KeepOutput: keepOutput})
	return nil
}

// Sweep terminates every live child and its descendants. Survivors of the
// grace period are sent SIGKILL. Launches after a sweep begins fail.
// Sweep is safe to call repeatedly.
func (s *Supervisor) Sweep(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.spawning.Wait()

	s.mu.Lock()
	live := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		live = append(live, h)
	}
	s.mu.Unlock()

	if len(live) == 0 {
		return nil
	}

	var result *multierror.Error
	trees := make(map[string][]*gops.Process, len(live))
	for _, h := range live {
		trees[h.id] = descendants(h.cmd.Process.Pid)
		if err := s.signal(h.cmd.Process, s.killSignal); err != nil {
			result = multierror.Append(result, fmt.Errorf("signal %s: %w", h.id, err))
		}
		for _, d := range trees[h.id] {
			_ = d.SendSignal(s.killSignal)
		}
		s.emit(Event{Type: EventSwept, ID: h.id, Command: h.command, PID: h.cmd.Process.Pid, ExitCode: -1, Signal: s.killSignal.String()})
	}

	survivors := s.awaitExit(ctx, live, s.grace)
	for _, h := range survivors {
		s.log.Warn("escalating to SIGKILL", map[string]interface{}{
			"id":  h.id,
			"pid": h.cmd.Process.Pid,
		})
		if err := s.signal(h.cmd.Process, syscall.SIGKILL); err != nil {
			result = multierror.Append(result, fmt.Errorf("kill %s: %w", h.id, err))
		}
	}
	for _, tree := range trees {
		for _, d := range tree {
			if running, _ := d.IsRunning(); running {
				_ = d.Kill()
			}
		}
	}

	if len(survivors) > 0 {
		if stuck := s.awaitExit(context.Background(), survivors, reapTimeout); len(stuck) > 0 {
			result = multierror.Append(result, fmt.Errorf("%d process(es) not reaped after SIGKILL", len(stuck)))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		s.log.Error("sweep incomplete", map[string]interface{}{"error": err.Error()})
		return err
	}
	return nil
}

// awaitExit waits until every handle is reaped, d elapses, or ctx ends,
// and returns the handles still alive.
func (s *Supervisor) awaitExit(ctx context.Context, hs []*handle, d time.Duration) []*handle {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for i, h := range hs {
		select {
		case <-h.done:
		case <-timer.C:
			return alive(hs[i:])
		case <-ctx.Done():
			return alive(hs[i:])
		}
	}
	return nil
}

func alive(hs []*handle) []*handle {
	var out []*handle
	for _, h := range hs {
		select {
		case <-h.done:
		default:
			out = append(out, h)
		}
	}
	return out
}

// Close sweeps all children.
func (s *Supervisor) Close() error {
	return s.Sweep(context.Background())
}

// List returns summaries of every known record, oldest first.
func (s *Supervisor) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records.all()
	out := make([]Summary, 0, len(recs))
	for _, r := range recs {
		st := r.status()
		out = append(out, Summary{
			ID:       r.ID,
			Command:  r.Command,
			Args:     append([]string(nil), r.Args...),
			PID:      r.PID,
			State:    st.State,
			ExitCode: st.ExitCode,
			Started:  r.Started,
			Ended:    r.Ended,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// LiveCount returns the number of children not yet reaped.
func (s *Supervisor) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Done returns a channel closed once id has been reaped, or nil when id
// has no live handle.
func (s *Supervisor) Done(id string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[id]; ok {
		return h.done
	}
	return nil
}

func (s *Supervisor) emit(e Event) {
	if s.sink == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.sink.HandleEvent(e)
}

// chunkWriter appends each write to the record under the supervisor lock.
// exec runs one copy goroutine per stream, so chunks keep emission order.
type chunkWriter struct {
	s     *Supervisor
	id    string
	which stream
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	chunk := string(p)
	w.s.mu.Lock()
	w.s.records.appendChunk(w.id, w.which, chunk)
	w.s.mu.Unlock()
	return len(p), nil
}
