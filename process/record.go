package process

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle position of a supervised process.
type State int

const (
	// StateRunning means the child is alive or its exit is not yet reaped.
	StateRunning State = iota
	// StateExited means an exit code has been recorded.
	StateExited
	// StateFailed means the child never started.
	StateFailed
)

// String returns a lowercase state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Status is the externally visible state of a record.
type Status struct {
	State    State
	ExitCode int
	Signal   string
	Err      error
}

// String renders the status line shown to MCP clients.
func (s Status) String() string {
	switch s.State {
	case StateExited:
		return fmt.Sprintf("Exited with code %d", s.ExitCode)
	case StateFailed:
		return fmt.Sprintf("Failed to start: %v", s.Err)
	default:
		return "Running"
	}
}

// Output is a snapshot of a record's captured streams.
type Output struct {
	ID     string
	Status Status
	Stdout string
	Stderr string
}

// Record is the captured history of one launch. It outlives the live
// handle and is only removed by a kill that discards output.
type Record struct {
	ID      string
	Command string
	Args    []string
	Dir     string
	PID     int
	Started time.Time
	Ended   time.Time

	stdout   []string
	stderr   []string
	exited   bool
	exitCode int
	signal   string
	spawnErr error
}

func (r *Record) status() Status {
	switch {
	case r.spawnErr != nil:
		return Status{State: StateFailed, ExitCode: -1, Err: r.spawnErr}
	case r.exited:
		return Status{State: StateExited, ExitCode: r.exitCode, Signal: r.signal}
	default:
		return Status{State: StateRunning, ExitCode: -1}
	}
}

// setExit records the terminal status. The first call wins.
func (r *Record) setExit(code int, signal string, at time.Time) {
	if r.exited || r.spawnErr != nil {
		return
	}
	r.exited = true
	r.exitCode = code
	r.signal = signal
	r.Ended = at
}

func (r *Record) output() Output {
	return Output{
		ID:     r.ID,
		Status: r.status(),
		Stdout: strings.Join(r.stdout, ""),
		Stderr: strings.Join(r.stderr, ""),
	}
}

func (r *Record) clearStreams() {
	r.stdout = nil
	r.stderr = nil
}

// stream identifies stdout or stderr.
type stream int

const (
	streamStdout stream = iota
	streamStderr
)

// store maps ids to records. It is not safe for concurrent use; the
// supervisor serializes access with its own mutex.
type store struct {
	records map[string]*Record
}

func newStore() *store {
	return &store{records: make(map[string]*Record)}
}

func (s *store) put(r *Record) {
	s.records[r.ID] = r
}

func (s *store) get(id string) (*Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

func (s *store) remove(id string) {
	delete(s.records, id)
}

// appendChunk is a no-op for unknown ids, so late writes never
// resurrect a discarded record.
func (s *store) appendChunk(id string, which stream, chunk string) {
	r, ok := s.records[id]
	if !ok {
		return
	}
	if which == streamStderr {
		r.stderr = append(r.stderr, chunk)
		return
	}
	r.stdout = append(r.stdout, chunk)
}

func (s *store) all() []*Record {
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}
