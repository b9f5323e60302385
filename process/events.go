package process

import "time"

// EventType names a lifecycle transition.
type EventType string

const (
	EventLaunched    EventType = "launched"
	EventSpawnFailed EventType = "spawn_failed"
	EventKilled      EventType = "killed"
	EventExited      EventType = "exited"
	EventSwept       EventType = "swept"
)

// Event describes one lifecycle transition of a supervised process.
type Event struct {
	Type     EventType `json:"type"`
	ID       string    `json:"id"`
	Command  string    `json:"command,omitempty"`
	PID      int       `json:"pid,omitempty"`
	ExitCode int       `json:"exit_code"`
	Signal   string    `json:"signal,omitempty"`
	Err      string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`

	// KeepOutput is set on killed events whose record was retained.
	KeepOutput bool `json:"keep_output,omitempty"`
}

// EventSink receives lifecycle events. Sinks are called outside the
// supervisor lock and must not block for long.
type EventSink interface {
	HandleEvent(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

// HandleEvent calls f(e).
func (f SinkFunc) HandleEvent(e Event) {
	f(e)
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

// HandleEvent delivers e to every non-nil sink.
func (m MultiSink) HandleEvent(e Event) {
	for _, s := range m {
		if s != nil {
			s.HandleEvent(e)
		}
	}
}
