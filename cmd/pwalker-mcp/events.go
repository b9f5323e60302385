package main

import (
	"errors"

	"github.com/pauldw/pwalker-mcp/bus"
	"github.com/pauldw/pwalker-mcp/logging"
	"github.com/pauldw/pwalker-mcp/metrics"
	"github.com/pauldw/pwalker-mcp/process"
)

// lifecycleSink fans supervisor events out to the log, the metrics and the
// event bus.
func lifecycleSink(log *logging.Logger, m *metrics.Metrics, pub *bus.Publisher) process.EventSink {
	return process.MultiSink{
		logSink(log),
		metricsSink(m),
		busSink(pub, log),
	}
}

func logSink(log *logging.Logger) process.EventSink {
	return process.SinkFunc(func(e process.Event) {
		switch e.Type {
		case process.EventLaunched:
			log.ProcessLaunched(e.ID, e.Command, e.PID)
		case process.EventSpawnFailed:
			log.SpawnFailed(e.ID, e.Command, errors.New(e.Err))
		case process.EventExited:
			log.ProcessExited(e.ID, e.ExitCode, e.Signal)
		case process.EventKilled:
			log.ProcessKilled(e.ID, e.KeepOutput)
		}
	})
}

func metricsSink(m *metrics.Metrics) process.EventSink {
	return process.SinkFunc(func(e process.Event) {
		switch e.Type {
		case process.EventLaunched:
			m.ProcessLaunched(true)
		case process.EventSpawnFailed:
			m.ProcessLaunched(false)
		case process.EventExited:
			m.ProcessExited(e.ExitCode, e.Signal)
		case process.EventKilled:
			m.ProcessKilled()
		case process.EventSwept:
			m.ProcessSwept()
		}
	})
}

// busSink publishes every event as "process.<type>". A failed publish is
// logged and otherwise ignored; the bus is an observer only.
func busSink(pub *bus.Publisher, log *logging.Logger) process.EventSink {
	return process.SinkFunc(func(e process.Event) {
		kind := "process." + string(e.Type)
		if err := pub.Publish(kind, e); err != nil {
			log.Debug("event publish failed", map[string]interface{}{
				"subject": pub.Subject(kind),
				"error":   err.Error(),
			})
		}
	})
}
