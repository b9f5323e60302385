// Package metrics exposes Prometheus collectors for the MCP server.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pwalker"

// Tool call outcomes.
const (
	ResultOK       = "ok"
	ResultToolErr  = "tool_error"
	ResultRPCError = "rpc_error"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Tool metrics
	ToolCalls    *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec

	// Process metrics
	Launches  *prometheus.CounterVec
	Exits     *prometheus.CounterVec
	Kills     prometheus.Counter
	Running   prometheus.Gauge
	Sweeps    prometheus.Counter

	// Queue metrics
	QueueDepth  prometheus.Gauge
	TasksPushed prometheus.Counter
	TasksPopped prometheus.Counter

	// Transport metrics
	Sessions prometheus.Gauge

	startTime time.Time
}

// New creates the collectors on a private registry, together with the
// standard Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ToolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of MCP tool calls",
			},
			[]string{"tool", "result"},
		),
		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Tool call duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30, 120},
			},
			[]string{"tool"},
		),

		Launches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_launches_total",
				Help:      "Background process launches by outcome",
			},
			[]string{"result"},
		),
		Exits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_exits_total",
				Help:      "Reaped background processes by how they ended",
			},
			[]string{"reason"},
		),
		Kills: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_kills_total",
				Help:      "Kill requests delivered to live processes",
			},
		),
		Running: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "processes_running",
				Help:      "Background processes not yet reaped",
			},
		),
		Sweeps: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_sweeps_total",
				Help:      "Processes terminated by a shutdown sweep",
			},
		),

		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "task_queue_depth",
				Help:      "Tasks waiting in the queue",
			},
		),
		TasksPushed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_pushed_total",
				Help:      "Tasks pushed onto the queue",
			},
		),
		TasksPopped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_popped_total",
				Help:      "Tasks popped from the queue",
			},
		),

		Sessions: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Open MCP sessions",
			},
		),
	}

	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the server started",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordToolCall records one tool call.
func (m *Metrics) RecordToolCall(tool, result string, duration time.Duration) {
	m.ToolCalls.WithLabelValues(tool, result).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ProcessLaunched records a launch attempt.
func (m *Metrics) ProcessLaunched(started bool) {
	if started {
		m.Launches.WithLabelValues("started").Inc()
		m.Running.Inc()
		return
	}
	m.Launches.WithLabelValues("failed").Inc()
}

// ProcessExited records a reaped child.
func (m *Metrics) ProcessExited(code int, signal string) {
	reason := "success"
	switch {
	case signal != "":
		reason = "signal"
	case code != 0:
		reason = "failure"
	}
	m.Exits.WithLabelValues(reason).Inc()
	m.Running.Dec()
}

// ProcessKilled records a delivered kill request.
func (m *Metrics) ProcessKilled() {
	m.Kills.Inc()
}

// ProcessSwept records a child signalled by a shutdown sweep.
func (m *Metrics) ProcessSwept() {
	m.Sweeps.Inc()
}

// QueueChanged records pushes and pops and the resulting depth.
func (m *Metrics) QueueChanged(pushed, popped, depth int) {
	if pushed > 0 {
		m.TasksPushed.Add(float64(pushed))
	}
	if popped > 0 {
		m.TasksPopped.Add(float64(popped))
	}
	m.QueueDepth.Set(float64(depth))
}

// SessionOpened and SessionClosed track transport sessions.
func (m *Metrics) SessionOpened() { m.Sessions.Inc() }

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() { m.Sessions.Dec() }

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Server serves /metrics until shut down.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve starts an HTTP server for the metrics endpoint on addr.
func (m *Metrics) Serve(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln: ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
