// Package logging provides the structured logger used by every pwalker
// component. Output is written through zap and defaults to stderr, since
// stdout belongs to the stdio transport.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Format selects the zap encoder.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

var zapLevels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := zapLevels[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger provides leveled, structured logging.
type Logger struct {
	zl        *zap.Logger
	level     zap.AtomicLevel
	format    Format
	output    io.Writer
	component string
	traceID   string
}

// New creates a console Logger writing to stderr at INFO.
func New() *Logger {
	l := &Logger{
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		format: FormatConsole,
		output: os.Stderr,
	}
	l.rebuild()
	return l
}

func (l *Logger) rebuild() {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "component",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
		},
	}

	var encoder zapcore.Encoder
	if l.format == FormatJSON {
		cfg.EncodeName = zapcore.FullNameEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + name + "]")
		}
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	zl := zap.New(zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(l.output)), l.level))
	if l.component != "" {
		zl = zl.Named(l.component)
	}
	if l.traceID != "" {
		zl = zl.With(zap.String("trace_id", l.traceID))
	}
	l.zl = zl
}

func (l *Logger) derive(component, traceID string) *Logger {
	d := &Logger{
		level:     l.level,
		format:    l.format,
		output:    l.output,
		component: component,
		traceID:   traceID,
	}
	d.rebuild()
	return d
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.derive(component, l.traceID)
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return l.derive(l.component, traceID)
}

// SetLevel sets the minimum log level. Derived loggers share the level.
func (l *Logger) SetLevel(level Level) {
	if zl, ok := zapLevels[level]; ok {
		l.level.SetLevel(zl)
	}
}

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.rebuild()
}

// SetFormat switches between console and JSON encoding.
func (l *Logger) SetFormat(f Format) {
	if f != FormatJSON {
		f = FormatConsole
	}
	l.format = f
	l.rebuild()
}

// Zap exposes the underlying zap logger for libraries that want one.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.zl.Debug(msg, toZap(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.zl.Info(msg, toZap(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.zl.Warn(msg, toZap(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.zl.Error(msg, toZap(fields)...)
}

// toZap flattens the optional field map into sorted zap fields.
func toZap(fields []map[string]interface{}) []zap.Field {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields[0]))
	for k := range fields[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[0][k]))
	}
	return out
}

// --- Event helpers ---

// ToolCall logs a tool invocation.
func (l *Logger) ToolCall(tool string, args map[string]interface{}) {
	l.Debug("tool_call", map[string]interface{}{
		"tool": tool,
		"args": len(args),
	})
}

// ToolResult logs a tool result.
func (l *Logger) ToolResult(tool string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"tool":     tool,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("tool_error", fields)
	} else {
		l.Debug("tool_result", fields)
	}
}

// ProcessLaunched logs a successful spawn.
func (l *Logger) ProcessLaunched(id, command string, pid int) {
	l.Info("process_launched", map[string]interface{}{
		"id":      id,
		"command": command,
		"pid":     pid,
	})
}

// SpawnFailed logs a process that never started.
func (l *Logger) SpawnFailed(id, command string, err error) {
	l.Warn("spawn_failed", map[string]interface{}{
		"id":      id,
		"command": command,
		"error":   err.Error(),
	})
}

// ProcessExited logs a child's terminal status.
func (l *Logger) ProcessExited(id string, code int, signal string) {
	fields := map[string]interface{}{
		"id":        id,
		"exit_code": code,
	}
	if signal != "" {
		fields["signal"] = signal
	}
	l.Info("process_exited", fields)
}

// ProcessKilled logs a kill request.
func (l *Logger) ProcessKilled(id string, keepOutput bool) {
	l.Info("process_killed", map[string]interface{}{
		"id":          id,
		"keep_output": keepOutput,
	})
}

// TasksPushed logs queue growth.
func (l *Logger) TasksPushed(pushed, depth int) {
	l.Debug("tasks_pushed", map[string]interface{}{
		"pushed": pushed,
		"depth":  depth,
	})
}

// ShutdownStep logs one shutdown handler's outcome.
func (l *Logger) ShutdownStep(name, phase string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"handler":  name,
		"phase":    phase,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("shutdown_step", fields)
		return
	}
	l.Info("shutdown_step", fields)
}
