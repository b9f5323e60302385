// Package config loads pwalker-mcp settings from a TOML file, then applies
// PWALKER_* environment overrides. Flag overrides are applied by the CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// PWALKER_SERVER_TRANSPORT=websocket or PWALKER_PROCESS_KILL_SIGNAL=SIGINT.
const EnvPrefix = "PWALKER"

// Transports accepted by server.transport.
const (
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"
)

// Duration is a time.Duration that decodes from strings like "2s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Process   ProcessConfig   `toml:"process"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Bus       BusConfig       `toml:"bus"`
}

// ServerConfig describes the MCP endpoint.
type ServerConfig struct {
	Name      string `toml:"name"`
	Version   string `toml:"version"`
	Transport string `toml:"transport"`
	Listen    string `toml:"listen"`
	// BaseDir anchors relative cwd and taskfile paths. Empty means the
	// working directory of the server.
	BaseDir string `toml:"base_dir" split_words:"true"`
}

// ProcessConfig tunes the supervisor.
type ProcessConfig struct {
	KillSignal    string            `toml:"kill_signal" split_words:"true"`
	WaitDelay     Duration          `toml:"wait_delay" split_words:"true"`
	ShutdownGrace Duration          `toml:"shutdown_grace" split_words:"true"`
	Env           map[string]string `toml:"env"`
}

// LoggingConfig selects level and encoder.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// TelemetryConfig enables OTLP tracing when Endpoint is set.
type TelemetryConfig struct {
	Endpoint string `toml:"endpoint"`
	Protocol string `toml:"protocol"`
	Insecure bool   `toml:"insecure"`
	Debug    bool   `toml:"debug"`
}

// BusConfig selects the lifecycle event bus. An empty URL uses the
// in-process bus. A zero HeartbeatInterval disables heartbeats.
type BusConfig struct {
	URL               string   `toml:"url"`
	SubjectPrefix     string   `toml:"subject_prefix" split_words:"true"`
	HeartbeatInterval Duration `toml:"heartbeat_interval" split_words:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:      "pwalker-mcp",
			Version:   "0.1.0",
			Transport: TransportStdio,
			Listen:    "127.0.0.1:8765",
		},
		Process: ProcessConfig{
			KillSignal:    "SIGTERM",
			WaitDelay:     Duration{2 * time.Second},
			ShutdownGrace: Duration{3 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
		Bus: BusConfig{
			SubjectPrefix:     "pwalker",
			HeartbeatInterval: Duration{30 * time.Second},
		},
	}
}

// Load builds the effective configuration: defaults, then the TOML file at
// path (skipped when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(string(content)); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML content over the defaults.
func Parse(content string) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(content); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(content string) error {
	md, err := toml.Decode(content, c)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides fields from PWALKER_* environment variables. Unset
// variables leave the current value in place.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	return nil
}

var signals = map[string]syscall.Signal{
	"SIGTERM": syscall.SIGTERM,
	"SIGINT":  syscall.SIGINT,
	"SIGKILL": syscall.SIGKILL,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
}

// ParseSignal maps "SIGTERM", "term" and similar names to a signal.
func ParseSignal(name string) (syscall.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	sig, ok := signals[n]
	if !ok {
		return 0, fmt.Errorf("unsupported signal %q", name)
	}
	return sig, nil
}

// KillSignal returns the configured kill signal, falling back to SIGTERM.
func (c *Config) KillSignal() syscall.Signal {
	sig, err := ParseSignal(c.Process.KillSignal)
	if err != nil {
		return syscall.SIGTERM
	}
	return sig
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportStdio, TransportWebSocket:
	default:
		return fmt.Errorf("server.transport: unknown transport %q", c.Server.Transport)
	}
	if c.Server.Transport == TransportWebSocket && c.Server.Listen == "" {
		return fmt.Errorf("server.listen: required for websocket transport")
	}
	if _, err := ParseSignal(c.Process.KillSignal); err != nil {
		return fmt.Errorf("process.kill_signal: %w", err)
	}
	if c.Process.WaitDelay.Duration < 0 {
		return fmt.Errorf("process.wait_delay: must not be negative")
	}
	if c.Process.ShutdownGrace.Duration < 0 {
		return fmt.Errorf("process.shutdown_grace: must not be negative")
	}
	if c.Bus.HeartbeatInterval.Duration < 0 {
		return fmt.Errorf("bus.heartbeat_interval: must not be negative")
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol: unknown protocol %q", c.Telemetry.Protocol)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

// ResolvePath anchors a relative path at server.base_dir.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Server.BaseDir == "" {
		return p
	}
	return filepath.Join(c.Server.BaseDir, p)
}
