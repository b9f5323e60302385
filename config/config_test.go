package config

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TransportStdio, cfg.Server.Transport)
	assert.Equal(t, syscall.SIGTERM, cfg.KillSignal())
	assert.Equal(t, 3*time.Second, cfg.Process.ShutdownGrace.Duration)
	assert.Equal(t, "pwalker", cfg.Bus.SubjectPrefix)
	assert.Equal(t, 30*time.Second, cfg.Bus.HeartbeatInterval.Duration)
}

func TestParse(t *testing.T) {
	cfg, err := Parse(`
[server]
transport = "websocket"
listen = "0.0.0.0:9000"
base_dir = "/srv/work"

[process]
kill_signal = "SIGINT"
wait_delay = "500ms"
shutdown_grace = "1s"

[process.env]
FOO = "bar"

[logging]
level = "debug"
format = "json"

[bus]
url = "nats://localhost:4222"
heartbeat_interval = "0s"
`)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TransportWebSocket, cfg.Server.Transport)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, syscall.SIGINT, cfg.KillSignal())
	assert.Equal(t, 500*time.Millisecond, cfg.Process.WaitDelay.Duration)
	assert.Equal(t, time.Second, cfg.Process.ShutdownGrace.Duration)
	assert.Equal(t, map[string]string{"FOO": "bar"}, cfg.Process.Env)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "nats://localhost:4222", cfg.Bus.URL)
	assert.Zero(t, cfg.Bus.HeartbeatInterval.Duration)
	// untouched sections keep their defaults
	assert.Equal(t, "pwalker-mcp", cfg.Server.Name)
	assert.Equal(t, "pwalker", cfg.Bus.SubjectPrefix)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", `[server`},
		{"unknown key", "[server]\ntransprot = \"stdio\""},
		{"bad duration", "[process]\nwait_delay = \"soon\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"transport", func(c *Config) { c.Server.Transport = "carrier-pigeon" }},
		{"websocket without listen", func(c *Config) {
			c.Server.Transport = TransportWebSocket
			c.Server.Listen = ""
		}},
		{"signal", func(c *Config) { c.Process.KillSignal = "SIGWINCH" }},
		{"wait delay", func(c *Config) { c.Process.WaitDelay.Duration = -time.Second }},
		{"grace", func(c *Config) { c.Process.ShutdownGrace.Duration = -time.Second }},
		{"telemetry protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"heartbeat", func(c *Config) { c.Bus.HeartbeatInterval.Duration = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in   string
		want syscall.Signal
	}{
		{"SIGTERM", syscall.SIGTERM},
		{"term", syscall.SIGTERM},
		{" sigkill ", syscall.SIGKILL},
		{"INT", syscall.SIGINT},
	}
	for _, tt := range tests {
		got, err := ParseSignal(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseSignal("SIGNOPE")
	assert.Error(t, err)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pwalker.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\ntransport = \"websocket\"\n\n[logging]\nlevel = \"warn\"\n"), 0o644))

	t.Setenv("PWALKER_LOGGING_LEVEL", "debug")
	t.Setenv("PWALKER_PROCESS_KILL_SIGNAL", "SIGKILL")
	t.Setenv("PWALKER_PROCESS_SHUTDOWN_GRACE", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportWebSocket, cfg.Server.Transport)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, syscall.SIGKILL, cfg.KillSignal())
	assert.Equal(t, 250*time.Millisecond, cfg.Process.ShutdownGrace.Duration)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "pwalker-mcp", cfg.Server.Name)
}

func TestResolvePath(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "tasks.txt", cfg.ResolvePath("tasks.txt"))

	cfg.Server.BaseDir = "/srv/work"
	assert.Equal(t, filepath.Join("/srv/work", "tasks.txt"), cfg.ResolvePath("tasks.txt"))
	assert.Equal(t, "/etc/tasks", cfg.ResolvePath("/etc/tasks"))
	assert.Equal(t, "", cfg.ResolvePath(""))
}
