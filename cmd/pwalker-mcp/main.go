// Package main contains the pwalker-mcp server binary.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/pauldw/pwalker-mcp/config"
	"github.com/pauldw/pwalker-mcp/logging"
	"github.com/pauldw/pwalker-mcp/shutdown"
)

const (
	configFlag        = "config"
	transportFlag     = "transport"
	listenFlag        = "listen"
	baseDirFlag       = "base-dir"
	logLevelFlag      = "log-level"
	logFormatFlag     = "log-format"
	metricsListenFlag = "metrics-listen"
)

// version is set at build time.
var version = "dev"

var rootCmd = &cli.Command{
	Name:  "pwalker-mcp",
	Usage: "MCP server with a task queue and supervised background processes",
	Description: `pwalker-mcp speaks the Model Context Protocol over stdio or websocket.
It keeps a FIFO queue of task strings and runs commands in the background,
capturing their output. Every child it starts is terminated when the
server exits, whether by signal, panic or end of input.`,
	Writer:    os.Stdout,
	ErrWriter: os.Stderr,
	Flags:     flags(),
	Action:    actionFunc,
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:      configFlag,
			Aliases:   []string{"c"},
			Usage:     "Path to a TOML config file",
			TakesFile: true,
			Sources:   cli.EnvVars(config.EnvPrefix + "_CONFIG"),
		},
		&cli.StringFlag{
			Name:  transportFlag,
			Usage: "Transport to serve: stdio or websocket",
		},
		&cli.StringFlag{
			Name:  listenFlag,
			Usage: "Listen address for the websocket transport",
		},
		&cli.StringFlag{
			Name:      baseDirFlag,
			Usage:     "Directory that anchors relative cwd and taskfile paths",
			TakesFile: true,
		},
		&cli.StringFlag{
			Name:  logLevelFlag,
			Usage: "Log level: debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:  logFormatFlag,
			Usage: "Log format: console or json",
		},
		&cli.StringFlag{
			Name:  metricsListenFlag,
			Usage: "Serve Prometheus metrics on this address",
		},
	}
}

func main() {
	rootCmd.Version = version

	if err := rootCmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "pwalker-mcp: %v\n", err)
		os.Exit(shutdown.ExitFailure)
	}
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cli.Exit(err.Error(), shutdown.ExitFailure)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return cli.Exit(err.Error(), shutdown.ExitFailure)
	}

	a, err := newApp(ctx, cfg, log, os.Exit)
	if err != nil {
		return cli.Exit(err.Error(), shutdown.ExitFailure)
	}

	a.guard.HandleSignals()
	defer a.guard.RecoverPanic()

	log.Info("starting", map[string]interface{}{
		"name":      cfg.Server.Name,
		"version":   version,
		"transport": cfg.Server.Transport,
	})

	code := shutdown.ExitOK
	if err := a.serve(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error("server stopped", map[string]interface{}{"error": err.Error()})
		code = shutdown.ExitFailure
	}
	a.guard.Exit(code)
	return nil
}

// loadConfig layers defaults, the config file, PWALKER_* variables and
// finally command-line flags.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String(configFlag))
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{transportFlag, &cfg.Server.Transport},
		{listenFlag, &cfg.Server.Listen},
		{baseDirFlag, &cfg.Server.BaseDir},
		{logLevelFlag, &cfg.Logging.Level},
		{logFormatFlag, &cfg.Logging.Format},
		{metricsListenFlag, &cfg.Metrics.Listen},
	}
	for _, o := range overrides {
		if cmd.IsSet(o.flag) {
			*o.dst = cmd.String(o.flag)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	log := logging.New()
	log.SetFormat(logging.Format(cfg.Format))
	if cfg.Level != "" {
		level, err := logging.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		log.SetLevel(level)
	}
	return log, nil
}
