// Package cli defines the gate_backend command tree: the HTTP server and the
// token administration subcommands.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/SscSPs/bearer_gate/internal/platform/config"
	"github.com/urfave/cli/v2"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const (
	configKey = "config"
	loggerKey = "logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "gate_backend",
		Usage:   "Bearer token gate for downstream APIs",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ServeCommand(),
			TokenCommand(),
		},
		Before:   loadRuntime,
		Metadata: map[string]any{},
	}
}

// globalFlags override the matching environment configuration.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "store-driver",
			Usage: "Token store driver: file, postgres or memory (overrides TOKEN_STORE_DRIVER)",
		},
		&cli.StringFlag{
			Name:  "store-path",
			Usage: "Token file for the file driver (overrides TOKEN_STORE_PATH)",
		},
		&cli.StringFlag{
			Name:  "database-url",
			Usage: "PostgreSQL URL for the postgres driver (overrides PGSQL_URL)",
		},
	}
}

// loadRuntime resolves configuration and the base logger before any command runs.
func loadRuntime(c *cli.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("store-driver") {
		cfg.TokenStoreDriver = c.String("store-driver")
	}
	if c.IsSet("store-path") {
		cfg.TokenStorePath = c.String("store-path")
	}
	if c.IsSet("database-url") {
		cfg.DatabaseURL = c.String("database-url")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Logs go to stderr so command output on stdout stays machine readable.
	logger := slog.New(slog.NewJSONHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: cfg.LogLevel}))

	c.App.Metadata[configKey] = cfg
	c.App.Metadata[loggerKey] = logger
	return nil
}

func runtimeFrom(c *cli.Context) (*config.Config, *slog.Logger) {
	cfg, _ := c.App.Metadata[configKey].(*config.Config)
	logger, _ := c.App.Metadata[loggerKey].(*slog.Logger)
	if logger == nil {
		logger = slog.Default()
	}
	return cfg, logger
}
