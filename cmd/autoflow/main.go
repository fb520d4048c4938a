package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "autoflow",
		Usage:                 "Persisted workflow execution engine",
		Version:               version,
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-path",
				Usage:   "libSQL database file (default: ~/.autoflow/autoflow.db)",
				Sources: cli.EnvVars("AUTOFLOW_DB_PATH"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres connection URL; replaces the libSQL file when set",
				Sources: cli.EnvVars("AUTOFLOW_DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("AUTOFLOW_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (auto, text, json)",
				Sources: cli.EnvVars("AUTOFLOW_LOG_FORMAT"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			dueCommand(),
			diagramCommand(),
		},
	}
}

// configFromCommand loads the layered config and applies any flag the user
// set on the command line or through its env var.
func configFromCommand(cmd *cli.Command) (Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}

	stringFlags := map[string]*string{
		"db-path":       &cfg.DBPath,
		"database-url":  &cfg.DatabaseURL,
		"log-level":     &cfg.LogLevel,
		"log-format":    &cfg.LogFormat,
		"queue-backend": &cfg.QueueBackend,
		"redis-addr":    &cfg.RedisAddr,
		"otlp-endpoint": &cfg.OTLPEndpoint,
	}
	for name, dst := range stringFlags {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	if cmd.IsSet("pool-size") {
		cfg.PoolSize = int(cmd.Int("pool-size"))
	}
	if cmd.IsSet("kafka-brokers") {
		cfg.KafkaBrokers = cmd.StringSlice("kafka-brokers")
	}
	if cmd.IsSet("dispatch-interval") {
		cfg.DispatchInterval = Duration(cmd.Duration("dispatch-interval"))
	}
	if cmd.IsSet("approval-ttl") {
		cfg.ApprovalTTL = Duration(cmd.Duration("approval-ttl"))
	}
	return cfg, nil
}
