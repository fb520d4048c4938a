package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/worker"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the dispatcher, the worker and optionally the MCP stdio server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "pool-size",
				Usage:   "Maximum concurrent executions",
				Sources: cli.EnvVars("AUTOFLOW_POOL_SIZE"),
			},
			&cli.StringFlag{
				Name:    "queue-backend",
				Usage:   "Task queue backend (gochannel, kafka)",
				Sources: cli.EnvVars("AUTOFLOW_QUEUE_BACKEND"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for the kafka backend",
				Sources: cli.EnvVars("AUTOFLOW_KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address used to claim schedule occurrences across dispatchers",
				Sources: cli.EnvVars("AUTOFLOW_REDIS_ADDR"),
			},
			&cli.DurationFlag{
				Name:    "dispatch-interval",
				Usage:   "Dispatcher heartbeat",
				Sources: cli.EnvVars("AUTOFLOW_DISPATCH_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "approval-ttl",
				Usage:   "How long an approval gate stays open (0: forever)",
				Sources: cli.EnvVars("AUTOFLOW_APPROVAL_TTL"),
			},
			&cli.StringFlag{
				Name:    "otlp-endpoint",
				Usage:   "OTLP/HTTP collector host:port for traces",
				Sources: cli.EnvVars("AUTOFLOW_OTLP_ENDPOINT"),
			},
			&cli.BoolFlag{
				Name:  "mcp",
				Usage: "Serve MCP tools over stdio; the process exits when stdin closes",
			},
			&cli.BoolFlag{
				Name:  "no-dispatcher",
				Usage: "Do not fire scheduled workflows from this process",
			},
			&cli.BoolFlag{
				Name:  "no-worker",
				Usage: "Do not consume execute tasks in this process",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return err
	}
	// With --mcp, stdout carries the protocol.
	var logOut io.Writer = os.Stderr
	if w := cmd.Root().ErrWriter; w != nil {
		logOut = w
	}
	logger, err := newLogger(cfg, logOut)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("shutdown", slog.String("error", err.Error()))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !cmd.Bool("no-worker") {
		if err := a.queue.Subscribe(ctx); err != nil {
			return err
		}
		w := a.worker()
		g.Go(func() error { return w.Run(ctx) })
		g.Go(func() error { return w.Lease(ctx, a.queue, worker.DefaultLeaseInterval) })
	}

	if !cmd.Bool("no-dispatcher") {
		d := a.dispatcher()
		if err := d.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = d.Stop() }()
	}

	if len(cfg.Plugins) > 0 {
		g.Go(func() error {
			a.plugins.Watch(ctx, time.Duration(cfg.PluginCheckInterval))
			return nil
		})
	}

	if cmd.Bool("mcp") {
		g.Go(func() error {
			err := a.mcp.Serve(ctx)
			stop()
			return err
		})
	}

	logger.Info("autoflow started",
		slog.String("version", version),
		slog.String("queue", cfg.QueueBackend),
		slog.Int("pool_size", cfg.PoolSize),
		slog.Int("tools", a.registry.Count()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("autoflow stopped")
	return nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or upgrade the database schema",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.Root().Writer, "schema is up to date")
			return nil
		},
	}
}

func dueCommand() *cli.Command {
	return &cli.Command{
		Name:  "due",
		Usage: "List active scheduled workflows due at a moment, with their next fire time",
		Flags: []cli.Flag{
			&cli.TimestampFlag{
				Name:  "at",
				Usage: "Moment to check, RFC 3339 (default: now)",
				Config: cli.TimestampConfig{
					Layouts: []string{time.RFC3339},
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			at := time.Now().UTC()
			if cmd.IsSet("at") {
				at = cmd.Timestamp("at")
			}
			d := scheduler.NewDispatcher(s, nil, scheduler.WithLogger(logger))
			due, err := d.Due(ctx, at)
			if err != nil {
				return err
			}
			return writeDue(cmd.Root().Writer, due, at)
		},
	}
}

type dueEntry struct {
	WorkflowID string     `json:"workflow_id"`
	Name       string     `json:"name"`
	Frequency  string     `json:"frequency"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

// writeDue prints one JSON object per due workflow. next_run is the
// occurrence after at, absent when the schedule will not fire again.
func writeDue(w io.Writer, due []*store.Workflow, at time.Time) error {
	enc := json.NewEncoder(w)
	for _, wf := range due {
		entry := dueEntry{WorkflowID: wf.ID, Name: wf.Name, Frequency: string(wf.Frequency)}
		if next, ok, err := scheduler.NextRun(wf.Frequency, wf.Schedule, at.Add(time.Minute)); err == nil && ok {
			entry.NextRun = &next
		}
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}
