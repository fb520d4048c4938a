package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rendis/autoflow/internal/approval"
	"github.com/rendis/autoflow/internal/capabilities"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/plugins"
	"github.com/rendis/autoflow/internal/queue"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/tracing"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/internal/worker"
	"github.com/rendis/autoflow/internal/workflows"
	"github.com/rendis/autoflow/pkg/mcp"
)

// app is the wired engine. Components are built once and shared by the
// dispatcher, the worker and the MCP server.
type app struct {
	cfg    Config
	logger *slog.Logger

	store     store.Store
	registry  *capabilities.Registry
	plugins   *plugins.Manager
	gate      *approval.Gate
	approvals *approval.Service
	executor  *engine.Executor
	queue     *queue.Queue
	workflows *workflows.Service
	mcp       *mcp.Server
	redis     redis.UniversalClient

	shutdownTracing func(context.Context) error
}

func newLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(w, level, logging.Format(cfg.LogFormat)), nil
}

// openStore opens the backend named by the database URL when one is
// configured, otherwise the embedded libSQL file.
func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		return store.Open(ctx, cfg.DatabaseURL)
	}
	path := strings.TrimPrefix(cfg.DBPath, "file:")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return store.NewLibSQLStore("file:" + path)
}

// newApp wires every component from cfg. The store is migrated.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.shutdownTracing, err = tracing.Setup(ctx, tracing.Config{Endpoint: cfg.OTLPEndpoint, Insecure: cfg.OTLPInsecure})
	if err != nil {
		return a, err
	}

	if a.store, err = openStore(ctx, cfg); err != nil {
		return a, err
	}
	if err = a.store.Migrate(ctx); err != nil {
		return a, fmt.Errorf("migrate: %w", err)
	}

	inputs, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return a, err
	}
	a.registry = capabilities.NewRegistry(inputs)
	if err = capabilities.RegisterBuiltins(a.registry, capabilities.HTTPConfig{
		DefaultTimeout: time.Duration(cfg.HTTPTimeout),
	}); err != nil {
		return a, err
	}
	a.loadPlugins(ctx)

	guards, err := expressions.NewCELEngine()
	if err != nil {
		return a, err
	}
	definitions, err := validation.NewWorkflowValidator(a.registry, guards)
	if err != nil {
		return a, err
	}

	if a.queue, err = queue.New(cfg.queueConfig(), logger); err != nil {
		return a, err
	}

	a.mcp = mcp.NewServer(mcp.ServerDeps{Logger: logger})
	a.gate = approval.NewGate(a.store, capabilities.HighRiskSet(a.registry),
		approval.WithTTL(time.Duration(cfg.ApprovalTTL)),
		approval.WithNotifier(mcp.NewNotifier(a.mcp)),
		approval.WithLogger(logger),
	)
	a.approvals = approval.NewService(a.gate, a.store, a.queue, logger)
	a.executor = engine.NewExecutor(a.store, a.registry,
		engine.WithGate(a.gate),
		engine.WithGuards(guards),
		engine.WithLogger(logger),
	)
	a.workflows = workflows.NewService(a.store, definitions, a.executor, a.gate, a.queue, logger)
	a.mcp.Bind(a.workflows, a.approvals)

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	return a, nil
}

// loadPlugins registers the tools of every configured plugin before the
// high-risk set is taken. A plugin that fails to start is skipped.
func (a *app) loadPlugins(ctx context.Context) {
	a.plugins = plugins.NewManager(a.registry, a.logger)
	for _, pc := range a.cfg.Plugins {
		if err := a.plugins.Load(ctx, pc); err != nil {
			a.logger.WarnContext(ctx, "plugin not loaded",
				slog.String("plugin", pc.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (a *app) dispatcher() *scheduler.Dispatcher {
	opts := []scheduler.Option{
		scheduler.WithInterval(time.Duration(a.cfg.DispatchInterval)),
		scheduler.WithLogger(a.logger),
	}
	if a.redis != nil {
		opts = append(opts, scheduler.WithClaimer(scheduler.NewRedisClaimer(a.redis, "", 0)))
	}
	return scheduler.NewDispatcher(a.store, a.queue, opts...)
}

func (a *app) worker() *worker.Worker {
	pool := engine.NewWorkerPool(a.cfg.PoolSize, a.logger)
	return worker.New(a.store, a.executor, a.queue, pool, a.logger)
}

// Close releases every component that was opened.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.plugins != nil {
		errs = append(errs, a.plugins.Stop())
	}
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	return errors.Join(errs...)
}
