package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/queue"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// TaskSource delivers execute tasks.
type TaskSource interface {
	Consume(ctx context.Context, handle queue.Handler) error
}

// Enqueuer publishes execute tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// Runner executes a workflow and reports the executions it is walking.
type Runner interface {
	Execute(ctx context.Context, wf *store.Workflow, userID string, opts engine.ExecuteOptions) (*store.Execution, error)
	Active() []string
}

// DefaultLeaseInterval is how often a worker renews its running executions.
const DefaultLeaseInterval = 30 * time.Second

// An execution left running without a renewal for this many lease
// intervals is taken as interrupted.
const staleIntervals = 3

// Worker consumes execute tasks and runs them on a bounded pool. A task for
// an execution that is already running in this process is dropped, except a
// resume, which waits for the running walk to yield.
type Worker struct {
	store  store.Store
	runner Runner
	source TaskSource
	pool   *engine.WorkerPool
	logger *slog.Logger
}

// New creates a Worker.
func New(s store.Store, runner Runner, source TaskSource, pool *engine.WorkerPool, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: s, runner: runner, source: source, pool: pool, logger: logger}
}

// Run consumes tasks until ctx is done, then waits for running executions
// to reach a checkpoint.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	err := w.source.Consume(ctx, w.Handle)
	w.pool.Shutdown()
	w.logger.Info("worker stopped", slog.Any("metrics", w.pool.Metrics()))
	return err
}

// Handle schedules one task on the pool.
func (w *Worker) Handle(ctx context.Context, task queue.Task) error {
	ctx = logging.WithIDs(ctx, task.WorkflowID, task.ExecutionID)

	wf, err := w.store.GetWorkflow(ctx, task.WorkflowID)
	if err != nil {
		return err
	}

	submit := w.pool.Submit
	if task.ResumeNodeID != "" {
		// An approval can land while the walk that opened the gate unwinds.
		if w.pool.InFlight(task.ExecutionID) {
			w.logger.InfoContext(ctx, "resume waits for the running execution", slog.String("node_id", task.ResumeNodeID))
		}
		submit = w.pool.SubmitAfter
	}
	err = submit(ctx, task.ExecutionID, func(ctx context.Context) error {
		return w.execute(ctx, wf, task)
	})
	if errors.Is(err, engine.ErrInFlight) {
		w.logger.InfoContext(ctx, "duplicate task dropped, execution already in flight")
		return nil
	}
	return err
}

func (w *Worker) execute(ctx context.Context, wf *store.Workflow, task queue.Task) error {
	exec, err := w.runner.Execute(ctx, wf, task.UserID, engine.ExecuteOptions{
		ExecutionID:  task.ExecutionID,
		ResumeNodeID: task.ResumeNodeID,
	})
	if exec != nil {
		ctx = logging.WithExecutionID(ctx, exec.ID)
	}
	switch {
	case err != nil && ctx.Err() != nil:
		w.logger.WarnContext(ctx, "execution interrupted by shutdown")
		return err
	case err != nil:
		w.logger.ErrorContext(ctx, "execution failed", slog.String("error", err.Error()))
		return err
	case exec != nil:
		w.logger.InfoContext(ctx, "execution finished", slog.String("status", string(exec.Status)))
	}
	return nil
}

// Lease renews the executions this worker is walking every interval and
// re-enqueues running executions nobody renewed for three intervals. The
// first pass runs immediately. It returns when ctx is done.
func (w *Worker) Lease(ctx context.Context, q Enqueuer, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultLeaseInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		w.renew(ctx)
		if _, err := Recover(ctx, w.store, q, staleIntervals*interval, w.logger); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "recover interrupted executions", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) renew(ctx context.Context) {
	ids := w.runner.Active()
	if len(ids) == 0 {
		return
	}
	if err := w.store.TouchExecutions(ctx, ids, time.Now().UTC()); err != nil && ctx.Err() == nil {
		w.logger.WarnContext(ctx, "renew execution lease", slog.Int("executions", len(ids)), slog.String("error", err.Error()))
	}
}

// Recover re-enqueues running executions not written for staleAfter; their
// worker is gone. A zero staleAfter takes every running execution.
func Recover(ctx context.Context, s store.Store, q Enqueuer, staleAfter time.Duration, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	running := schema.ExecutionStatusRunning
	execs, err := s.ListExecutions(ctx, store.ExecutionFilter{Status: &running})
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-staleAfter)
	recovered := 0
	for _, exec := range execs {
		if staleAfter > 0 && exec.UpdatedAt.After(cutoff) {
			continue
		}
		task := queue.Task{WorkflowID: exec.WorkflowID, UserID: exec.UserID, ExecutionID: exec.ID}
		if err := q.Enqueue(ctx, task); err != nil {
			logger.ErrorContext(ctx, "re-enqueue interrupted execution failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		logger.InfoContext(ctx, "recovered interrupted executions", slog.Int("count", recovered))
	}
	return recovered, nil
}
