package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/autoflow/internal/queue"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// DefaultInterval is the dispatcher heartbeat.
const DefaultInterval = 10 * time.Second

// Enqueuer publishes execute tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// Dispatcher polls active scheduled workflows and enqueues the due ones.
//
// last_run_at is stamped before the task is enqueued. A crash between the
// two drops that occurrence rather than firing it twice.
type Dispatcher struct {
	store    store.Store
	queue    Enqueuer
	detector *Detector
	claimer  Claimer
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Dispatcher) { p.interval = d }
}

// WithClaimer enables occurrence claims across dispatchers.
func WithClaimer(c Claimer) Option {
	return func(p *Dispatcher) { p.claimer = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Dispatcher) { p.now = now }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Dispatcher) { p.logger = l }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(s store.Store, q Enqueuer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:    s,
		queue:    q,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.detector = NewDetector(d.logger)
	return d
}

// Start launches the polling loop. The first tick runs immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.done != nil {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.loop(loopCtx)
	d.logger.Info("dispatcher started", slog.Duration("interval", d.interval))
	return nil
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Stop cancels the loop and waits for the running tick.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil

	d.logger.Info("dispatcher stopped")
	return nil
}

// Due lists the active scheduled workflows that fire at now.
func (d *Dispatcher) Due(ctx context.Context, now time.Time) ([]*store.Workflow, error) {
	active := true
	workflows, err := d.store.ListWorkflows(ctx, store.WorkflowFilter{
		IsActive:    &active,
		TriggerType: schema.TriggerScheduled,
	})
	if err != nil {
		return nil, fmt.Errorf("list scheduled workflows: %w", err)
	}
	var due []*store.Workflow
	for _, wf := range workflows {
		if d.detector.IsDue(wf, now) {
			due = append(due, wf)
		}
	}
	return due, nil
}

// Tick runs one dispatch pass and returns how many tasks it enqueued.
func (d *Dispatcher) Tick(ctx context.Context) int {
	now := d.now().UTC()
	due, err := d.Due(ctx, now)
	if err != nil {
		d.logger.ErrorContext(ctx, "dispatch tick failed", slog.String("error", err.Error()))
		return 0
	}

	dispatched := 0
	for _, wf := range due {
		if d.dispatch(ctx, wf, now) {
			dispatched++
		}
	}
	return dispatched
}

func (d *Dispatcher) dispatch(ctx context.Context, wf *store.Workflow, now time.Time) bool {
	log := d.logger.With(slog.String("workflow_id", wf.ID))

	if d.claimer != nil {
		won, err := d.claimer.Claim(ctx, wf.ID, now)
		switch {
		case err != nil:
			// The last_run_at stamp still guards the day.
			log.WarnContext(ctx, "occurrence claim failed", slog.String("error", err.Error()))
		case !won:
			log.DebugContext(ctx, "occurrence claimed by another dispatcher")
			return false
		}
	}

	if err := d.store.UpdateWorkflow(ctx, wf.ID, store.WorkflowUpdate{LastRunAt: &now}); err != nil {
		log.ErrorContext(ctx, "stamp last_run_at failed", slog.String("error", err.Error()))
		return false
	}
	if err := d.queue.Enqueue(ctx, queue.Task{WorkflowID: wf.ID, UserID: wf.OwnerID}); err != nil {
		log.ErrorContext(ctx, "enqueue scheduled run failed", slog.String("error", err.Error()))
		return false
	}
	log.InfoContext(ctx, "scheduled run dispatched", slog.String("frequency", string(wf.Frequency)))
	return true
}
