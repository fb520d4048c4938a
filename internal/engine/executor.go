package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/autoflow/internal/approval"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/tracing"
	"github.com/rendis/autoflow/pkg/schema"
)

// ErrPaused stops the node loop when a high-risk call is waiting on a human.
// It is not a failure.
var ErrPaused = errors.New("execution paused for approval")

// ToolInvoker runs a capability by name.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// ApprovalGate is what the executor needs from approval.Gate.
type ApprovalGate interface {
	RequiresApproval(tool string) bool
	GetLatest(ctx context.Context, ref string) (*store.PendingAction, error)
	Create(ctx context.Context, req approval.Request) (*store.PendingAction, error)
	Consume(ctx context.Context, action *store.PendingAction) error
}

// ExecuteOptions selects what Execute runs.
type ExecuteOptions struct {
	// ExecutionID resumes an existing execution. Empty creates a new one.
	ExecutionID string
	// ResumeNodeID overrides the node the walk starts from.
	ResumeNodeID string
}

// Executor drives executions through their workflow graph, persisting the
// execution before every node.
type Executor struct {
	store        store.Store
	tools        ToolInvoker
	gate         ApprovalGate
	guards       GuardEvaluator
	fsm          *ExecutionFSM
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	nodeHandlers map[schema.NodeType]nodeHandler

	mu     sync.Mutex
	active map[string]struct{}
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithGate enables approval of high-risk tools.
func WithGate(g ApprovalGate) ExecutorOption {
	return func(e *Executor) { e.gate = g }
}

// WithGuards sets the evaluator for "cel:" edge conditions.
func WithGuards(g GuardEvaluator) ExecutorOption {
	return func(e *Executor) { e.guards = g }
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor.
func NewExecutor(s store.Store, tools ToolInvoker, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:  s,
		tools:  tools,
		logger: slog.Default(),
		tracer: tracing.Tracer("github.com/rendis/autoflow/internal/engine"),
		now:    func() time.Time { return time.Now().UTC() },
		active: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	e.fsm = NewExecutionFSM(s, e.logger)
	e.nodeHandlers = e.handlers()
	return e
}

// FSM returns the executor's state machine.
func (e *Executor) FSM() *ExecutionFSM { return e.fsm }

// Active lists the executions this executor is walking right now.
func (e *Executor) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (e *Executor) track(id string) func() {
	e.mu.Lock()
	e.active[id] = struct{}{}
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.active, id)
		e.mu.Unlock()
	}
}

// Create persists a pending execution of wf and counts it as a run. When
// the run cannot be counted the execution is failed rather than left pending.
func (e *Executor) Create(ctx context.Context, wf *store.Workflow, userID string, execType schema.ExecutionType) (*store.Execution, error) {
	exec := &store.Execution{
		ID:         store.NewExecutionID(),
		WorkflowID: wf.ID,
		UserID:     userID,
		Type:       execType,
		Status:     schema.ExecutionStatusPending,
		Context:    map[string]any{},
		CreatedAt:  e.now(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create execution: %s", err.Error()).WithCause(err)
	}
	if err := e.store.UpdateWorkflow(ctx, wf.ID, store.WorkflowUpdate{IncrementRuns: true}); err != nil {
		cause := schema.NewErrorf(schema.ErrCodeStore, "count workflow run: %s", err.Error()).WithCause(err)
		now := e.now()
		if ferr := e.fsm.Transition(ctx, exec.ID, exec.Status, schema.ExecutionStatusFailed, store.ExecutionUpdate{
			Logs:       &store.ExecutionLogs{Error: cause.Error(), Context: map[string]any{}},
			FinishedAt: &now,
		}); ferr != nil {
			e.logger.ErrorContext(ctx, "abandon uncounted execution",
				slog.String("execution_id", exec.ID),
				slog.String("error", ferr.Error()),
			)
		}
		return nil, cause
	}
	e.appendEvent(ctx, exec.ID, "", schema.EventExecutionCreated, map[string]any{"execution_type": string(execType)})
	return exec, nil
}

// Execute runs wf for userID until the walk ends, a high-risk call pauses
// it, or a node fails.
//
// A paused execution is returned with a nil error. A failure is persisted and
// returned. When ctx is cancelled the execution is left running at its last
// checkpoint and ctx.Err() is returned. Executions already completed or
// failed are returned untouched.
func (e *Executor) Execute(ctx context.Context, wf *store.Workflow, userID string, opts ExecuteOptions) (*store.Execution, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	exec, err := e.loadOrCreate(ctx, wf, userID, opts.ExecutionID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithIDs(ctx, wf.ID, exec.ID)
	if exec.Status.Terminal() {
		e.logger.InfoContext(ctx, "execution already finished", slog.String("status", string(exec.Status)))
		return exec, nil
	}
	defer e.track(exec.ID)()

	ctx, span := e.tracer.Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID),
			attribute.String("execution.id", exec.ID),
			attribute.String("execution.type", string(exec.Type)),
		))
	defer span.End()

	r := &run{wf: wf, exec: exec, values: expressions.NewContextStore(exec.Context)}
	walker := NewWalker(wf.Nodes, wf.Edges, e.guards)

	start := firstNonEmpty(opts.ResumeNodeID, exec.CurrentNodeID, wf.StartNodeID)
	if _, ok := walker.Node(start); !ok {
		err := schema.NewErrorf(schema.ErrCodeGraph, "start node %q is not in the graph", start).WithNode(start)
		return exec, e.fail(ctx, span, r, err)
	}

	if err := e.begin(ctx, r, start); err != nil {
		if schema.HasCode(err, schema.ErrCodeConflict) {
			// Another worker resumed it first.
			e.logger.InfoContext(ctx, "execution already resumed elsewhere")
			return exec, nil
		}
		return exec, err
	}

	for current := start; current != ""; {
		if err := ctx.Err(); err != nil {
			return exec, e.interrupted(ctx, span, r, err)
		}
		node, _ := walker.Node(current)

		result, err := e.step(ctx, r, node)
		if errors.Is(err, ErrPaused) {
			e.logger.InfoContext(ctx, "execution paused for approval", slog.String("node_id", node.ID))
			span.SetAttributes(attribute.String("execution.status", string(schema.ExecutionStatusPaused)))
			return exec, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return exec, e.interrupted(ctx, span, r, ctx.Err())
			}
			return exec, e.fail(ctx, span, r, err)
		}

		next, err := walker.Next(ctx, current, result, r.values.Snapshot())
		if err != nil {
			return exec, e.fail(ctx, span, r, err)
		}
		current = next
	}

	return exec, e.complete(ctx, span, r)
}

func (e *Executor) loadOrCreate(ctx context.Context, wf *store.Workflow, userID, executionID string) (*store.Execution, error) {
	if executionID == "" {
		execType := schema.ExecutionTypeManual
		if wf.TriggerType == schema.TriggerScheduled {
			execType = schema.ExecutionTypeScheduled
		}
		return e.Create(ctx, wf, userID, execType)
	}
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.WorkflowID != wf.ID {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "execution %s belongs to workflow %s, not %s",
			exec.ID, exec.WorkflowID, wf.ID)
	}
	return exec, nil
}

// begin moves a pending or paused execution to running. An execution found
// running was interrupted and continues from its checkpoint.
func (e *Executor) begin(ctx context.Context, r *run, start string) error {
	if r.exec.Status == schema.ExecutionStatusRunning {
		e.logger.InfoContext(ctx, "continuing interrupted execution", slog.String("node_id", start))
		return nil
	}
	update := store.ExecutionUpdate{CurrentNodeID: &start}
	if r.exec.StartedAt == nil {
		now := e.now()
		update.StartedAt = &now
		r.exec.StartedAt = &now
	}
	if err := e.fsm.Transition(ctx, r.exec.ID, r.exec.Status, schema.ExecutionStatusRunning, update); err != nil {
		return err
	}
	r.exec.Status = schema.ExecutionStatusRunning
	return nil
}

// step checkpoints the execution at node, runs it and records its result.
func (e *Executor) step(ctx context.Context, r *run, node schema.Node) (any, error) {
	nodeID := node.ID
	if err := e.store.UpdateExecution(ctx, r.exec.ID, store.ExecutionUpdate{
		CurrentNodeID: &nodeID,
		Context:       r.values.Snapshot(),
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "checkpoint before %s: %s", nodeID, err.Error()).
			WithNode(nodeID).
			WithCause(err)
	}
	r.exec.CurrentNodeID = nodeID

	ctx = logging.WithNodeID(ctx, nodeID)
	ctx, span := e.tracer.Start(ctx, "node "+nodeID,
		trace.WithAttributes(
			attribute.String("node.id", nodeID),
			attribute.String("node.type", string(node.Type)),
			attribute.String("node.tool", node.Tool),
		))
	defer span.End()

	e.appendEvent(ctx, r.exec.ID, nodeID, schema.EventNodeStarted, nil)
	started := e.now()

	result, err := e.runNode(ctx, r, node)
	if err != nil {
		if !errors.Is(err, ErrPaused) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	if err := r.values.Set(nodeID, result); err != nil {
		return nil, err
	}
	stored, _ := r.values.Get(nodeID)

	e.appendEvent(ctx, r.exec.ID, nodeID, schema.EventNodeCompleted, map[string]any{
		"duration_ms": e.now().Sub(started).Milliseconds(),
	})
	e.logger.DebugContext(ctx, "node completed", slog.String("node_type", string(node.Type)))
	return stored, nil
}

func (e *Executor) complete(ctx context.Context, span trace.Span, r *run) error {
	now := e.now()
	cleared := ""
	snapshot := r.values.Snapshot()
	err := e.fsm.Transition(ctx, r.exec.ID, r.exec.Status, schema.ExecutionStatusCompleted, store.ExecutionUpdate{
		CurrentNodeID: &cleared,
		Context:       snapshot,
		Logs:          &store.ExecutionLogs{Context: snapshot},
		FinishedAt:    &now,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	r.exec.Status = schema.ExecutionStatusCompleted
	r.exec.CurrentNodeID = ""
	r.exec.Context = snapshot
	r.exec.Logs = &store.ExecutionLogs{Context: snapshot}
	r.exec.FinishedAt = &now

	span.SetAttributes(attribute.String("execution.status", string(schema.ExecutionStatusCompleted)))
	e.logger.InfoContext(ctx, "execution completed", slog.Int("nodes", len(snapshot)))
	return nil
}

// fail marks the execution failed and returns cause.
func (e *Executor) fail(ctx context.Context, span trace.Span, r *run, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	e.logger.ErrorContext(ctx, "execution failed", slog.String("error", cause.Error()))

	now := e.now()
	snapshot := r.values.Snapshot()
	logs := &store.ExecutionLogs{Error: cause.Error(), Context: snapshot}
	if err := e.fsm.Transition(ctx, r.exec.ID, r.exec.Status, schema.ExecutionStatusFailed, store.ExecutionUpdate{
		Context:    snapshot,
		Logs:       logs,
		FinishedAt: &now,
	}); err != nil {
		e.logger.ErrorContext(ctx, "persist failed status", slog.String("error", err.Error()))
		return errors.Join(cause, err)
	}
	r.exec.Status = schema.ExecutionStatusFailed
	r.exec.Context = snapshot
	r.exec.Logs = logs
	r.exec.FinishedAt = &now
	return cause
}

func (e *Executor) interrupted(ctx context.Context, span trace.Span, r *run, err error) error {
	span.SetAttributes(attribute.Bool("execution.interrupted", true))
	e.logger.WarnContext(ctx, "execution interrupted, left at checkpoint",
		slog.String("node_id", r.exec.CurrentNodeID),
		slog.String("error", err.Error()),
	)
	return err
}

func (e *Executor) appendEvent(ctx context.Context, executionID, nodeID, eventType string, payload map[string]any) {
	event := &store.Event{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Type:        eventType,
		Timestamp:   e.now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			event.Payload = data
		}
	}
	if err := e.store.AppendEvent(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "append event failed",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
