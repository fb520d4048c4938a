package workflows

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/approval"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/queue"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// DefinitionValidator checks a definition before it is stored.
type DefinitionValidator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
}

// ExecutionCreator persists new pending executions.
type ExecutionCreator interface {
	Create(ctx context.Context, wf *store.Workflow, userID string, execType schema.ExecutionType) (*store.Execution, error)
}

// GateOpener opens approval gates.
type GateOpener interface {
	Create(ctx context.Context, req approval.Request) (*store.PendingAction, error)
}

// Enqueuer publishes execute tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// Defined is the outcome of Define. Activation is set for scheduled
// workflows, which stay inactive until their owner approves it.
type Defined struct {
	Workflow   *store.Workflow      `json:"workflow"`
	Activation *store.PendingAction `json:"activation,omitempty"`
}

// Status is an execution together with its event log.
type Status struct {
	Execution *store.Execution `json:"execution"`
	Events    []*store.Event   `json:"events"`
}

// Service is the owner-facing surface over workflows and their executions.
type Service struct {
	store      store.Store
	validator  DefinitionValidator
	executions ExecutionCreator
	gate       GateOpener
	queue      Enqueuer
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a workflows Service.
func NewService(s store.Store, v DefinitionValidator, executions ExecutionCreator, gate GateOpener, q Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      s,
		validator:  v,
		executions: executions,
		gate:       gate,
		queue:      q,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Define validates def and stores it for owner. A scheduled workflow is
// stored inactive with an automation approval gate opened on it.
func (s *Service) Define(ctx context.Context, owner string, def *schema.WorkflowDefinition) (*Defined, error) {
	if owner == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "owner is required")
	}
	if err := s.validator.ValidateDefinition(def); err != nil {
		return nil, err
	}

	scheduled := def.TriggerType == schema.TriggerScheduled
	now := s.now()
	wf := &store.Workflow{
		ID:          store.NewWorkflowID(),
		OwnerID:     owner,
		Name:        def.Name,
		Description: def.Description,
		TriggerType: def.TriggerType,
		Frequency:   def.Frequency,
		Schedule:    def.Schedule,
		IsActive:    !scheduled,
		StartNodeID: def.StartNodeID,
		EndNodeIDs:  def.EndNodeIDs,
		Nodes:       def.Nodes,
		Edges:       def.Edges,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(ctx, wf.ID)
	s.logger.InfoContext(ctx, "workflow defined",
		slog.String("name", wf.Name),
		slog.String("trigger_type", string(wf.TriggerType)),
	)

	out := &Defined{Workflow: wf}
	if !scheduled {
		return out, nil
	}

	action, err := s.gate.Create(ctx, approval.Request{
		Kind:       schema.ApprovalKindAutomation,
		Ref:        approval.WorkflowRef(wf.ID),
		WorkflowID: wf.ID,
		OwnerID:    owner,
	})
	if err != nil {
		// An inactive scheduled workflow with no gate could never be activated.
		if derr := s.store.DeleteWorkflow(ctx, wf.ID); derr != nil {
			s.logger.ErrorContext(ctx, "roll back ungated workflow", slog.String("error", derr.Error()))
		}
		return nil, err
	}
	out.Activation = action
	return out, nil
}

// Get returns a workflow owned by requester.
func (s *Service) Get(ctx context.Context, id, requester string) (*store.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.OwnerID != requester {
		return nil, schema.NewErrorf(schema.ErrCodeForbidden, "workflow %s belongs to another user", id)
	}
	return wf, nil
}

// List returns the workflows owned by owner.
func (s *Service) List(ctx context.Context, owner string, limit int) ([]*store.Workflow, error) {
	return s.store.ListWorkflows(ctx, store.WorkflowFilter{OwnerID: owner, Limit: limit})
}

// Run creates a manual execution of workflow id and enqueues it.
func (s *Service) Run(ctx context.Context, id, requester string) (*store.Execution, error) {
	wf, err := s.Get(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	exec, err := s.executions.Create(ctx, wf, requester, schema.ExecutionTypeManual)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, wf.ID, exec.ID)
	task := queue.Task{WorkflowID: wf.ID, UserID: requester, ExecutionID: exec.ID}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return exec, schema.NewErrorf(schema.ErrCodeQueue, "enqueue execution: %s", err.Error()).WithCause(err)
	}
	s.logger.InfoContext(ctx, "manual run enqueued")
	return exec, nil
}

// Activate lets the dispatcher fire workflow id.
func (s *Service) Activate(ctx context.Context, id, requester string) (*store.Workflow, error) {
	return s.setActive(ctx, id, requester, true)
}

// Deactivate stops the dispatcher from firing workflow id.
func (s *Service) Deactivate(ctx context.Context, id, requester string) (*store.Workflow, error) {
	return s.setActive(ctx, id, requester, false)
}

func (s *Service) setActive(ctx context.Context, id, requester string, active bool) (*store.Workflow, error) {
	wf, err := s.Get(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	if wf.IsActive == active {
		return wf, nil
	}
	if err := s.store.UpdateWorkflow(ctx, id, store.WorkflowUpdate{IsActive: &active}); err != nil {
		return nil, err
	}
	wf.IsActive = active
	s.logger.InfoContext(logging.WithWorkflowID(ctx, id), "workflow activity changed", slog.Bool("is_active", active))
	return wf, nil
}

// Status returns execution id and its events after sequence since.
func (s *Service) Status(ctx context.Context, executionID, requester string, since int64) (*Status, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.UserID != requester {
		return nil, schema.NewErrorf(schema.ErrCodeForbidden, "execution %s belongs to another user", executionID)
	}
	events, err := s.store.ListEvents(ctx, executionID, since)
	if err != nil {
		return nil, err
	}
	return &Status{Execution: exec, Events: events}, nil
}

// Executions lists the executions of workflow id, newest first.
func (s *Service) Executions(ctx context.Context, id, requester string, limit int) ([]*store.Execution, error) {
	if _, err := s.Get(ctx, id, requester); err != nil {
		return nil, err
	}
	return s.store.ListExecutions(ctx, store.ExecutionFilter{WorkflowID: id, Limit: limit})
}
