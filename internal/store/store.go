package store

import (
	"context"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Executions
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	// TransitionExecution applies update only while the execution is in status
	// from. A lost race yields a CONFLICT error.
	TransitionExecution(ctx context.Context, id string, from, to schema.ExecutionStatus, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
	// TouchExecutions renews updated_at on the listed executions that are
	// still running.
	TouchExecutions(ctx context.Context, ids []string, at time.Time) error

	// Pending actions
	CreatePendingAction(ctx context.Context, action *PendingAction) error
	GetPendingAction(ctx context.Context, id string) (*PendingAction, error)
	// LatestPendingAction returns the live record for gateRef, preferring an
	// approved one. It returns nil, nil when the reference has none.
	LatestPendingAction(ctx context.Context, gateRef string) (*PendingAction, error)
	ResolvePendingAction(ctx context.Context, id string, from, to schema.ApprovalStatus) error
	DeletePendingAction(ctx context.Context, id string, expected schema.ApprovalStatus) error
	ListPendingActions(ctx context.Context, filter PendingActionFilter) ([]*PendingAction, error)

	// Execution events (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
