package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// Workflow is the persisted representation of a workflow graph and its trigger.
type Workflow struct {
	ID          string                 `json:"id"`
	OwnerID     string                 `json:"owner_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	TriggerType schema.TriggerType     `json:"trigger_type"`
	Frequency   schema.Frequency       `json:"frequency,omitempty"`
	Schedule    *schema.ScheduleConfig `json:"schedule_config,omitempty"`
	IsActive    bool                   `json:"is_active"`
	StartNodeID string                 `json:"start_node_id"`
	EndNodeIDs  []string               `json:"end_node_ids,omitempty"`
	Nodes       []schema.Node          `json:"nodes,omitempty"`
	Edges       []schema.Edge          `json:"edges,omitempty"`
	LastRunAt   *time.Time             `json:"last_run_at,omitempty"`
	TotalRuns   int                    `json:"total_runs"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Definition returns the graph portion of the workflow in definition form.
func (w *Workflow) Definition() schema.WorkflowDefinition {
	return schema.WorkflowDefinition{
		Name:        w.Name,
		Description: w.Description,
		TriggerType: w.TriggerType,
		Frequency:   w.Frequency,
		Schedule:    w.Schedule,
		StartNodeID: w.StartNodeID,
		EndNodeIDs:  w.EndNodeIDs,
		Nodes:       w.Nodes,
		Edges:       w.Edges,
	}
}

// Execution is one run of a workflow.
type Execution struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	UserID        string                 `json:"user_id"`
	Type          schema.ExecutionType   `json:"execution_type"`
	Status        schema.ExecutionStatus `json:"status"`
	CurrentNodeID string                 `json:"current_node_id,omitempty"`
	Context       map[string]any         `json:"context"`
	Logs          *ExecutionLogs         `json:"logs,omitempty"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	FinishedAt    *time.Time             `json:"finished_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// ExecutionLogs is the terminal report written when an execution finishes.
type ExecutionLogs struct {
	Error   string         `json:"error,omitempty"`
	Context map[string]any `json:"context"`
}

// PendingAction is a human-approval gate.
type PendingAction struct {
	ID          string                `json:"id"`
	Kind        schema.ApprovalKind   `json:"kind"`
	GateRef     string                `json:"gate_ref"`
	WorkflowID  string                `json:"workflow_id,omitempty"`
	ExecutionID string                `json:"execution_id,omitempty"`
	ChatID      string                `json:"chat_id,omitempty"`
	NodeID      string                `json:"node_id,omitempty"`
	ToolName    string                `json:"tool_name,omitempty"`
	ToolArgs    map[string]any        `json:"tool_args,omitempty"`
	Status      schema.ApprovalStatus `json:"status"`
	OwnerID     string                `json:"owner_id"`
	ExpiresAt   *time.Time            `json:"expires_at,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	ResolvedAt  *time.Time            `json:"resolved_at,omitempty"`
}

// Expired reports whether the action's expiry has passed at now.
func (a *PendingAction) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Event is an immutable entry in an execution's event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// --- Update types ---

// WorkflowUpdate holds optional fields for updating a workflow.
type WorkflowUpdate struct {
	IsActive      *bool
	LastRunAt     *time.Time
	IncrementRuns bool
}

// ExecutionUpdate holds optional fields for updating an execution.
// A non-nil CurrentNodeID pointing at "" clears the column.
type ExecutionUpdate struct {
	Status        *schema.ExecutionStatus
	CurrentNodeID *string
	Context       map[string]any
	Logs          *ExecutionLogs
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// --- Filter types ---

// WorkflowFilter controls which workflows are returned by ListWorkflows.
// Listed workflows carry no nodes or edges; load the graph with GetWorkflow.
type WorkflowFilter struct {
	OwnerID     string
	IsActive    *bool
	TriggerType schema.TriggerType
	Limit       int
}

// ExecutionFilter controls which executions are returned by ListExecutions.
type ExecutionFilter struct {
	WorkflowID string
	UserID     string
	Status     *schema.ExecutionStatus
	Limit      int
}

// PendingActionFilter controls which actions are returned by ListPendingActions.
type PendingActionFilter struct {
	OwnerID string
	GateRef string
	Kind    schema.ApprovalKind
	Status  schema.ApprovalStatus
	Limit   int
}
