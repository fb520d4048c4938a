package schema

// Event type constants for the execution event log.
const (
	EventExecutionCreated   = "execution_created"
	EventExecutionStarted   = "execution_started"
	EventExecutionResumed   = "execution_resumed"
	EventExecutionPaused    = "execution_paused"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeToolError = "node_tool_error"

	EventApprovalRequested = "approval_requested"
	EventApprovalConsumed  = "approval_consumed"
)

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further transition can leave this status.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// ExecutionType records what started an execution.
type ExecutionType string

const (
	ExecutionTypeManual    ExecutionType = "manual"
	ExecutionTypeScheduled ExecutionType = "scheduled"
)

// ApprovalStatus is the lifecycle state of a pending action.
type ApprovalStatus string

const (
	ApprovalStatusAwaiting ApprovalStatus = "awaiting_approval"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// Live reports whether the status still occupies its gate reference.
func (s ApprovalStatus) Live() bool {
	return s == ApprovalStatusAwaiting || s == ApprovalStatusApproved
}

// ApprovalKind distinguishes what a pending action gates.
type ApprovalKind string

const (
	ApprovalKindTool       ApprovalKind = "tool_approval"
	ApprovalKindAutomation ApprovalKind = "automation_approval"
)
