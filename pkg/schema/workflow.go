package schema

// WorkflowDefinition is the JSON-serializable workflow format.
// Callers provide this via autoflow.define; the engine stores it as a graph.
type WorkflowDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	TriggerType TriggerType     `json:"trigger_type"`
	Frequency   Frequency       `json:"frequency,omitempty"`
	Schedule    *ScheduleConfig `json:"schedule_config,omitempty"`
	StartNodeID string          `json:"start_node_id"`
	EndNodeIDs  []string        `json:"end_node_ids,omitempty"`
	Nodes       []Node          `json:"nodes"`
	Edges       []Edge          `json:"edges,omitempty"`
}

// Node is a single step of a workflow graph.
type Node struct {
	ID        string         `json:"id"`
	Type      NodeType       `json:"node_type"`
	Tool      string         `json:"tool,omitempty"` // required iff Type == tool
	Arguments map[string]any `json:"arguments,omitempty"`
	Position  *Position      `json:"position,omitempty"`
}

// Position is display-only canvas placement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge connects two nodes. Condition is empty for an unconditional edge.
type Edge struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
}

// NodeType enumerates the kinds of nodes in a workflow.
type NodeType string

const (
	NodeTypeTool      NodeType = "tool"
	NodeTypeCondition NodeType = "condition"
	NodeTypeDelay     NodeType = "delay"
	NodeTypeApproval  NodeType = "approval"
)

// TriggerType says how a workflow is started.
type TriggerType string

const (
	TriggerImmediate TriggerType = "immediate"
	TriggerScheduled TriggerType = "scheduled"
)

// Frequency is the recurrence rule of a scheduled workflow.
type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// DefaultTimezone applies when a schedule config names none.
const DefaultTimezone = "Asia/Kolkata"

// ScheduleConfig holds the calendar fields of a scheduled workflow.
// Which fields are required depends on the workflow's Frequency.
type ScheduleConfig struct {
	Time       string   `json:"time" validate:"required,datetime=15:04"`
	Date       string   `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Days       []string `json:"days,omitempty" validate:"omitempty,dive,oneof=mon tue wed thu fri sat sun"`
	DayOfMonth int      `json:"day_of_month,omitempty" validate:"omitempty,min=1,max=31"`
	Month      int      `json:"month,omitempty" validate:"omitempty,min=1,max=12"`
	Timezone   string   `json:"timezone,omitempty" validate:"omitempty,timezone"`
}
