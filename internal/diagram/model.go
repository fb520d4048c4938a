package diagram

// NodeKind classifies a diagram node by its workflow node type.
type NodeKind string

const (
	NodeKindTool      NodeKind = "tool"
	NodeKindCondition NodeKind = "condition"
	NodeKindDelay     NodeKind = "delay"
	NodeKindApproval  NodeKind = "approval"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Marker node ids framing the graph.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the runtime state of a node in one execution.
type StatusOverlay struct {
	Status  string // completed, running, suspended, failed, tool_error
	Error   string
	Current bool
}

// Edge connects two nodes. Label is the edge condition, if any.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node status values.
const (
	StatusCompleted = "completed"
	StatusRunning   = "running"
	StatusSuspended = "suspended"
	StatusFailed    = "failed"
	StatusToolError = "tool_error"
)

func (m *Model) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
