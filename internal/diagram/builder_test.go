package diagram

import (
	"encoding/json"
	"testing"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test workflow builders ---

func linearWorkflow() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name:        "Weekly digest",
		StartNodeID: "fetch",
		EndNodeIDs:  []string{"mail"},
		Nodes: []schema.Node{
			{ID: "fetch", Type: schema.NodeTypeTool, Tool: "http_request"},
			{ID: "shape", Type: schema.NodeTypeTool, Tool: "transform"},
			{ID: "mail", Type: schema.NodeTypeTool, Tool: "send_gmail"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "fetch", Target: "shape"},
			{ID: "e2", Source: "shape", Target: "mail"},
		},
	}
}

func branchingWorkflow() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		StartNodeID: "check",
		Nodes: []schema.Node{
			{ID: "check", Type: schema.NodeTypeCondition},
			{ID: "wait", Type: schema.NodeTypeDelay, Arguments: map[string]any{"seconds": 5}},
			{ID: "ask", Type: schema.NodeTypeApproval},
			{ID: "send", Type: schema.NodeTypeTool, Tool: "send_gmail"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "check", Target: "ask", Condition: "true"},
			{ID: "e2", Source: "check", Target: "wait"},
			{ID: "e3", Source: "wait", Target: "check"},
			{ID: "e4", Source: "ask", Target: "send"},
		},
	}
}

func event(nodeID, typ string, payload map[string]any) *store.Event {
	ev := &store.Event{NodeID: nodeID, Type: typ}
	if payload != nil {
		ev.Payload, _ = json.Marshal(payload)
	}
	return ev
}

// --- Tests ---

func TestBuild_Linear(t *testing.T) {
	model, err := Build(linearWorkflow(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "Weekly digest", model.Title)
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, NodeKindStart, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindEnd, model.Nodes[4].Kind)
	assert.Equal(t, "fetch\n(http_request)", model.node("fetch").Label)

	assert.Equal(t, [][]string{{StartID}, {"fetch"}, {"shape"}, {"mail"}, {EndID}}, model.Levels)
	assert.Contains(t, model.Edges, Edge{From: StartID, To: "fetch"})
	assert.Contains(t, model.Edges, Edge{From: "mail", To: EndID})
	assert.Len(t, model.Edges, 4)
}

func TestBuild_KindsAndImplicitEnds(t *testing.T) {
	model, err := Build(branchingWorkflow(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "Workflow", model.Title)
	assert.Equal(t, NodeKindCondition, model.node("check").Kind)
	assert.Equal(t, NodeKindDelay, model.node("wait").Kind)
	assert.Equal(t, NodeKindApproval, model.node("ask").Kind)
	assert.Equal(t, NodeKindTool, model.node("send").Kind)

	// Only "send" has no outgoing edges.
	assert.Contains(t, model.Edges, Edge{From: "send", To: EndID})
	assert.NotContains(t, model.Edges, Edge{From: "wait", To: EndID})
	assert.Contains(t, model.Edges, Edge{From: "check", To: "ask", Label: "true"})

	// The loop back to check does not create a new level.
	assert.Equal(t, [][]string{{StartID}, {"check"}, {"ask", "wait"}, {"send"}, {EndID}}, model.Levels)
}

func TestBuild_UnreachableNodesGetOwnLevel(t *testing.T) {
	def := linearWorkflow()
	def.Nodes = append(def.Nodes, schema.Node{ID: "orphan", Type: schema.NodeTypeTool, Tool: "noop"})

	model, err := Build(def, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, model.Levels[len(model.Levels)-2])
}

func TestBuild_MissingStartNode(t *testing.T) {
	def := linearWorkflow()
	def.StartNodeID = "nope"

	_, err := Build(def, nil, nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeGraph))
}

func TestBuild_LongConditionLabelTruncated(t *testing.T) {
	def := branchingWorkflow()
	def.Edges[0].Condition = "cel:result.items.exists(i, i.priority == 'high' && i.owner == context.user)"

	model, err := Build(def, nil, nil)
	require.NoError(t, err)
	var label string
	for _, e := range model.Edges {
		if e.From == "check" && e.To == "ask" {
			label = e.Label
		}
	}
	assert.Len(t, []rune(label), maxEdgeLabel)
	assert.True(t, len(label) > 3 && label[len(label)-3:] == "...")
}

func TestBuild_StatusOverlay(t *testing.T) {
	exec := &store.Execution{
		ID:            "exec-1",
		Status:        schema.ExecutionStatusPaused,
		CurrentNodeID: "mail",
	}
	events := []*store.Event{
		event("", schema.EventExecutionCreated, nil),
		event("fetch", schema.EventNodeStarted, nil),
		event("fetch", schema.EventNodeCompleted, nil),
		event("shape", schema.EventNodeStarted, nil),
		event("shape", schema.EventNodeToolError, map[string]any{"error": "bad input"}),
		event("shape", schema.EventNodeCompleted, nil),
		event("mail", schema.EventNodeStarted, nil),
		event("mail", schema.EventApprovalRequested, map[string]any{"action_id": "act-1"}),
	}

	model, err := Build(linearWorkflow(), exec, events)
	require.NoError(t, err)

	assert.Nil(t, model.node(StartID).Status)
	assert.Equal(t, StatusCompleted, model.node("fetch").Status.Status)

	shape := model.node("shape").Status
	assert.Equal(t, StatusToolError, shape.Status)
	assert.Equal(t, "bad input", shape.Error)

	mail := model.node("mail").Status
	assert.Equal(t, StatusSuspended, mail.Status)
	assert.True(t, mail.Current)
	assert.False(t, model.node("fetch").Status.Current)
}

func TestBuild_FailedExecutionMarksCurrentNode(t *testing.T) {
	exec := &store.Execution{
		Status:        schema.ExecutionStatusFailed,
		CurrentNodeID: "shape",
		Logs:          &store.ExecutionLogs{Error: "[GRAPH] no edge matched"},
	}
	model, err := Build(linearWorkflow(), exec, []*store.Event{
		event("fetch", schema.EventNodeCompleted, nil),
		event("shape", schema.EventNodeStarted, nil),
	})
	require.NoError(t, err)

	shape := model.node("shape").Status
	assert.Equal(t, StatusFailed, shape.Status)
	assert.Equal(t, "[GRAPH] no edge matched", shape.Error)
	assert.True(t, shape.Current)
	assert.Nil(t, model.node("mail").Status)
}
