package validation

import (
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorPaths(r *schema.ValidationResult) []string {
	paths := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		paths = append(paths, e.Path)
	}
	return paths
}

func TestGraph_Valid(t *testing.T) {
	assert.True(t, validateGraph(linearDef()).Valid())
	assert.True(t, validateGraph(branchDef()).Valid())
}

func TestGraph_SingleNode(t *testing.T) {
	def := &schema.WorkflowDefinition{
		StartNodeID: "only",
		Nodes:       []schema.Node{{ID: "only", Type: schema.NodeTypeApproval}},
	}
	result := validateGraph(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestGraph_MissingStartNode(t *testing.T) {
	def := linearDef()
	def.StartNodeID = "nope"

	result := validateGraph(def)
	assert.Equal(t, []string{"start_node_id"}, errorPaths(result))
}

func TestGraph_DanglingEdges(t *testing.T) {
	def := linearDef()
	def.Edges = append(def.Edges,
		schema.Edge{ID: "e2", Source: "ghost", Target: "notify"},
		schema.Edge{ID: "e3", Source: "fetch", Target: "ghost"},
	)

	result := validateGraph(def)
	assert.Equal(t, []string{"edges[1].source", "edges[2].target"}, errorPaths(result))
	for _, e := range result.Errors {
		assert.Equal(t, schema.ErrCodeGraph, e.Code)
	}
}

func TestGraph_EndNodes(t *testing.T) {
	def := linearDef()
	def.EndNodeIDs = []string{"fetch", "ghost"}

	result := validateGraph(def)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0].Message, "has outgoing edges")
	assert.Contains(t, result.Errors[1].Message, "does not exist")
}

func TestGraph_AtMostOneFallback(t *testing.T) {
	def := branchDef()
	def.Edges[0].Condition = ""
	assert.True(t, validateGraph(def).Valid(), "one fallback next to a conditional edge is fine")

	def.Edges[1].Condition = ""
	result := validateGraph(def)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "2 unconditional edges")
}

func TestGraph_Unreachable(t *testing.T) {
	def := linearDef()
	def.Nodes = append(def.Nodes,
		schema.Node{ID: "island", Type: schema.NodeTypeApproval},
		schema.Node{ID: "island2", Type: schema.NodeTypeApproval},
	)
	def.Edges = append(def.Edges, schema.Edge{ID: "e2", Source: "island", Target: "island2"})

	result := validateGraph(def)
	assert.Equal(t, []string{"nodes[island]", "nodes[island2]"}, errorPaths(result))
}

func TestGraph_CycleWarns(t *testing.T) {
	def := &schema.WorkflowDefinition{
		StartNodeID: "poll",
		EndNodeIDs:  []string{"done"},
		Nodes: []schema.Node{
			{ID: "poll", Type: schema.NodeTypeTool, Tool: "http.request"},
			{ID: "wait", Type: schema.NodeTypeDelay, Arguments: map[string]any{"seconds": 30.0}},
			{ID: "done", Type: schema.NodeTypeApproval},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "poll", Target: "done", Condition: "complete"},
			{ID: "e2", Source: "poll", Target: "wait"},
			{ID: "e3", Source: "wait", Target: "poll"},
		},
	}

	result := validateGraph(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "cycle")
}
