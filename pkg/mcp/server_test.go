package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.Sessions())
}

func TestToolRegistration(t *testing.T) {
	s := NewServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 10)

	expectedTools := []string{
		"autoflow.define",
		"autoflow.list",
		"autoflow.run",
		"autoflow.executions",
		"autoflow.status",
		"autoflow.pending",
		"autoflow.approve",
		"autoflow.reject",
		"autoflow.activate",
		"autoflow.diagram",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"define", "autoflow.define", "Store a workflow graph"},
		{"list", "autoflow.list", "List the caller's workflows"},
		{"run", "autoflow.run", "Start a manual execution of a workflow"},
		{"executions", "autoflow.executions", "List the executions of a workflow, newest first"},
		{"status", "autoflow.status", "Get an execution and its event log"},
		{"pending", "autoflow.pending", "List approval gates awaiting a decision"},
		{"approve", "autoflow.approve", "Approve a pending action"},
		{"reject", "autoflow.reject", "Reject a pending action"},
		{"activate", "autoflow.activate", "Activate or deactivate a scheduled workflow"},
		{"diagram", "autoflow.diagram", "Draw a workflow graph as ASCII art, a Mermaid flowchart or a PNG image"},
	}

	s := NewServer(ServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
			assert.Contains(t, tool.Tool.InputSchema.Required, "user_id")
		})
	}
}

func TestNotifier_UnknownUserIsSkipped(t *testing.T) {
	s := NewServer(ServerDeps{})
	n := NewNotifier(s)
	assert.NoError(t, n.Notify(t.Context(), "nobody", map[string]any{"type": "approval_requested"}))
}

func TestNotifier_StaleSessionIsForgotten(t *testing.T) {
	s := NewServer(ServerDeps{})
	s.Sessions().Register("user-1", "gone")

	n := NewNotifier(s)
	assert.NoError(t, n.Notify(t.Context(), "user-1", map[string]any{"type": "approval_requested"}))

	_, ok := s.Sessions().SessionFor("user-1")
	assert.False(t, ok)
}
