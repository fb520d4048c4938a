package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

func branchGraph(t *testing.T, edges ...schema.Edge) *Walker {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	nodes := []schema.Node{
		{ID: "check", Type: schema.NodeTypeTool, Tool: "probe"},
		{ID: "ok", Type: schema.NodeTypeTool, Tool: "notify"},
		{ID: "alert", Type: schema.NodeTypeTool, Tool: "notify"},
		{ID: "fallback", Type: schema.NodeTypeTool, Tool: "notify"},
	}
	return NewWalker(nodes, edges, cel)
}

func TestWalker_TerminalAndSingleEdge(t *testing.T) {
	w := branchGraph(t, schema.Edge{ID: "e1", Source: "check", Target: "ok", Condition: "never matches"})
	ctx := context.Background()

	// A lone edge is followed whatever its condition says.
	next, err := w.Next(ctx, "check", map[string]any{"status": "error"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", next)

	next, err = w.Next(ctx, "ok", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestWalker_StatusMatch(t *testing.T) {
	w := branchGraph(t,
		schema.Edge{ID: "e1", Source: "check", Target: "ok", Condition: "success"},
		schema.Edge{ID: "e2", Source: "check", Target: "alert", Condition: "ERROR"},
	)
	ctx := context.Background()

	next, err := w.Next(ctx, "check", map[string]any{"status": "Success"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", next)

	next, err = w.Next(ctx, "check", map[string]any{"status": "error", "error": "timeout"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alert", next)
}

func TestWalker_SubstringMatch(t *testing.T) {
	w := branchGraph(t,
		schema.Edge{ID: "e1", Source: "check", Target: "ok", Condition: "approved"},
		schema.Edge{ID: "e2", Source: "check", Target: "alert", Condition: "timeout"},
	)
	ctx := context.Background()

	next, err := w.Next(ctx, "check", map[string]any{"status": "error", "detail": "upstream TIMEOUT"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alert", next)

	next, err = w.Next(ctx, "check", "request Approved by ops", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", next)
}

func TestWalker_DeclarationOrderAndFallback(t *testing.T) {
	w := branchGraph(t,
		schema.Edge{ID: "e1", Source: "check", Target: "ok", Condition: "status"},
		schema.Edge{ID: "e2", Source: "check", Target: "fallback"},
		schema.Edge{ID: "e3", Source: "check", Target: "alert", Condition: "error"},
	)
	ctx := context.Background()

	// "status" appears in the JSON form of every map, so e1 wins first.
	next, err := w.Next(ctx, "check", map[string]any{"status": "error"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", next)

	// The fallback precedes e3.
	next, err = w.Next(ctx, "check", "error", nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", next)
}

func TestWalker_NoMatchIsTerminal(t *testing.T) {
	w := branchGraph(t,
		schema.Edge{ID: "e1", Source: "check", Target: "ok", Condition: "success"},
		schema.Edge{ID: "e2", Source: "check", Target: "alert", Condition: "error"},
	)
	next, err := w.Next(context.Background(), "check", map[string]any{"status": "pending"}, nil)
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestWalker_CELGuards(t *testing.T) {
	w := branchGraph(t,
		schema.Edge{ID: "e1", Source: "check", Target: "alert", Condition: "cel: result.status_code >= 500.0"},
		schema.Edge{ID: "e2", Source: "check", Target: "ok", Condition: `cel:context.ok.sent == true`},
		schema.Edge{ID: "e3", Source: "check", Target: "fallback", Condition: "cel:result.missing.field"},
	)
	ctx := context.Background()

	next, err := w.Next(ctx, "check", map[string]any{"status_code": 503.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alert", next)

	next, err = w.Next(ctx, "check", map[string]any{"status_code": 200.0},
		map[string]any{"ok": map[string]any{"sent": true}})
	require.NoError(t, err)
	assert.Equal(t, "ok", next)

	// Evaluation errors do not match.
	next, err = w.Next(ctx, "check", map[string]any{"status_code": 200.0}, nil)
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestWalker_CELWithoutEvaluatorNeverMatches(t *testing.T) {
	w := NewWalker(
		[]schema.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		[]schema.Edge{
			{ID: "e1", Source: "a", Target: "b", Condition: "cel:true"},
			{ID: "e2", Source: "a", Target: "c"},
		},
		nil,
	)
	next, err := w.Next(context.Background(), "a", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "c", next)
}

func TestWalker_GraphErrors(t *testing.T) {
	w := NewWalker(
		[]schema.Node{{ID: "a"}},
		[]schema.Edge{{ID: "e1", Source: "a", Target: "ghost"}},
		nil,
	)
	ctx := context.Background()

	_, err := w.Next(ctx, "a", nil, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeGraph))

	_, err = w.Next(ctx, "nowhere", nil, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeGraph))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "plain", stringify("plain"))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, "7", stringify(7.0))
	assert.Equal(t, `{"status":"ok"}`, stringify(map[string]any{"status": "ok"}))
	assert.Equal(t, `["a",1]`, stringify([]any{"a", 1.0}))
}
