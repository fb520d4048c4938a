package diagram

import (
	"context"
	"testing"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertPNG(t *testing.T, png []byte) {
	t.Helper()
	require.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImage_Linear(t *testing.T) {
	model, err := Build(linearWorkflow(), nil, nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assertPNG(t, png)
}

func TestRenderImage_BranchingWithStatus(t *testing.T) {
	exec := &store.Execution{Status: schema.ExecutionStatusPaused, CurrentNodeID: "ask"}
	model, err := Build(branchingWorkflow(), exec, []*store.Event{
		event("check", schema.EventNodeCompleted, nil),
		event("ask", schema.EventApprovalRequested, nil),
	})
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assertPNG(t, png)
}
