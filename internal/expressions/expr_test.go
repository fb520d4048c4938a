package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExpr_VariableInjection(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), `price * qty`, map[string]any{"price": 2.5, "qty": 4.0})
	require.NoError(t, err)
	assert.Equal(t, 10.0, out)
}

func TestExpr_ArrayOperations(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"issues": []any{
			map[string]any{"title": "a", "open": true},
			map[string]any{"title": "b", "open": false},
		},
	}
	out, err := e.Evaluate(context.Background(), `count(issues, .open)`, data)
	require.NoError(t, err)
	assert.Equal(t, 1, out)

	out, err = e.Evaluate(context.Background(), `map(filter(issues, .open), .title)`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, out)
}

func TestExpr_CachedProgramServesNewShapes(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `value ?? "none"`, map[string]any{"value": 3})
	require.NoError(t, err)
	assert.Equal(t, 3, out)

	out, err = e.Evaluate(context.Background(), `value ?? "none"`, map[string]any{"value": "text"})
	require.NoError(t, err)
	assert.Equal(t, "text", out)

	out, err = e.Evaluate(context.Background(), `value ?? "none"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "none", out)
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()
	var flowErr *schema.FlowError

	_, err := e.Evaluate(context.Background(), "", nil)
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)

	require.ErrorAs(t, e.Check("1 +"), &flowErr)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestExpr_Concurrent(t *testing.T) {
	e := NewExprEngine()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `n + 1`, map[string]any{"n": idx})
			assert.NoError(t, err)
			assert.Equal(t, idx+1, out)
		}(i)
	}
	wg.Wait()
}
