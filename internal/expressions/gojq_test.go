package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "jq", e.Name())
}

func TestGoJQ_SelectField(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), ".body.subject", map[string]any{
		"body": map[string]any{"subject": "weekly report"},
	})
	require.NoError(t, err)
	assert.Equal(t, "weekly report", out)
}

func TestGoJQ_QueryArrayInput(t *testing.T) {
	e := NewGoJQEngine()
	input := []any{
		map[string]any{"title": "a", "open": true},
		map[string]any{"title": "b", "open": false},
		map[string]any{"title": "c", "open": true},
	}
	out, err := e.Query(context.Background(), `[.[] | select(.open) | .title]`, input)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "c"}, out)
}

func TestGoJQ_IntegersAreWidened(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Query(context.Background(), `.count + 1`, map[string]any{"count": 41})
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)
}

func TestGoJQ_MultipleAndNoOutputs(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Query(context.Background(), `.[]`, []any{1.0, 2.0})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, out)

	out, err = e.Query(context.Background(), `empty`, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)

	require.ErrorAs(t, e.Check(".foo | ]["), &flowErr)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)

	_, err = e.Query(context.Background(), `.a + 1`, map[string]any{"a": "text"})
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeExecution, flowErr.Code)
}

func TestGoJQ_NoEnvAccess(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Query(context.Background(), `$ENV | length`, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQ_Concurrent(t *testing.T) {
	e := NewGoJQEngine()

	var wg sync.WaitGroup
	errs := make([]error, 100)
	results := make([]any, 100)

	for i := range 100 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			data := map[string]any{"val": float64(idx)}
			results[idx], errs[idx] = e.Evaluate(context.Background(), `.val + 1`, data)
		}(i)
	}
	wg.Wait()

	for i := range 100 {
		assert.NoError(t, errs[i], "goroutine %d", i)
		assert.Equal(t, float64(i)+1, results[i], "goroutine %d", i)
	}
}
