package validation

import (
	"sync"
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSV(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func requireFlowCode(t *testing.T, err error, code string) *schema.FlowError {
	t.Helper()
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok, "want *schema.FlowError, got %T", err)
	assert.Equal(t, code, flowErr.Code)
	return flowErr
}

// --- ValidateDefinition ---

func TestValidateDefinition_Nil(t *testing.T) {
	err := newJSV(t).ValidateDefinition(nil)
	flowErr := requireFlowCode(t, err, schema.ErrCodeValidation)
	assert.Contains(t, flowErr.Message, "nil")
}

func TestValidateDefinition_LinearValid(t *testing.T) {
	assert.NoError(t, newJSV(t).ValidateDefinition(linearDef()))
}

func TestValidateDefinition_ScheduledValid(t *testing.T) {
	def := linearDef()
	def.TriggerType = schema.TriggerScheduled
	def.Frequency = schema.FrequencyWeekly
	def.Schedule = &schema.ScheduleConfig{Time: "09:00", Days: []string{"mon"}, Timezone: "UTC"}
	def.Nodes[0].Position = &schema.Position{X: 10, Y: 20}

	assert.NoError(t, newJSV(t).ValidateDefinition(def))
}

func TestValidateDefinition_StructuralFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(def *schema.WorkflowDefinition)
	}{
		{"missing name", func(d *schema.WorkflowDefinition) { d.Name = "" }},
		{"no nodes", func(d *schema.WorkflowDefinition) { d.Nodes = nil }},
		{"empty nodes", func(d *schema.WorkflowDefinition) { d.Nodes = []schema.Node{} }},
		{"bad trigger", func(d *schema.WorkflowDefinition) { d.TriggerType = "hourly" }},
		{"bad frequency", func(d *schema.WorkflowDefinition) { d.Frequency = "fortnightly" }},
		{"bad node type", func(d *schema.WorkflowDefinition) { d.Nodes[0].Type = "loop" }},
		{"node without id", func(d *schema.WorkflowDefinition) { d.Nodes[1].ID = "" }},
		{"edge without target", func(d *schema.WorkflowDefinition) { d.Edges[0].Target = "" }},
		{"bad schedule time", func(d *schema.WorkflowDefinition) {
			d.Schedule = &schema.ScheduleConfig{Time: "9am"}
		}},
		{"bad weekday", func(d *schema.WorkflowDefinition) {
			d.Schedule = &schema.ScheduleConfig{Time: "09:00", Days: []string{"monday"}}
		}},
		{"day of month out of range", func(d *schema.WorkflowDefinition) {
			d.Schedule = &schema.ScheduleConfig{Time: "09:00", DayOfMonth: 32}
		}},
	}

	v := newJSV(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := linearDef()
			tt.mutate(def)
			requireFlowCode(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
		})
	}
}

func TestValidateDefinition_DuplicateIDs(t *testing.T) {
	v := newJSV(t)

	def := linearDef()
	def.Nodes[1].ID = def.Nodes[0].ID
	flowErr := requireFlowCode(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
	assert.Contains(t, flowErr.Message, "duplicate node id")

	def = linearDef()
	def.Edges = append(def.Edges, schema.Edge{ID: def.Edges[0].ID, Source: "fetch", Target: "notify"})
	flowErr = requireFlowCode(t, v.ValidateDefinition(def), schema.ErrCodeValidation)
	assert.Contains(t, flowErr.Message, "duplicate edge id")
}

func TestValidateDefinition_ErrorDetails(t *testing.T) {
	def := linearDef()
	def.Name = ""
	def.Nodes[0].Type = "loop"

	flowErr := requireFlowCode(t, newJSV(t).ValidateDefinition(def), schema.ErrCodeValidation)
	violations, ok := flowErr.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)
}

func TestValidateDefinition_Concurrent(t *testing.T) {
	v := newJSV(t)

	var wg sync.WaitGroup
	errs := make([]error, 50)
	for i := range 50 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = v.ValidateDefinition(linearDef())
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		assert.NoError(t, e, "goroutine %d should not error", i)
	}
}

// --- ValidateInput ---

func TestValidateInput_NilInput(t *testing.T) {
	err := newJSV(t).ValidateInput(nil, []byte(`{"type": "object"}`))
	flowErr := requireFlowCode(t, err, schema.ErrCodeValidation)
	assert.Contains(t, flowErr.Message, "nil")
}

func TestValidateInput_EmptySchema(t *testing.T) {
	v := newJSV(t)
	assert.NoError(t, v.ValidateInput(map[string]any{"foo": "bar"}, nil), "nil schema means no validation")
	assert.NoError(t, v.ValidateInput(map[string]any{"foo": "bar"}, []byte{}), "empty schema means no validation")
}

func TestValidateInput_Object(t *testing.T) {
	v := newJSV(t)
	inputSchema := []byte(`{
		"type": "object",
		"required": ["to", "count"],
		"properties": {
			"to": {"type": "string", "format": "email"},
			"count": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`)

	assert.NoError(t, v.ValidateInput(map[string]any{"to": "a@b.co", "count": 5}, inputSchema))
	assert.NoError(t, v.ValidateInput(map[string]any{"to": "a@b.co", "count": 5.0}, inputSchema),
		"whole floats from JSON decoding count as integers")

	requireFlowCode(t, v.ValidateInput(map[string]any{"count": 5}, inputSchema), schema.ErrCodeValidation)
	requireFlowCode(t, v.ValidateInput(map[string]any{"to": "nope", "count": 5}, inputSchema), schema.ErrCodeValidation)
	requireFlowCode(t, v.ValidateInput(map[string]any{"to": "a@b.co", "count": 0}, inputSchema), schema.ErrCodeValidation)
	requireFlowCode(t, v.ValidateInput(map[string]any{"to": "a@b.co", "count": 1, "x": 1}, inputSchema), schema.ErrCodeValidation)
}

func TestValidateInput_MultipleErrors(t *testing.T) {
	inputSchema := []byte(`{
		"type": "object",
		"required": ["name", "age"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"age": {"type": "integer", "minimum": 0}
		}
	}`)

	err := newJSV(t).ValidateInput(map[string]any{}, inputSchema)
	flowErr := requireFlowCode(t, err, schema.ErrCodeValidation)
	violations, ok := flowErr.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 1)
}

func TestValidateInput_InvalidSchema(t *testing.T) {
	err := newJSV(t).ValidateInput(map[string]any{"foo": "bar"}, []byte(`{not json`))
	flowErr := requireFlowCode(t, err, schema.ErrCodeValidation)
	assert.Contains(t, flowErr.Message, "invalid input schema")
}

func TestValidateInput_SchemaCaching(t *testing.T) {
	v := newJSV(t)
	inputSchema := []byte(`{"type": "object", "properties": {"x": {"type": "integer"}}}`)

	require.NoError(t, v.ValidateInput(map[string]any{"x": 42}, inputSchema))
	require.NoError(t, v.ValidateInput(map[string]any{"x": 7}, inputSchema))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1, "schema should be compiled once")
}

func TestValidateInput_Concurrent(t *testing.T) {
	v := newJSV(t)
	schema1 := []byte(`{"type": "object", "properties": {"a": {"type": "string"}}}`)
	schema2 := []byte(`{"type": "object", "properties": {"b": {"type": "integer"}}}`)

	var wg sync.WaitGroup
	errs := make([]error, 100)
	for i := range 100 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if idx%2 == 0 {
				errs[idx] = v.ValidateInput(map[string]any{"a": "hello"}, schema1)
			} else {
				errs[idx] = v.ValidateInput(map[string]any{"b": 42}, schema2)
			}
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		assert.NoError(t, e, "goroutine %d should not error", i)
	}
}

func TestJSONSchemaValidator_ImplementsValidator(t *testing.T) {
	var _ Validator = (*JSONSchemaValidator)(nil)
}
