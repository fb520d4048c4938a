package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGuards struct {
	checked []string
}

func (s *stubGuards) Check(expression string) error {
	s.checked = append(s.checked, expression)
	if expression == "bad(" {
		return errors.New("syntax error")
	}
	return nil
}

func TestSemantic_ToolRegistered(t *testing.T) {
	result := validateSemantic(linearDef(), newMockLookup("http.request", "send_gmail"), nil)
	assert.True(t, result.Valid())
}

func TestSemantic_ToolNotRegistered(t *testing.T) {
	result := validateSemantic(linearDef(), newMockLookup("http.request"), nil)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "nodes[1].tool", result.Errors[0].Path)
	assert.Equal(t, schema.ErrCodeToolUnavailable, result.Errors[0].Code)
}

func TestSemantic_ToolRequiredIffToolNode(t *testing.T) {
	def := linearDef()
	def.Nodes[0].Tool = ""
	def.Nodes = append(def.Nodes,
		schema.Node{ID: "gate", Type: schema.NodeTypeApproval, Tool: "send_gmail"},
		schema.Node{ID: "route", Type: schema.NodeTypeCondition},
	)

	result := validateSemantic(def, nil, nil)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "nodes[0].tool", result.Errors[0].Path)
	assert.Contains(t, result.Errors[1].Message, "must not name a tool")
}

func TestSemantic_DelayArguments(t *testing.T) {
	tests := []struct {
		name  string
		args  map[string]any
		valid bool
	}{
		{"seconds number", map[string]any{"seconds": 5.0}, true},
		{"seconds string", map[string]any{"seconds": "2.5"}, true},
		{"seconds placeholder", map[string]any{"seconds": "{{plan.wait}}"}, true},
		{"duration", map[string]any{"duration": "1m30s"}, true},
		{"duration placeholder", map[string]any{"duration": "{{ plan.wait }}"}, true},
		{"embedded placeholder", map[string]any{"duration": "{{plan.wait}}s"}, false},
		{"seconds garbage", map[string]any{"seconds": "soon"}, false},
		{"negative", map[string]any{"seconds": -1.0}, false},
		{"bad duration", map[string]any{"duration": "an hour"}, false},
		{"missing", map[string]any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := linearDef()
			def.Nodes[1] = schema.Node{ID: "notify", Type: schema.NodeTypeDelay, Arguments: tt.args}
			result := validateSemantic(def, nil, nil)
			assert.Equal(t, tt.valid, result.Valid(), "%+v", result.Errors)
		})
	}
}

func TestDelayDuration(t *testing.T) {
	d, err := DelayDuration(map[string]any{"seconds": 1.5})
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = DelayDuration(map[string]any{"seconds": " 3 "})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = DelayDuration(map[string]any{"duration": "250ms", "ignored": true})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	d, err = DelayDuration(map[string]any{"seconds": 2, "duration": "1h"})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d, "seconds wins over duration")
}

func TestSemantic_CELGuards(t *testing.T) {
	def := branchDef()
	def.Edges = append(def.Edges,
		schema.Edge{ID: "e3", Source: "check", Target: "alert", Condition: "cel:bad("},
		schema.Edge{ID: "e4", Source: "check", Target: "alert", Condition: "cel:  "},
	)
	guards := &stubGuards{}

	result := validateSemantic(def, nil, guards)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "edges[2].condition", result.Errors[0].Path)
	assert.Equal(t, "edges[3].condition", result.Errors[1].Path)
	assert.Equal(t, []string{"result.status_code >= 500.0", "bad("}, guards.checked)
}

func TestSemantic_Schedule(t *testing.T) {
	def := linearDef()
	def.TriggerType = schema.TriggerScheduled
	def.Frequency = schema.FrequencyMonthly
	def.Schedule = &schema.ScheduleConfig{Time: "08:30"}

	result := validateSemantic(def, nil, nil)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.ErrCodeScheduleConfig, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "day_of_month")

	def.Schedule.DayOfMonth = 1
	assert.True(t, validateSemantic(def, nil, nil).Valid())
}

func TestSemantic_ScheduleOnImmediateWarns(t *testing.T) {
	def := linearDef()
	def.Frequency = schema.FrequencyDaily
	def.Schedule = &schema.ScheduleConfig{Time: "08:30"}

	result := validateSemantic(def, nil, nil)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "schedule_config", result.Warnings[0].Path)
}
