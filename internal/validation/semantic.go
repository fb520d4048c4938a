package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

// CELPrefix marks an edge condition evaluated as a CEL guard.
const CELPrefix = "cel:"

// validateSemantic performs semantic analysis on the workflow definition.
// Checks: tool presence per node type, tools registered, delay arguments,
// CEL guards compile, schedule config matches frequency.
func validateSemantic(def *schema.WorkflowDefinition, lookup ToolLookup, guards GuardChecker) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for i := range def.Nodes {
		validateNodeSemantic(&def.Nodes[i], fmt.Sprintf("nodes[%d]", i), lookup, result)
	}

	for i, e := range def.Edges {
		expr, ok := strings.CutPrefix(e.Condition, CELPrefix)
		if !ok {
			continue
		}
		path := fmt.Sprintf("edges[%d].condition", i)
		if strings.TrimSpace(expr) == "" {
			result.AddError(path, schema.ErrCodeValidation, "empty CEL guard")
			continue
		}
		if guards == nil {
			continue
		}
		if err := guards.Check(expr); err != nil {
			result.AddError(path, schema.ErrCodeValidation, err.Error())
		}
	}

	switch def.TriggerType {
	case schema.TriggerScheduled:
		if err := ValidateSchedule(def.Frequency, def.Schedule); err != nil {
			result.AddError("schedule_config", schema.ErrCodeScheduleConfig, errMessage(err))
		}
	default:
		if def.Schedule != nil || def.Frequency != "" {
			result.AddWarning("schedule_config", schema.ErrCodeValidation,
				"schedule is ignored for immediate workflows")
		}
	}

	return result
}

func validateNodeSemantic(n *schema.Node, path string, lookup ToolLookup, result *schema.ValidationResult) {
	switch n.Type {
	case schema.NodeTypeTool:
		if n.Tool == "" {
			result.AddError(path+".tool", schema.ErrCodeValidation,
				fmt.Sprintf("tool node %q names no tool", n.ID))
			return
		}
		if lookup != nil && !lookup.Has(n.Tool) {
			result.AddError(path+".tool", schema.ErrCodeToolUnavailable,
				fmt.Sprintf("tool %q not registered", n.Tool))
		}
	case schema.NodeTypeDelay:
		if n.Tool != "" {
			result.AddError(path+".tool", schema.ErrCodeValidation,
				fmt.Sprintf("%s node %q must not name a tool", n.Type, n.ID))
		}
		if _, err := DelayDuration(n.Arguments); err != nil {
			result.AddError(path+".arguments", schema.ErrCodeValidation, err.Error())
		}
	default:
		if n.Tool != "" {
			result.AddError(path+".tool", schema.ErrCodeValidation,
				fmt.Sprintf("%s node %q must not name a tool", n.Type, n.ID))
		}
	}
}

// DelayDuration reads the wait of a delay node: "seconds" as a number or
// numeric string, else "duration" as a Go duration string. Placeholders
// are allowed and checked again at run time.
func DelayDuration(args map[string]any) (time.Duration, error) {
	if v, ok := args["seconds"]; ok {
		var secs float64
		switch n := v.(type) {
		case float64:
			secs = n
		case int:
			secs = float64(n)
		case string:
			if _, ok := expressions.Placeholder(n); ok {
				return 0, nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return 0, fmt.Errorf("delay seconds %q is not a number", n)
			}
			secs = f
		default:
			return 0, fmt.Errorf("delay seconds must be a number, got %T", v)
		}
		if secs < 0 {
			return 0, fmt.Errorf("delay seconds must not be negative")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}

	if v, ok := args["duration"]; ok {
		s, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("delay duration must be a string, got %T", v)
		}
		if _, ok := expressions.Placeholder(s); ok {
			return 0, nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("delay duration %q: %w", s, err)
		}
		if d < 0 {
			return 0, fmt.Errorf("delay duration must not be negative")
		}
		return d, nil
	}

	return 0, fmt.Errorf("delay node needs \"seconds\" or \"duration\"")
}

func errMessage(err error) string {
	if fe, ok := err.(*schema.FlowError); ok {
		return fe.Message
	}
	return err.Error()
}
