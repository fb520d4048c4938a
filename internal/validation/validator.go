package validation

import "github.com/rendis/autoflow/pkg/schema"

// Validator checks workflow definitions for correctness before they are stored.
// Uses JSON Schema Draft 2020-12 for structure and tool input validation.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ToolLookup reports whether a tool name is registered.
type ToolLookup interface {
	Has(name string) bool
}

// GuardChecker compiles a guard expression without evaluating it.
type GuardChecker interface {
	Check(expression string) error
}
