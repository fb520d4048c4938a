package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
)

// Capability is a tool a workflow node can invoke by name.
type Capability interface {
	Name() string
	Schema() Schema
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Schema describes the contract of a capability.
type Schema struct {
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	HighRisk    bool            `json:"high_risk,omitempty"`
}

// Info is a summary of a registered capability for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	HighRisk    bool   `json:"high_risk,omitempty"`
}

// ToolError is a structured failure reported by a tool. The engine records it
// as the node's result instead of failing the execution.
type ToolError struct {
	Tool    string
	Message string
	Cause   error
}

// NewToolError creates a ToolError for tool.
func NewToolError(tool, format string, args ...any) *ToolError {
	return &ToolError{Tool: tool, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying error.
func (e *ToolError) WithCause(err error) *ToolError {
	e.Cause = err
	return e
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// Result is the node result recorded for a ToolError.
func (e *ToolError) Result() map[string]any {
	return map[string]any{
		"status": "error",
		"error":  e.Message,
		"tool":   e.Tool,
	}
}

// Func adapts a plain function into a Capability.
type Func struct {
	ToolName string
	Contract Schema
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

func (f *Func) Name() string   { return f.ToolName }
func (f *Func) Schema() Schema { return f.Contract }

func (f *Func) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}

var _ Capability = (*Func)(nil)
