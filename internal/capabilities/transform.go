package capabilities

import (
	"context"
	"encoding/json"

	"github.com/rendis/autoflow/internal/expressions"
)

const jqInputSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "input": {}
  },
  "required": ["query"]
}`

const exprInputSchema = `{
  "type": "object",
  "properties": {
    "expression": {"type": "string", "minLength": 1},
    "data": {"type": "object"}
  },
  "required": ["expression"]
}`

// JQTransform implements "transform.jq": it runs a jq query over input,
// usually a {{node}} placeholder resolving to an earlier result.
type JQTransform struct {
	engine *expressions.GoJQEngine
}

// NewJQTransform creates the transform.jq capability.
func NewJQTransform(engine *expressions.GoJQEngine) *JQTransform {
	return &JQTransform{engine: engine}
}

func (c *JQTransform) Name() string { return "transform.jq" }

func (c *JQTransform) Schema() Schema {
	return Schema{
		Description: "Reshape JSON data with a jq query.",
		InputSchema: json.RawMessage(jqInputSchema),
	}
}

func (c *JQTransform) Invoke(ctx context.Context, args map[string]any) (any, error) {
	out, err := c.engine.Query(ctx, stringParam(args, "query", ""), args["input"])
	if err != nil {
		return nil, NewToolError(c.Name(), "%s", err.Error()).WithCause(err)
	}
	return map[string]any{"status": "success", "result": out}, nil
}

// ExprTransform implements "transform.expr": it evaluates an expr-lang
// expression with the keys of data as variables.
type ExprTransform struct {
	engine *expressions.ExprEngine
}

// NewExprTransform creates the transform.expr capability.
func NewExprTransform(engine *expressions.ExprEngine) *ExprTransform {
	return &ExprTransform{engine: engine}
}

func (c *ExprTransform) Name() string { return "transform.expr" }

func (c *ExprTransform) Schema() Schema {
	return Schema{
		Description: "Compute a value with an expr-lang expression over the given data.",
		InputSchema: json.RawMessage(exprInputSchema),
	}
}

func (c *ExprTransform) Invoke(ctx context.Context, args map[string]any) (any, error) {
	data, _ := args["data"].(map[string]any)
	out, err := c.engine.Evaluate(ctx, stringParam(args, "expression", ""), data)
	if err != nil {
		return nil, NewToolError(c.Name(), "%s", err.Error()).WithCause(err)
	}
	return map[string]any{"status": "success", "result": out}, nil
}

var (
	_ Capability = (*JQTransform)(nil)
	_ Capability = (*ExprTransform)(nil)
)
