package expressions

import "context"

// Engine evaluates expressions against a data map.
// Three implementations: CEL (edge guards), GoJQ and Expr (transform capabilities).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
