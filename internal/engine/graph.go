package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

// GuardEvaluator evaluates "cel:" edge guards.
type GuardEvaluator interface {
	EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error)
}

// Walker indexes a workflow graph and picks the edge to follow after a node.
type Walker struct {
	nodes    map[string]schema.Node
	outgoing map[string][]schema.Edge
	guards   GuardEvaluator
}

// NewWalker indexes nodes and edges. Edge declaration order is kept per
// source. guards may be nil, in which case "cel:" edges never match.
func NewWalker(nodes []schema.Node, edges []schema.Edge, guards GuardEvaluator) *Walker {
	w := &Walker{
		nodes:    make(map[string]schema.Node, len(nodes)),
		outgoing: make(map[string][]schema.Edge),
		guards:   guards,
	}
	for _, n := range nodes {
		w.nodes[n.ID] = n
	}
	for _, e := range edges {
		w.outgoing[e.Source] = append(w.outgoing[e.Source], e)
	}
	return w
}

// Node returns the node with id.
func (w *Walker) Node(id string) (schema.Node, bool) {
	n, ok := w.nodes[id]
	return n, ok
}

// Next returns the node to run after nodeID produced result, or "" when the
// walk ends there. snapshot is exposed to guards as "context".
//
// A single edge is followed unconditionally. With several, the first edge
// whose condition matches wins; an empty condition always matches.
func (w *Walker) Next(ctx context.Context, nodeID string, result any, snapshot map[string]any) (string, error) {
	if _, ok := w.nodes[nodeID]; !ok {
		return "", schema.NewErrorf(schema.ErrCodeGraph, "node %q is not in the graph", nodeID).WithNode(nodeID)
	}

	edges := w.outgoing[nodeID]
	var next string
	switch len(edges) {
	case 0:
		return "", nil
	case 1:
		next = edges[0].Target
	default:
		for _, e := range edges {
			if w.matches(ctx, e.Condition, result, snapshot) {
				next = e.Target
				break
			}
		}
		if next == "" {
			return "", nil
		}
	}

	if _, ok := w.nodes[next]; !ok {
		return "", schema.NewErrorf(schema.ErrCodeGraph, "edge from %q targets unknown node %q", nodeID, next).
			WithNode(nodeID).
			WithDetails(map[string]any{"target": next})
	}
	return next, nil
}

func (w *Walker) matches(ctx context.Context, condition string, result any, snapshot map[string]any) bool {
	if condition == "" {
		return true
	}

	if guard, ok := strings.CutPrefix(condition, validation.CELPrefix); ok {
		if w.guards == nil {
			return false
		}
		if snapshot == nil {
			snapshot = map[string]any{}
		}
		matched, err := w.guards.EvaluateBool(ctx, strings.TrimSpace(guard), map[string]any{
			"result":  result,
			"context": snapshot,
		})
		return err == nil && matched
	}

	want := strings.ToLower(condition)
	if m, ok := result.(map[string]any); ok {
		if status, ok := m["status"].(string); ok && strings.ToLower(status) == want {
			return true
		}
	}
	return strings.Contains(strings.ToLower(stringify(result)), want)
}

// stringify renders result for substring matching. Maps and slices use
// their JSON form.
func stringify(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
