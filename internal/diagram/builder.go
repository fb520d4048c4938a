package diagram

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

const maxEdgeLabel = 32

// Build constructs a Model from a workflow graph. When exec is set, node
// status is overlaid from its event log and current node.
func Build(def *schema.WorkflowDefinition, exec *store.Execution, events []*store.Event) (*Model, error) {
	index := make(map[string]schema.Node, len(def.Nodes))
	for _, n := range def.Nodes {
		index[n.ID] = n
	}
	if _, ok := index[def.StartNodeID]; !ok {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "start node %q does not exist", def.StartNodeID)
	}

	outgoing := make(map[string][]schema.Edge, len(def.Nodes))
	for _, e := range def.Edges {
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	model := &Model{Title: def.Name}
	if model.Title == "" {
		model.Title = "Workflow"
	}
	model.Nodes = append(model.Nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for _, n := range def.Nodes {
		model.Nodes = append(model.Nodes, &Node{ID: n.ID, Label: nodeLabel(n), Kind: kindOf(n.Type)})
	}
	model.Nodes = append(model.Nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	model.Edges = append(model.Edges, Edge{From: StartID, To: def.StartNodeID})
	for _, e := range def.Edges {
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target, Label: edgeLabel(e.Condition)})
	}
	for _, id := range endNodes(def, outgoing) {
		model.Edges = append(model.Edges, Edge{From: id, To: EndID})
	}

	model.Levels = buildLevels(def, outgoing)

	if exec != nil {
		overlay(model, exec, events)
	}
	return model, nil
}

// endNodes returns the declared end nodes, or the nodes without outgoing
// edges when none are declared.
func endNodes(def *schema.WorkflowDefinition, outgoing map[string][]schema.Edge) []string {
	if len(def.EndNodeIDs) > 0 {
		return def.EndNodeIDs
	}
	var ids []string
	for _, n := range def.Nodes {
		if len(outgoing[n.ID]) == 0 {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// buildLevels places each node at its shortest distance from the start node.
// Unreachable nodes share the last level before the end marker.
func buildLevels(def *schema.WorkflowDefinition, outgoing map[string][]schema.Edge) [][]string {
	levels := [][]string{{StartID}}
	seen := map[string]bool{def.StartNodeID: true}
	frontier := []string{def.StartNodeID}
	for len(frontier) > 0 {
		levels = append(levels, frontier)
		var next []string
		for _, id := range frontier {
			for _, e := range outgoing[id] {
				if !seen[e.Target] {
					seen[e.Target] = true
					next = append(next, e.Target)
				}
			}
		}
		frontier = next
	}

	var orphans []string
	for _, n := range def.Nodes {
		if !seen[n.ID] {
			orphans = append(orphans, n.ID)
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return append(levels, []string{EndID})
}

func overlay(model *Model, exec *store.Execution, events []*store.Event) {
	set := func(id, status, errMsg string) {
		n := model.node(id)
		if n == nil || n.Kind == NodeKindStart || n.Kind == NodeKindEnd {
			return
		}
		if n.Status == nil {
			n.Status = &StatusOverlay{}
		}
		n.Status.Status = status
		if errMsg != "" {
			n.Status.Error = errMsg
		}
	}

	for _, ev := range events {
		if ev.NodeID == "" {
			continue
		}
		switch ev.Type {
		case schema.EventNodeStarted:
			set(ev.NodeID, StatusRunning, "")
		case schema.EventNodeCompleted:
			n := model.node(ev.NodeID)
			if n != nil && n.Status != nil && n.Status.Status == StatusToolError {
				continue
			}
			set(ev.NodeID, StatusCompleted, "")
		case schema.EventNodeToolError:
			set(ev.NodeID, StatusToolError, payloadString(ev.Payload, "error"))
		case schema.EventApprovalRequested:
			set(ev.NodeID, StatusSuspended, "")
		case schema.EventExecutionFailed:
			set(ev.NodeID, StatusFailed, payloadString(ev.Payload, "error"))
		}
	}

	if exec.CurrentNodeID == "" {
		return
	}
	switch exec.Status {
	case schema.ExecutionStatusPaused:
		set(exec.CurrentNodeID, StatusSuspended, "")
	case schema.ExecutionStatusRunning:
		set(exec.CurrentNodeID, StatusRunning, "")
	case schema.ExecutionStatusFailed:
		errMsg := ""
		if exec.Logs != nil {
			errMsg = exec.Logs.Error
		}
		set(exec.CurrentNodeID, StatusFailed, errMsg)
	}
	if n := model.node(exec.CurrentNodeID); n != nil && n.Status != nil {
		n.Status.Current = true
	}
}

func payloadString(payload json.RawMessage, key string) string {
	if len(payload) == 0 {
		return ""
	}
	var m map[string]any
	if json.Unmarshal(payload, &m) != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func kindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeCondition:
		return NodeKindCondition
	case schema.NodeTypeDelay:
		return NodeKindDelay
	case schema.NodeTypeApproval:
		return NodeKindApproval
	default:
		return NodeKindTool
	}
}

func nodeLabel(n schema.Node) string {
	if n.Tool != "" {
		return fmt.Sprintf("%s\n(%s)", n.ID, n.Tool)
	}
	return n.ID
}

func edgeLabel(condition string) string {
	r := []rune(condition)
	if len(r) <= maxEdgeLabel {
		return condition
	}
	return string(r[:maxEdgeLabel-3]) + "..."
}
