package validation

import (
	"fmt"

	"github.com/rendis/autoflow/pkg/schema"
)

// validateGraph checks edge references, the start and end nodes, branching
// rules and reachability from the start node. Cycles are allowed but
// reported as warnings.
func validateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		nodeIDs[n.ID] = true
	}

	if !nodeIDs[def.StartNodeID] {
		result.AddError("start_node_id", schema.ErrCodeGraph,
			fmt.Sprintf("start node %q does not exist", def.StartNodeID))
	}

	outgoing := make(map[string][]schema.Edge, len(def.Nodes))
	for i, e := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !nodeIDs[e.Source] {
			result.AddError(path+".source", schema.ErrCodeGraph,
				fmt.Sprintf("edge %q references non-existent node %q", e.ID, e.Source))
			continue
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", schema.ErrCodeGraph,
				fmt.Sprintf("edge %q references non-existent node %q", e.ID, e.Target))
			continue
		}
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	for i, id := range def.EndNodeIDs {
		path := fmt.Sprintf("end_node_ids[%d]", i)
		if !nodeIDs[id] {
			result.AddError(path, schema.ErrCodeGraph, fmt.Sprintf("end node %q does not exist", id))
			continue
		}
		if len(outgoing[id]) > 0 {
			result.AddError(path, schema.ErrCodeGraph,
				fmt.Sprintf("end node %q has outgoing edges", id))
		}
	}

	for _, n := range def.Nodes {
		edges := outgoing[n.ID]
		if len(edges) < 2 {
			continue
		}
		fallbacks := 0
		for _, e := range edges {
			if e.Condition == "" {
				fallbacks++
			}
		}
		if fallbacks > 1 {
			result.AddError(fmt.Sprintf("nodes[%s]", n.ID), schema.ErrCodeGraph,
				fmt.Sprintf("node %q has %d unconditional edges; at most one fallback is allowed", n.ID, fallbacks))
		}
	}

	if !result.Valid() {
		return result // broken references make reachability meaningless
	}

	reachable := map[string]bool{def.StartNodeID: true}
	queue := []string{def.StartNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range outgoing[id] {
			if !reachable[e.Target] {
				reachable[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	for _, n := range def.Nodes {
		if !reachable[n.ID] {
			result.AddError(fmt.Sprintf("nodes[%s]", n.ID), schema.ErrCodeGraph,
				fmt.Sprintf("node %q is unreachable from start node %q", n.ID, def.StartNodeID))
		}
	}

	if hasCycle(def.Nodes, outgoing) {
		result.AddWarning("edges", schema.ErrCodeGraph,
			"workflow contains a cycle; it only terminates if a condition leaves the loop")
	}

	return result
}

// hasCycle runs Kahn's algorithm over the edge set.
func hasCycle(nodes []schema.Node, outgoing map[string][]schema.Edge) bool {
	inDegree := make(map[string]int, len(nodes))
	for _, edges := range outgoing {
		for _, e := range edges {
			inDegree[e.Target]++
		}
	}

	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, e := range outgoing[id] {
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}
	return visited != len(nodes)
}
