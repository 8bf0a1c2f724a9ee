package validation

import (
	"fmt"
	"sort"

	"github.com/reivaj/flowstate/pkg/schema"
)

// validateGraph performs whole-graph analysis: unique entry node and
// reachability (BFS from the entry). Cycles are deliberately allowed;
// re-ask loops are a normal conversation pattern and the runner bounds
// them with a per-turn node budget.
func validateGraph(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	var entries []string
	for id, deg := range g.InDegrees() {
		if deg == 0 {
			entries = append(entries, id)
		}
	}
	sort.Strings(entries)

	switch len(entries) {
	case 0:
		result.AddError("nodes", schema.ErrCodeValidation,
			"no entry node: every node has incoming edges")
		return result
	case 1:
	default:
		result.AddError("nodes", schema.ErrCodeValidation,
			fmt.Sprintf("multiple entry nodes: %v", entries))
		return result
	}

	// Reachability: BFS along outgoing edges from the entry.
	reachable := map[string]bool{entries[0]: true}
	queue := []string{entries[0]}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.OutgoingEdges(id) {
			if !reachable[e.Target] {
				reachable[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	for i, n := range g.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from the entry node", n.ID))
		}
	}

	return result
}
