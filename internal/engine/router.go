package engine

import (
	"github.com/reivaj/flowstate/internal/nodes"
	"github.com/reivaj/flowstate/pkg/schema"
)

// FindStart returns the unique node with no incoming edges. Graphs with zero
// or multiple entry candidates are rejected; authoring validation catches
// this earlier, but a workflow stored before validation existed may still
// carry the defect.
func FindStart(g *schema.WorkflowGraph) (string, error) {
	var start string
	for id, degree := range g.InDegrees() {
		if degree != 0 {
			continue
		}
		if start != "" {
			return "", schema.NewErrorf(schema.ErrCodeRouting,
				"graph has multiple entry nodes: %s and %s", start, id)
		}
		start = id
	}
	if start == "" {
		return "", schema.NewError(schema.ErrCodeRouting, "graph has no entry node")
	}
	return start, nil
}

// Next picks the node to execute after current, or "" to halt the loop.
//
// A failed result follows the "error" handle when one is wired; without one
// the loop halts and the error surfaces as the turn outcome. Branching nodes
// follow the edge whose handle matches the selected branch. Everything else
// follows the first outgoing edge that is not an error handle.
func Next(g *schema.WorkflowGraph, current *schema.Node, res *nodes.Result) string {
	edges := g.OutgoingEdges(current.ID)

	if res != nil && res.Failed() {
		for _, e := range edges {
			if e.SourceHandle == schema.HandleError {
				return e.Target
			}
		}
		return ""
	}

	if res != nil && (res.Branch != "" || schema.BranchingNodeTypes[current.Type]) {
		for _, e := range edges {
			if e.SourceHandle == res.Branch {
				return e.Target
			}
		}
		return ""
	}

	for _, e := range edges {
		if e.SourceHandle == schema.HandleError {
			continue
		}
		return e.Target
	}
	return ""
}
