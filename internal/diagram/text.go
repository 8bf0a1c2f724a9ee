package diagram

import (
	"fmt"
	"sort"
	"strings"
)

// RenderText renders the model as a plain-text outline for terminals: each
// node with its kind and label, then its outgoing edges indented below.
func RenderText(m *Model) string {
	var b strings.Builder

	if m.Title != "" {
		b.WriteString(m.Title + "\n")
		b.WriteString(strings.Repeat("=", len(m.Title)) + "\n\n")
	}

	out := make(map[string][]Edge, len(m.Nodes))
	for _, e := range m.Edges {
		out[e.From] = append(out[e.From], e)
	}

	for _, n := range m.Nodes {
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", n.Kind, n.ID, n.Label))
		edges := out[n.ID]
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].Label < edges[j].Label })
		for _, e := range edges {
			if e.Label != "" {
				b.WriteString(fmt.Sprintf("    %s -> %s\n", e.Label, e.To))
			} else {
				b.WriteString(fmt.Sprintf("    -> %s\n", e.To))
			}
		}
	}

	return b.String()
}
