package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders the model as a Mermaid flowchart. Branch handles
// become edge labels; node shapes follow the kind (diamond for branches,
// stadium for pauses, circle for start).
func RenderMermaid(m *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if m.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", m.Title))
	}

	for _, n := range m.Nodes {
		b.WriteString("    " + mermaidNodeDef(n) + "\n")
	}

	for _, e := range m.Edges {
		label := ""
		if e.Label != "" {
			label = fmt.Sprintf("|%s|", e.Label)
		}
		arrow := "-->"
		if e.Label == "error" {
			arrow = "-.->"
		}
		b.WriteString(fmt.Sprintf("    %s %s%s %s\n",
			mermaidSafeID(e.From), arrow, label, mermaidSafeID(e.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef pause fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef branch fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef subflow fill:#4a235a,stroke:#331845,color:#fff\n")

	for _, n := range m.Nodes {
		switch n.Kind {
		case NodeKindPause:
			b.WriteString(fmt.Sprintf("    class %s pause\n", mermaidSafeID(n.ID)))
		case NodeKindBranch:
			b.WriteString(fmt.Sprintf("    class %s branch\n", mermaidSafeID(n.ID)))
		case NodeKindSubworkflow:
			b.WriteString(fmt.Sprintf("    class %s subflow\n", mermaidSafeID(n.ID)))
		}
	}

	return b.String()
}

func mermaidNodeDef(n Node) string {
	id := mermaidSafeID(n.ID)
	label := n.Label

	switch n.Kind {
	case NodeKindStart:
		return fmt.Sprintf("%s((%q))", id, label)
	case NodeKindBranch:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindPause:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindSubworkflow:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindLLM:
		return fmt.Sprintf("%s{{%q}}", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}
