package diagram

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/reivaj/flowstate/pkg/schema"
)

const maxLabelLen = 40

// FromGraph builds the render model for a workflow graph. Labels are derived
// from the node's configuration: a response shows its text, a tool its tool
// name, a subworkflow its callee, falling back to "<type> (<id>)".
func FromGraph(title string, g *schema.WorkflowGraph) *Model {
	m := &Model{Title: title}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		m.Nodes = append(m.Nodes, Node{
			ID:    n.ID,
			Label: nodeLabel(n),
			Kind:  kindOf(n.Type),
		})
	}

	for _, e := range g.Edges {
		m.Edges = append(m.Edges, Edge{
			From:  e.Source,
			To:    e.Target,
			Label: e.SourceHandle,
		})
	}

	return m
}

func nodeLabel(n *schema.Node) string {
	switch n.Type {
	case schema.NodeTypeResponse:
		var cfg schema.ResponseNodeData
		if schema.DecodeNodeData(n.Data, &cfg) == nil && cfg.Text != "" {
			return truncate(cfg.Text)
		}
	case schema.NodeTypePrompt:
		var cfg schema.PromptNodeData
		if schema.DecodeNodeData(n.Data, &cfg) == nil && cfg.Text != "" {
			return truncate(cfg.Text)
		}
	case schema.NodeTypeTool:
		var cfg schema.ToolNodeData
		if schema.DecodeNodeData(n.Data, &cfg) == nil && cfg.ToolName != "" {
			return "tool: " + cfg.ToolName
		}
	case schema.NodeTypeHTTPRequest:
		var cfg schema.HTTPRequestNodeData
		if schema.DecodeNodeData(n.Data, &cfg) == nil && cfg.URL != "" {
			method := cfg.Method
			if method == "" {
				method = "GET"
			}
			return truncate(strings.ToUpper(method) + " " + cfg.URL)
		}
	case schema.NodeTypeSubworkflow:
		var cfg schema.SubworkflowNodeData
		if schema.DecodeNodeData(n.Data, &cfg) == nil && cfg.WorkflowID != "" {
			return "call: " + cfg.WorkflowID
		}
	case schema.NodeTypeListen:
		var cfg schema.ListenNodeData
		if schema.DecodeNodeData(n.Data, &cfg) == nil && cfg.Variable != "" {
			return "listen: " + cfg.Variable
		}
	case schema.NodeTypeCondition:
		var cfg schema.ConditionNodeData
		if schema.DecodeNodeData(n.Data, &cfg) == nil {
			if len(cfg.Cases) > 0 {
				return fmt.Sprintf("condition (%d cases)", len(cfg.Cases))
			}
			if cfg.Variable != "" {
				return truncate(cfg.Variable + " " + cfg.Operator)
			}
		}
	}
	return fmt.Sprintf("%s (%s)", n.Type, n.ID)
}

// truncate cuts a label at maxLabelLen on a rune boundary, collapsing
// newlines so multi-line texts stay on one diagram line.
func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLabelLen {
		return s
	}
	cut := maxLabelLen
	for cut > 0 && !unicode.IsSpace(runes[cut-1]) {
		cut--
	}
	if cut == 0 {
		cut = maxLabelLen
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
