package diagram

import "github.com/reivaj/flowstate/pkg/schema"

// NodeKind classifies a diagram node by what it does in the conversation,
// which decides the rendered shape.
type NodeKind string

const (
	NodeKindStart       NodeKind = "start"
	NodeKindMessage     NodeKind = "message" // response
	NodeKindPause       NodeKind = "pause"   // listen, prompt, form
	NodeKindBranch      NodeKind = "branch"  // condition family
	NodeKindLLM         NodeKind = "llm"
	NodeKindAction      NodeKind = "action" // tool, http, code, context writes
	NodeKindSubworkflow NodeKind = "subworkflow"
)

// Model is the renderer-independent representation of a workflow graph.
type Model struct {
	Title string
	Nodes []Node
	Edges []Edge
}

// Node is a single workflow node prepared for rendering.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
}

// Edge is a directed connection. Label carries the branch handle
// (true/false/case index/else/error) when the edge is conditional.
type Edge struct {
	From  string
	To    string
	Label string
}

// kindOf maps a workflow node type to its diagram kind.
func kindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeStart:
		return NodeKindStart
	case schema.NodeTypeResponse:
		return NodeKindMessage
	case schema.NodeTypeListen, schema.NodeTypePrompt, schema.NodeTypeForm,
		schema.NodeTypeEntityCollector, schema.NodeTypeExtractEntities:
		return NodeKindPause
	case schema.NodeTypeCondition, schema.NodeTypeCheckEntity,
		schema.NodeTypeIntentRouter, schema.NodeTypeQuestionClassifier:
		return NodeKindBranch
	case schema.NodeTypeLLM:
		return NodeKindLLM
	case schema.NodeTypeSubworkflow:
		return NodeKindSubworkflow
	default:
		return NodeKindAction
	}
}
