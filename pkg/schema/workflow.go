package schema

import "encoding/json"

// WorkflowGraph is the JSON-serializable workflow format produced by the
// visual flow builder: a directed graph of typed nodes. Graphs may contain
// cycles (re-ask loops); execution follows edges one node at a time.
type WorkflowGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a single step in a conversation workflow. Data holds the
// type-specific configuration; string fields inside it may contain
// {{ source.path }} placeholders resolved at execution time.
type Node struct {
	ID   string         `json:"id"`
	Type NodeType       `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Edge connects two nodes. SourceHandle selects the branch on nodes with
// multiple outgoing edges: "true"/"false" for boolean conditions, the case
// index as a string for multi-way branches, "else" for the fallback, and
// "error" for failure routing. Default edges leave it empty.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// HandleError is the reserved source handle for failure routing.
const HandleError = "error"

// HandleElse is the fallback handle for multi-way branch nodes.
const HandleElse = "else"

// NodeType enumerates the kinds of nodes a workflow graph may contain.
type NodeType string

const (
	NodeTypeStart              NodeType = "start"
	NodeTypeTool               NodeType = "tool"
	NodeTypeHTTPRequest        NodeType = "http_request"
	NodeTypeLLM                NodeType = "llm"
	NodeTypeDataManipulation   NodeType = "data_manipulation"
	NodeTypeCode               NodeType = "code"
	NodeTypeKnowledge          NodeType = "knowledge"
	NodeTypeCondition          NodeType = "condition"
	NodeTypeListen             NodeType = "listen"
	NodeTypePrompt             NodeType = "prompt"
	NodeTypeForm               NodeType = "form"
	NodeTypeResponse           NodeType = "response"
	NodeTypeIntentRouter       NodeType = "intent_router"
	NodeTypeEntityCollector    NodeType = "entity_collector"
	NodeTypeCheckEntity        NodeType = "check_entity"
	NodeTypeUpdateContext      NodeType = "update_context"
	NodeTypeTagConversation    NodeType = "tag_conversation"
	NodeTypeAssignToAgent      NodeType = "assign_to_agent"
	NodeTypeSetStatus          NodeType = "set_status"
	NodeTypeQuestionClassifier NodeType = "question_classifier"
	NodeTypeExtractEntities    NodeType = "extract_entities"
	NodeTypeSubworkflow        NodeType = "subworkflow"
)

// KnownNodeTypes is the closed set of node types the engine executes.
var KnownNodeTypes = map[NodeType]bool{
	NodeTypeStart:              true,
	NodeTypeTool:               true,
	NodeTypeHTTPRequest:        true,
	NodeTypeLLM:                true,
	NodeTypeDataManipulation:   true,
	NodeTypeCode:               true,
	NodeTypeKnowledge:          true,
	NodeTypeCondition:          true,
	NodeTypeListen:             true,
	NodeTypePrompt:             true,
	NodeTypeForm:               true,
	NodeTypeResponse:           true,
	NodeTypeIntentRouter:       true,
	NodeTypeEntityCollector:    true,
	NodeTypeCheckEntity:        true,
	NodeTypeUpdateContext:      true,
	NodeTypeTagConversation:    true,
	NodeTypeAssignToAgent:      true,
	NodeTypeSetStatus:          true,
	NodeTypeQuestionClassifier: true,
	NodeTypeExtractEntities:    true,
	NodeTypeSubworkflow:        true,
}

// BranchingNodeTypes route by branch handle instead of a single outgoing
// edge. The executor reports the selected handle; the router follows the
// matching edge.
var BranchingNodeTypes = map[NodeType]bool{
	NodeTypeCondition:          true,
	NodeTypeCheckEntity:        true,
	NodeTypeIntentRouter:       true,
	NodeTypeQuestionClassifier: true,
}

// NodeByID returns the node with the given ID, or nil.
func (g *WorkflowGraph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// OutgoingEdges returns the edges leaving a node, in authored order.
func (g *WorkflowGraph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// InDegrees returns the number of incoming edges per node ID. Nodes with no
// incoming edges appear with count zero.
func (g *WorkflowGraph) InDegrees() map[string]int {
	degrees := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		degrees[n.ID] = 0
	}
	for _, e := range g.Edges {
		if _, ok := degrees[e.Target]; ok {
			degrees[e.Target]++
		}
	}
	return degrees
}

// DecodeNodeData decodes a node's loose data map into a typed config struct
// via a JSON round-trip. Unknown keys are ignored; the visual builder stores
// layout metadata alongside execution config.
func DecodeNodeData(data map[string]any, v any) error {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return NewError(ErrCodeConfiguration, "node data is not JSON-serializable").WithCause(err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return NewError(ErrCodeConfiguration, "node data does not match expected shape").WithCause(err)
	}
	return nil
}

// --- Node data configs ---

// ToolNodeData configures a tool node.
type ToolNodeData struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// HTTPRequestNodeData configures an http_request node.
type HTTPRequestNodeData struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
	Timeout string            `json:"timeout,omitempty"`
}

// LLMNodeData configures an llm node. Vision opts the node into receiving
// the turn's image attachments; without it attachments are not forwarded.
type LLMNodeData struct {
	Model           string   `json:"model,omitempty"`
	SystemPrompt    string   `json:"system_prompt,omitempty"`
	UserPrompt      string   `json:"user_prompt,omitempty"`
	Tools           []string `json:"tools,omitempty"`
	KnowledgeBaseID string   `json:"knowledge_base_id,omitempty"`
	HistoryWindow   int      `json:"history_window,omitempty"`
	Vision          bool     `json:"vision,omitempty"`
}

// DataOperation is one assignment inside a data_manipulation node.
type DataOperation struct {
	Variable   string `json:"variable"`
	Expression string `json:"expression"`
	Engine     string `json:"engine,omitempty"` // expr (default), cel, jq
}

// DataManipulationNodeData configures a data_manipulation node. Either the
// single-expression form or the operations list is used.
type DataManipulationNodeData struct {
	Engine         string          `json:"engine,omitempty"`
	Expression     string          `json:"expression,omitempty"`
	OutputVariable string          `json:"output_variable,omitempty"`
	Operations     []DataOperation `json:"operations,omitempty"`
}

// CodeNodeData configures a code node. The source must define the entry
// function (default "run") taking and returning a map.
type CodeNodeData struct {
	Source  string         `json:"source"`
	Entry   string         `json:"entry,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
	Timeout string         `json:"timeout,omitempty"`
}

// KnowledgeNodeData configures a knowledge node.
type KnowledgeNodeData struct {
	KnowledgeBaseID string `json:"knowledge_base_id"`
	Query           string `json:"query"`
	TopK            int    `json:"top_k,omitempty"`
}

// ConditionCase is one entry in the ordered case list of a condition node.
type ConditionCase struct {
	Variable string `json:"variable"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// ConditionNodeData configures a condition node. The legacy single-check
// form routes "true"/"false"; the Cases form routes the first matching case
// index as a string, or "else".
type ConditionNodeData struct {
	Variable string          `json:"variable,omitempty"`
	Operator string          `json:"operator,omitempty"`
	Value    any             `json:"value,omitempty"`
	Cases    []ConditionCase `json:"cases,omitempty"`
}

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpIsSet       = "is_set"
	OpIsNotSet    = "is_not_set"
)

// ListenNodeData configures a listen node.
type ListenNodeData struct {
	ExpectedInputType string `json:"expected_input_type,omitempty"` // text, image, file, any
	Variable          string `json:"variable,omitempty"`
}

// PromptOption is one selectable option presented by a prompt node.
type PromptOption struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PromptNodeData configures a prompt node. Options come either from the
// literal list or from a context variable holding such a list.
type PromptNodeData struct {
	Text            string         `json:"text"`
	Options         []PromptOption `json:"options,omitempty"`
	OptionsVariable string         `json:"options_variable,omitempty"`
	Variable        string         `json:"variable,omitempty"`
}

// FormField describes one input field of a form node.
type FormField struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type,omitempty"` // text, number, email, date, phone
	Required bool   `json:"required,omitempty"`
}

// FormNodeData configures a form node.
type FormNodeData struct {
	Title    string      `json:"title,omitempty"`
	Fields   []FormField `json:"fields"`
	Variable string      `json:"variable,omitempty"`
}

// ResponseNodeData configures a response node.
type ResponseNodeData struct {
	Text string `json:"text"`
}

// IntentOption is one routable intent of an intent_router node.
type IntentOption struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// IntentRouterNodeData configures an intent_router node. Input defaults to
// the current turn's user message. ConfidenceThreshold gates the
// pre-detected intent short-circuit: when set, context.detected_intent is
// honored only if context.detected_intent_confidence meets it.
type IntentRouterNodeData struct {
	Intents             []IntentOption `json:"intents"`
	Input               string         `json:"input,omitempty"`
	ConfidenceThreshold float64        `json:"confidence_threshold,omitempty"`
}

// EntitySpec describes one entity an entity_collector or extract_entities
// node gathers. Question is the re-ask text when the value is missing.
type EntitySpec struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"` // text, number, email, date, phone
	Description string `json:"description,omitempty"`
	Question    string `json:"question,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// EntityCollectorNodeData configures an entity_collector node.
type EntityCollectorNodeData struct {
	Entities []EntitySpec `json:"entities"`
}

// ExtractEntitiesNodeData configures an extract_entities node. Input
// defaults to the current turn's user message.
type ExtractEntitiesNodeData struct {
	Entities []EntitySpec `json:"entities"`
	Input    string       `json:"input,omitempty"`
}

// CheckEntityNodeData configures a check_entity node. Pattern, when set, is
// a regular expression the value must match to count as present.
type CheckEntityNodeData struct {
	Variable string `json:"variable"`
	Pattern  string `json:"pattern,omitempty"`
}

// UpdateContextNodeData configures an update_context node.
type UpdateContextNodeData struct {
	Updates map[string]any `json:"updates"`
}

// TagConversationNodeData configures a tag_conversation node.
type TagConversationNodeData struct {
	Tags []string `json:"tags"`
}

// AssignToAgentNodeData configures an assign_to_agent node.
type AssignToAgentNodeData struct {
	AssigneeID string `json:"assignee_id"`
}

// SetStatusNodeData configures a set_status node.
type SetStatusNodeData struct {
	Status string `json:"status"`
}

// ClassSpec is one target class of a question_classifier node.
type ClassSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// QuestionClassifierNodeData configures a question_classifier node. Input
// defaults to the current turn's user message.
type QuestionClassifierNodeData struct {
	Classes []ClassSpec `json:"classes"`
	Input   string      `json:"input,omitempty"`
}

// SubworkflowNodeData configures a subworkflow node. Inputs are resolved in
// the caller's scope and written into shared context before the callee runs.
type SubworkflowNodeData struct {
	WorkflowID     string         `json:"workflow_id"`
	OutputVariable string         `json:"output_variable,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty"`
}
