package validation

import (
	"fmt"
	"time"

	"github.com/reivaj/flowstate/pkg/schema"
)

var validOperators = map[string]bool{
	schema.OpEquals:      true,
	schema.OpNotEquals:   true,
	schema.OpContains:    true,
	schema.OpGreaterThan: true,
	schema.OpLessThan:    true,
	schema.OpIsSet:       true,
	schema.OpIsNotSet:    true,
}

var validEntityTypes = map[string]bool{
	"": true, "text": true, "number": true, "email": true, "date": true, "phone": true,
}

var validSessionStatuses = map[string]bool{
	string(schema.SessionStatusActive):    true,
	string(schema.SessionStatusCompleted): true,
	string(schema.SessionStatusHandedOff): true,
	string(schema.SessionStatusExpired):   true,
}

// validateSemantic performs semantic analysis on the workflow graph.
// Checks: known node types, per-type config requirements, edge endpoint
// references, branch handle coverage, subworkflow resolvability.
func validateSemantic(g *schema.WorkflowGraph, workflows WorkflowLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		nodeIDs[n.ID] = true
	}

	for i := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		validateNodeConfig(&g.Nodes[i], path, workflows, result)
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	for i, e := range g.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !nodeIDs[e.Source] {
			result.AddError(path+".source", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Target))
		}
		if e.ID != "" {
			if edgeIDs[e.ID] {
				result.AddError(path+".id", schema.ErrCodeValidation,
					fmt.Sprintf("duplicate edge id %q", e.ID))
			}
			edgeIDs[e.ID] = true
		}
	}

	for i := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		validateBranchHandles(g, &g.Nodes[i], path, result)
	}

	return result
}

// validateNodeConfig decodes and checks a node's type-specific configuration.
func validateNodeConfig(n *schema.Node, path string, workflows WorkflowLookup, result *schema.ValidationResult) {
	if !schema.KnownNodeTypes[n.Type] {
		result.AddError(path+".type", schema.ErrCodeValidation,
			fmt.Sprintf("unknown node type %q", n.Type))
		return
	}

	switch n.Type {
	case schema.NodeTypeTool:
		var cfg schema.ToolNodeData
		if decodeOK(n, &cfg, path, result) && cfg.ToolName == "" {
			result.AddError(path+".data.tool_name", schema.ErrCodeConfiguration, "tool_name is required")
		}

	case schema.NodeTypeHTTPRequest:
		var cfg schema.HTTPRequestNodeData
		if decodeOK(n, &cfg, path, result) {
			if cfg.URL == "" {
				result.AddError(path+".data.url", schema.ErrCodeConfiguration, "url is required")
			}
			if cfg.Timeout != "" {
				if _, err := time.ParseDuration(cfg.Timeout); err != nil {
					result.AddError(path+".data.timeout", schema.ErrCodeConfiguration,
						fmt.Sprintf("invalid duration %q", cfg.Timeout))
				}
			}
		}

	case schema.NodeTypeResponse:
		var cfg schema.ResponseNodeData
		if decodeOK(n, &cfg, path, result) && cfg.Text == "" {
			result.AddError(path+".data.text", schema.ErrCodeConfiguration, "text is required")
		}

	case schema.NodeTypeUpdateContext:
		var cfg schema.UpdateContextNodeData
		if decodeOK(n, &cfg, path, result) && len(cfg.Updates) == 0 {
			result.AddError(path+".data.updates", schema.ErrCodeConfiguration, "updates must not be empty")
		}

	case schema.NodeTypeCode:
		var cfg schema.CodeNodeData
		if decodeOK(n, &cfg, path, result) {
			if cfg.Source == "" {
				result.AddError(path+".data.source", schema.ErrCodeConfiguration, "source is required")
			}
			if cfg.Timeout != "" {
				if _, err := time.ParseDuration(cfg.Timeout); err != nil {
					result.AddError(path+".data.timeout", schema.ErrCodeConfiguration,
						fmt.Sprintf("invalid duration %q", cfg.Timeout))
				}
			}
		}

	case schema.NodeTypeKnowledge:
		var cfg schema.KnowledgeNodeData
		if decodeOK(n, &cfg, path, result) {
			if cfg.KnowledgeBaseID == "" {
				result.AddError(path+".data.knowledge_base_id", schema.ErrCodeConfiguration, "knowledge_base_id is required")
			}
			if cfg.Query == "" {
				result.AddError(path+".data.query", schema.ErrCodeConfiguration, "query is required")
			}
		}

	case schema.NodeTypeDataManipulation:
		var cfg schema.DataManipulationNodeData
		if decodeOK(n, &cfg, path, result) {
			if cfg.Expression == "" && len(cfg.Operations) == 0 {
				result.AddError(path+".data", schema.ErrCodeConfiguration,
					"either expression or operations is required")
			}
			for j, op := range cfg.Operations {
				if op.Variable == "" || op.Expression == "" {
					result.AddError(fmt.Sprintf("%s.data.operations[%d]", path, j),
						schema.ErrCodeConfiguration, "variable and expression are required")
				}
			}
		}

	case schema.NodeTypeCondition:
		var cfg schema.ConditionNodeData
		if decodeOK(n, &cfg, path, result) {
			if len(cfg.Cases) == 0 {
				if cfg.Variable == "" || cfg.Operator == "" {
					result.AddError(path+".data", schema.ErrCodeConfiguration,
						"condition needs either cases or variable + operator")
				} else if !validOperators[cfg.Operator] {
					result.AddError(path+".data.operator", schema.ErrCodeConfiguration,
						fmt.Sprintf("unknown operator %q", cfg.Operator))
				}
			}
			for j, c := range cfg.Cases {
				casePath := fmt.Sprintf("%s.data.cases[%d]", path, j)
				if c.Variable == "" || c.Operator == "" {
					result.AddError(casePath, schema.ErrCodeConfiguration, "variable and operator are required")
				} else if !validOperators[c.Operator] {
					result.AddError(casePath+".operator", schema.ErrCodeConfiguration,
						fmt.Sprintf("unknown operator %q", c.Operator))
				}
			}
		}

	case schema.NodeTypePrompt:
		var cfg schema.PromptNodeData
		if decodeOK(n, &cfg, path, result) {
			if cfg.Text == "" {
				result.AddError(path+".data.text", schema.ErrCodeConfiguration, "text is required")
			}
			if len(cfg.Options) == 0 && cfg.OptionsVariable == "" {
				result.AddWarning(path+".data.options", schema.ErrCodeConfiguration,
					"prompt has no options and no options_variable")
			}
			for j, opt := range cfg.Options {
				if opt.Key == "" {
					result.AddError(fmt.Sprintf("%s.data.options[%d].key", path, j),
						schema.ErrCodeConfiguration, "option key is required")
				}
			}
		}

	case schema.NodeTypeForm:
		var cfg schema.FormNodeData
		if decodeOK(n, &cfg, path, result) {
			if len(cfg.Fields) == 0 {
				result.AddError(path+".data.fields", schema.ErrCodeConfiguration, "form has no fields")
			}
			for j, f := range cfg.Fields {
				if f.Name == "" {
					result.AddError(fmt.Sprintf("%s.data.fields[%d].name", path, j),
						schema.ErrCodeConfiguration, "field name is required")
				}
				if !validEntityTypes[f.Type] {
					result.AddWarning(fmt.Sprintf("%s.data.fields[%d].type", path, j),
						schema.ErrCodeConfiguration, fmt.Sprintf("unknown field type %q", f.Type))
				}
			}
		}

	case schema.NodeTypeIntentRouter:
		var cfg schema.IntentRouterNodeData
		if decodeOK(n, &cfg, path, result) && len(cfg.Intents) == 0 {
			result.AddError(path+".data.intents", schema.ErrCodeConfiguration, "intents must not be empty")
		}

	case schema.NodeTypeQuestionClassifier:
		var cfg schema.QuestionClassifierNodeData
		if decodeOK(n, &cfg, path, result) && len(cfg.Classes) == 0 {
			result.AddError(path+".data.classes", schema.ErrCodeConfiguration, "classes must not be empty")
		}

	case schema.NodeTypeEntityCollector:
		var cfg schema.EntityCollectorNodeData
		if decodeOK(n, &cfg, path, result) {
			validateEntitySpecs(cfg.Entities, path, result)
		}

	case schema.NodeTypeExtractEntities:
		var cfg schema.ExtractEntitiesNodeData
		if decodeOK(n, &cfg, path, result) {
			validateEntitySpecs(cfg.Entities, path, result)
		}

	case schema.NodeTypeCheckEntity:
		var cfg schema.CheckEntityNodeData
		if decodeOK(n, &cfg, path, result) && cfg.Variable == "" {
			result.AddError(path+".data.variable", schema.ErrCodeConfiguration, "variable is required")
		}

	case schema.NodeTypeTagConversation:
		var cfg schema.TagConversationNodeData
		if decodeOK(n, &cfg, path, result) && len(cfg.Tags) == 0 {
			result.AddError(path+".data.tags", schema.ErrCodeConfiguration, "tags must not be empty")
		}

	case schema.NodeTypeAssignToAgent:
		var cfg schema.AssignToAgentNodeData
		if decodeOK(n, &cfg, path, result) && cfg.AssigneeID == "" {
			result.AddError(path+".data.assignee_id", schema.ErrCodeConfiguration, "assignee_id is required")
		}

	case schema.NodeTypeSetStatus:
		var cfg schema.SetStatusNodeData
		if decodeOK(n, &cfg, path, result) {
			if cfg.Status == "" {
				result.AddError(path+".data.status", schema.ErrCodeConfiguration, "status is required")
			} else if !containsPlaceholder(cfg.Status) && !validSessionStatuses[cfg.Status] {
				result.AddError(path+".data.status", schema.ErrCodeConfiguration,
					fmt.Sprintf("unknown target status %q", cfg.Status))
			}
		}

	case schema.NodeTypeSubworkflow:
		var cfg schema.SubworkflowNodeData
		if decodeOK(n, &cfg, path, result) {
			if cfg.WorkflowID == "" {
				result.AddError(path+".data.workflow_id", schema.ErrCodeConfiguration, "workflow_id is required")
			} else if workflows != nil && !workflows.Has(cfg.WorkflowID) {
				result.AddError(path+".data.workflow_id", schema.ErrCodeNotFound,
					fmt.Sprintf("workflow %q not found", cfg.WorkflowID))
			}
		}
	}
}

func validateEntitySpecs(entities []schema.EntitySpec, path string, result *schema.ValidationResult) {
	if len(entities) == 0 {
		result.AddError(path+".data.entities", schema.ErrCodeConfiguration, "entities must not be empty")
		return
	}
	for j, e := range entities {
		if e.Name == "" {
			result.AddError(fmt.Sprintf("%s.data.entities[%d].name", path, j),
				schema.ErrCodeConfiguration, "entity name is required")
		}
		if !validEntityTypes[e.Type] {
			result.AddWarning(fmt.Sprintf("%s.data.entities[%d].type", path, j),
				schema.ErrCodeConfiguration, fmt.Sprintf("unknown entity type %q", e.Type))
		}
	}
}

// validateBranchHandles checks handle usage on a node's outgoing edges.
// Branching nodes should label every edge and carry an else/false fallback;
// non-branching nodes should not carry branch labels.
func validateBranchHandles(g *schema.WorkflowGraph, n *schema.Node, path string, result *schema.ValidationResult) {
	edges := g.OutgoingEdges(n.ID)

	if schema.BranchingNodeTypes[n.Type] {
		hasFallback := false
		for i, e := range edges {
			switch e.SourceHandle {
			case "":
				result.AddWarning(fmt.Sprintf("%s (edge %d)", path, i), schema.ErrCodeValidation,
					fmt.Sprintf("unlabeled edge from branching node %q is never followed", n.ID))
			case schema.HandleElse, "false":
				hasFallback = true
			}
		}
		if len(edges) > 0 && !hasFallback {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("branching node %q has no else/false edge; unmatched input halts the turn", n.ID))
		}
		return
	}

	for i, e := range edges {
		if e.SourceHandle != "" && e.SourceHandle != schema.HandleError {
			result.AddWarning(fmt.Sprintf("%s (edge %d)", path, i), schema.ErrCodeValidation,
				fmt.Sprintf("branch handle %q on non-branching node %q is ignored", e.SourceHandle, n.ID))
		}
	}
}

func decodeOK(n *schema.Node, cfg any, path string, result *schema.ValidationResult) bool {
	if err := schema.DecodeNodeData(n.Data, cfg); err != nil {
		result.AddError(path+".data", schema.ErrCodeConfiguration, err.Error())
		return false
	}
	return true
}

func containsPlaceholder(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '{' && s[i+1] == '{' {
			return true
		}
	}
	return false
}
