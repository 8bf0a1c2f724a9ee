package nodes

import (
	"context"
	"strings"

	"github.com/reivaj/flowstate/internal/knowledge"
	"github.com/reivaj/flowstate/internal/tools"
	"github.com/reivaj/flowstate/pkg/schema"
)

// ToolExecutor resolves parameters and invokes the tool collaborator by name.
// Tool-reported errors propagate unchanged as an error result.
type ToolExecutor struct{}

func (e *ToolExecutor) Type() schema.NodeType { return schema.NodeTypeTool }

func (e *ToolExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.ToolNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if data.ToolName == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"tool node has no tool selected"), ec.Node.ID), nil
	}
	if ec.Deps.Tools == nil {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"no tool executor configured"), ec.Node.ID), nil
	}

	params := ec.Resolver.ResolveMap(data.Parameters, ec.Scope)
	result, err := ec.Deps.Tools.Execute(ctx, tools.Call{
		Name:       data.ToolName,
		Parameters: params,
		SessionID:  ec.Session.ID,
		CompanyID:  ec.Session.CompanyID,
	})
	if err != nil {
		if flowErr, ok := err.(*schema.FlowError); ok {
			return errResult(flowErr, ec.Node.ID), nil
		}
		return errResult(schema.NewErrorf(schema.ErrCodeCollaborator,
			"tool %q failed", data.ToolName).WithCause(err), ec.Node.ID), nil
	}

	return &Result{Output: result}, nil
}

// KnowledgeExecutor runs a similarity search and returns the concatenated
// top-k passages as plain text. No model call is involved.
type KnowledgeExecutor struct{}

func (e *KnowledgeExecutor) Type() schema.NodeType { return schema.NodeTypeKnowledge }

func (e *KnowledgeExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.KnowledgeNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if data.KnowledgeBaseID == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"knowledge node has no knowledge base"), ec.Node.ID), nil
	}
	if ec.Deps.Knowledge == nil {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"no knowledge searcher configured"), ec.Node.ID), nil
	}

	query := stringifyValue(ec.Resolver.ResolveString(data.Query, ec.Scope))
	if query == "" {
		query = ec.Input.Text
	}

	passages, err := ec.Deps.Knowledge.Search(ctx, knowledge.Query{
		KnowledgeBaseID: data.KnowledgeBaseID,
		CompanyID:       ec.Session.CompanyID,
		Text:            query,
		TopK:            data.TopK,
	})
	if err != nil {
		if flowErr, ok := err.(*schema.FlowError); ok {
			return errResult(flowErr, ec.Node.ID), nil
		}
		return errResult(schema.NewErrorf(schema.ErrCodeCollaborator,
			"knowledge search against %q failed", data.KnowledgeBaseID).WithCause(err), ec.Node.ID), nil
	}

	texts := make([]string, 0, len(passages))
	sources := make([]any, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Content)
		if p.Source != "" {
			sources = append(sources, p.Source)
		}
	}

	return &Result{
		Output: map[string]any{
			"text":    strings.Join(texts, "\n\n"),
			"count":   len(passages),
			"sources": sources,
		},
	}, nil
}
