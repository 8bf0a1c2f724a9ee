package nodes

import (
	"context"
	"strconv"
	"strings"

	"github.com/reivaj/flowstate/internal/llm"
	"github.com/reivaj/flowstate/pkg/schema"
)

// defaultHistoryWindow caps chat history when neither the node nor the
// engine configuration sets one.
const defaultHistoryWindow = 10

// LLMExecutor resolves a prompt, assembles chat history from the
// conversation's prior turns, and returns the model's text.
type LLMExecutor struct{}

func (e *LLMExecutor) Type() schema.NodeType { return schema.NodeTypeLLM }

func (e *LLMExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.LLMNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if ec.Deps.LLM == nil {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"no llm client configured"), ec.Node.ID), nil
	}

	userPrompt := stringifyValue(ec.Resolver.ResolveString(data.UserPrompt, ec.Scope))
	if userPrompt == "" {
		userPrompt = ec.Input.Text
	}
	if userPrompt == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"llm node has no prompt and the turn carries no text"), ec.Node.ID), nil
	}

	model := data.Model
	if model == "" {
		model = ec.Deps.DefaultModel
	}

	req := llm.CompletionRequest{
		Model:           model,
		System:          stringifyValue(ec.Resolver.ResolveString(data.SystemPrompt, ec.Scope)),
		History:         chatHistory(ctx, ec, historyWindow(data.HistoryWindow, ec)),
		User:            userPrompt,
		KnowledgeBaseID: data.KnowledgeBaseID,
		CompanyID:       ec.Session.CompanyID,
	}
	for _, name := range data.Tools {
		req.Tools = append(req.Tools, llm.ToolSpec{Name: name})
	}
	// Attachments reach the model only when the node opts into vision, and
	// only image attachments are forwarded.
	if data.Vision {
		for _, a := range ec.Input.Attachments {
			if a.Type != schema.AttachmentImage {
				continue
			}
			req.Attachments = append(req.Attachments, llm.Attachment{
				Type: a.Type, URL: a.URL, Name: a.Name,
			})
		}
	}

	resp, err := ec.Deps.LLM.Complete(ctx, req)
	if err != nil {
		return errResult(schema.NewError(schema.ErrCodeCollaborator,
			"llm completion failed").WithCause(err), ec.Node.ID), nil
	}

	output := map[string]any{"content": resp.Content}
	if len(resp.ToolCalls) > 0 {
		calls := make([]any, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			calls = append(calls, map[string]any{"name": tc.Name, "arguments": tc.Arguments})
		}
		output["tool_calls"] = calls
	}
	return &Result{Output: output}, nil
}

func historyWindow(nodeWindow int, ec *ExecContext) int {
	if nodeWindow > 0 {
		return nodeWindow
	}
	if ec.Deps.HistoryWindow > 0 {
		return ec.Deps.HistoryWindow
	}
	return defaultHistoryWindow
}

// chatHistory reads the recent conversation messages. A missing message
// store or read failure degrades to no history rather than failing the node.
func chatHistory(ctx context.Context, ec *ExecContext, window int) []llm.Message {
	if ec.Deps.Messages == nil {
		return nil
	}
	msgs, err := ec.Deps.Messages.Recent(ctx, ec.Session.ConversationID, window)
	if err != nil {
		if ec.Deps.Logger != nil {
			ec.Deps.Logger.Warn("chat history unavailable", "error", err)
		}
		return nil
	}
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return history
}

// QuestionClassifierExecutor makes a single completion constrained to one of
// the configured class names and routes the matched class index, or "else".
type QuestionClassifierExecutor struct{}

func (e *QuestionClassifierExecutor) Type() schema.NodeType {
	return schema.NodeTypeQuestionClassifier
}

func (e *QuestionClassifierExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.QuestionClassifierNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if len(data.Classes) == 0 {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"question_classifier node has no classes"), ec.Node.ID), nil
	}
	if ec.Deps.LLM == nil {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"no llm client configured"), ec.Node.ID), nil
	}

	input := stringifyValue(ec.Resolver.ResolveString(data.Input, ec.Scope))
	if input == "" {
		input = ec.Input.Text
	}

	var sb strings.Builder
	sb.WriteString("Classify the user's question into exactly one of these classes:\n")
	for _, c := range data.Classes {
		sb.WriteString("- ")
		sb.WriteString(c.Name)
		if c.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(c.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nRespond with JSON: {\"class\": \"<class name or default>\"}")

	resp, err := ec.Deps.LLM.Complete(ctx, llm.CompletionRequest{
		Model:     ec.Deps.DefaultModel,
		System:    sb.String(),
		User:      input,
		CompanyID: ec.Session.CompanyID,
	})
	if err != nil {
		return errResult(schema.NewError(schema.ErrCodeCollaborator,
			"classification completion failed").WithCause(err), ec.Node.ID), nil
	}

	var parsed struct {
		Class string `json:"class"`
	}
	if err := llm.ExtractJSON(resp.Content, &parsed); err != nil {
		// Tolerate models answering with the bare class name.
		parsed.Class = strings.TrimSpace(resp.Content)
	}

	for i, c := range data.Classes {
		if strings.EqualFold(parsed.Class, c.Name) {
			return &Result{
				Output: map[string]any{"class": c.Name},
				Branch: strconv.Itoa(i),
			}, nil
		}
	}
	return &Result{
		Output: map[string]any{"class": "default"},
		Branch: schema.HandleElse,
	}, nil
}
