package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/reivaj/flowstate/internal/diagram"
	"github.com/reivaj/flowstate/pkg/schema"
)

// handleTurn delivers one end-user message to the engine.
func (s *FlowstateServer) handleTurn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conversationID, err := req.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError("conversation_id is required"), nil
	}
	companyID, err := req.RequireString("company_id")
	if err != nil {
		return mcp.NewToolResultError("company_id is required"), nil
	}

	in := schema.TurnInput{
		ConversationID: conversationID,
		CompanyID:      companyID,
		Text:           req.GetString("text", ""),
		OptionKey:      req.GetString("option_key", ""),
		Channel:        req.GetString("channel", ""),
		Metadata:       mcp.ParseStringMap(req, "metadata", nil),
	}
	if in.Text == "" && in.OptionKey == "" {
		return mcp.NewToolResultError("either text or option_key is required"), nil
	}

	// Remember which MCP session drives this conversation so response
	// nodes can be pushed to it.
	s.captureSession(ctx, conversationID)

	outcome, runErr := s.runner.Run(ctx, in)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("turn failed: %v", runErr)), nil
	}

	return marshalResult(outcome)
}

// handleReset abandons a conversation's paused workflow.
func (s *FlowstateServer) handleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conversationID, err := req.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError("conversation_id is required"), nil
	}
	companyID, err := req.RequireString("company_id")
	if err != nil {
		return mcp.NewToolResultError("company_id is required"), nil
	}

	if resetErr := s.runner.Reset(ctx, conversationID, companyID); resetErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reset failed: %v", resetErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":              true,
		"conversation_id": conversationID,
	})
}

// handleValidate runs the full validation pipeline on a stored or inline graph.
func (s *FlowstateServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID := req.GetString("workflow_id", "")
	inline := mcp.ParseStringMap(req, "graph", nil)

	if workflowID == "" && inline == nil {
		return mcp.NewToolResultError("either workflow_id or graph is required"), nil
	}

	var graph *schema.WorkflowGraph
	switch {
	case workflowID != "":
		wf, wfErr := s.workflows.GetWorkflow(ctx, workflowID)
		if wfErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", wfErr)), nil
		}
		graph = &wf.Graph
	default:
		b, marshalErr := json.Marshal(inline)
		if marshalErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", marshalErr)), nil
		}
		graph = &schema.WorkflowGraph{}
		if unmarshalErr := json.Unmarshal(b, graph); unmarshalErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", unmarshalErr)), nil
		}
	}

	result := s.validator.Validate(graph)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleRender draws a stored workflow graph.
func (s *FlowstateServer) handleRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	format := req.GetString("format", "mermaid")
	if format != "mermaid" && format != "text" {
		return mcp.NewToolResultError("format must be mermaid or text"), nil
	}

	wf, wfErr := s.workflows.GetWorkflow(ctx, workflowID)
	if wfErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", wfErr)), nil
	}

	model := diagram.FromGraph(wf.Name, &wf.Graph)
	if format == "text" {
		return mcp.NewToolResultText(diagram.RenderText(model)), nil
	}
	return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
}

// handleSession inspects a conversation's session row and recent history.
func (s *FlowstateServer) handleSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conversationID, err := req.RequireString("conversation_id")
	if err != nil {
		return mcp.NewToolResultError("conversation_id is required"), nil
	}
	companyID, err := req.RequireString("company_id")
	if err != nil {
		return mcp.NewToolResultError("company_id is required"), nil
	}

	sess, sessErr := s.store.GetByConversation(ctx, conversationID, companyID)
	if sessErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session lookup failed: %v", sessErr)), nil
	}

	out := map[string]any{"session": sess}

	limit := extractInt(req.GetString("history", ""), 10)
	if limit > 0 {
		msgs, msgErr := s.messages.Recent(ctx, conversationID, limit)
		if msgErr == nil {
			out["messages"] = msgs
		}
	}

	return marshalResult(out)
}

// --- Internal helpers ---

// captureSession maps the conversation to its current MCP session so the
// notifier can push response texts back over it.
func (s *FlowstateServer) captureSession(ctx context.Context, conversationID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(conversationID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// extractInt parses an optional numeric string parameter.
func extractInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
