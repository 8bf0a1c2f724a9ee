package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/internal/validation"
	"github.com/reivaj/flowstate/pkg/schema"
)

// TurnRunner is the slice of the engine the MCP surface needs. Satisfied by
// *engine.Runner.
type TurnRunner interface {
	Run(ctx context.Context, in schema.TurnInput) (*schema.Outcome, error)
	Reset(ctx context.Context, conversationID, companyID string) error
}

// FlowstateServerDeps holds the dependencies for creating a FlowstateServer.
type FlowstateServerDeps struct {
	Runner    TurnRunner
	Workflows store.WorkflowStore
	Sessions  store.SessionStore
	Messages  store.MessageStore
	Validator *validation.GraphValidator
	Logger    *slog.Logger
}

// FlowstateServer wraps an MCP server with conversation-engine tool handlers.
type FlowstateServer struct {
	runner    TurnRunner
	workflows store.WorkflowStore
	store     store.SessionStore
	messages  store.MessageStore
	validator *validation.GraphValidator
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFlowstateServer creates a FlowstateServer with all 5 tools registered.
func NewFlowstateServer(deps FlowstateServerDeps) *FlowstateServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowstateServer{
		runner:    deps.Runner,
		workflows: deps.Workflows,
		store:     deps.Sessions,
		messages:  deps.Messages,
		validator: deps.Validator,
		sessions:  NewSessionRegistry(),
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowstate",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowstate executes conversational workflows. Use flowstate.turn to deliver an end-user message and get the engine's reply or question, flowstate.reset to abandon a paused conversation, flowstate.validate to check a workflow graph, flowstate.render to draw one, and flowstate.session to inspect a conversation's state and history."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowstateServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowstateServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Registry returns the conversation-to-session registry for notifier wiring.
func (s *FlowstateServer) Registry() *SessionRegistry {
	return s.sessions
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *FlowstateServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: turnTool(), Handler: s.handleTurn},
		{Tool: resetTool(), Handler: s.handleReset},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: renderTool(), Handler: s.handleRender},
		{Tool: sessionTool(), Handler: s.handleSession},
	}
}

// --- Tool definitions ---

func turnTool() mcp.Tool {
	return mcp.NewTool("flowstate.turn",
		mcp.WithDescription("Deliver an inbound end-user message and run the conversation workflow until it answers or pauses for more input"),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Channel-level conversation identifier")),
		mcp.WithString("company_id", mcp.Required(), mcp.Description("Tenant the conversation belongs to")),
		mcp.WithString("text", mcp.Description("The user's message text")),
		mcp.WithString("option_key", mcp.Description("Key of the prompt option the user tapped (takes precedence over text)")),
		mcp.WithString("channel", mcp.Description("Originating channel (whatsapp, web, voice...)")),
		mcp.WithObject("metadata", mcp.Description("Transport metadata (agent_id, contact_id, ...)")),
	)
}

func resetTool() mcp.Tool {
	return mcp.NewTool("flowstate.reset",
		mcp.WithDescription("Abandon a conversation's paused workflow: clears the resume point, subworkflow stack, and collected context"),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation to reset")),
		mcp.WithString("company_id", mcp.Required(), mcp.Description("Tenant the conversation belongs to")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("flowstate.validate",
		mcp.WithDescription("Validate a workflow graph: structural shape, node configurations, edge references, branch handles, entry node, reachability"),
		mcp.WithString("workflow_id", mcp.Description("Stored workflow to validate")),
		mcp.WithObject("graph", mcp.Description("Inline graph to validate instead of a stored workflow")),
	)
}

func renderTool() mcp.Tool {
	return mcp.NewTool("flowstate.render",
		mcp.WithDescription("Render a workflow graph as a Mermaid flowchart or a plain-text outline"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Stored workflow to render")),
		mcp.WithString("format",
			mcp.Enum("mermaid", "text"),
			mcp.Description("Output format (default: mermaid)"),
		),
	)
}

func sessionTool() mcp.Tool {
	return mcp.NewTool("flowstate.session",
		mcp.WithDescription("Inspect a conversation's session: status, resume point, subworkflow stack, archived context, and recent messages"),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation to inspect")),
		mcp.WithString("company_id", mcp.Required(), mcp.Description("Tenant the conversation belongs to")),
		mcp.WithString("history", mcp.Description("How many recent messages to include (default 10, 0 for none)")),
	)
}
