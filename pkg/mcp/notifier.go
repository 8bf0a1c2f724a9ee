package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// MCPNotifier pushes response-node texts to the MCP session driving the
// conversation. Implements the engine's Notifier contract.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP notifications.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a message notification to the conversation's session.
// Best-effort: returns nil if no session is driving the conversation.
func (n *MCPNotifier) Notify(_ context.Context, conversationID, text string) error {
	sessionID, ok := n.sessions.SessionFor(conversationID)
	if !ok {
		return nil // conversation not connected, best-effort
	}
	payload := map[string]any{
		"conversation_id": conversationID,
		"text":            text,
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send, not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
