package store

import (
	"context"
	"time"
)

// SessionStore persists one row per conversation. All implementations must be
// safe for concurrent use.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	GetByConversation(ctx context.Context, conversationID, companyID string) (*Session, error)
	Create(ctx context.Context, session *Session) error
	Update(ctx context.Context, id string, update SessionUpdate) error

	// SetResumePoint persists the pause cursor: the workflow being executed,
	// the node to re-enter on the next turn, and the context variable the
	// next turn's input is written into.
	SetResumePoint(ctx context.Context, id, workflowID, resumeNodeID, variableToSave string) error
	SetSubworkflowStack(ctx context.Context, id string, stack []StackFrame) error
	SetStatus(ctx context.Context, id string, status string) error
	SetAssignee(ctx context.Context, id, assigneeID string) error
	AddTags(ctx context.Context, id string, tags []string) error

	// ArchiveContext snapshots the final context onto the session row when a
	// workflow completes and its live context-store entries are wiped.
	ArchiveContext(ctx context.Context, id string, contextData map[string]any) error

	// ListPausedBefore returns sessions waiting on user input whose last
	// activity predates the cutoff. Used by the stale-session sweeper.
	ListPausedBefore(ctx context.Context, cutoff time.Time) ([]*Session, error)
}

// ContextStore is the durable mirror of the in-memory execution context,
// keyed by (agent, session). Values are JSON-shaped.
type ContextStore interface {
	GetAll(ctx context.Context, agentID, sessionID string) (map[string]any, error)
	Set(ctx context.Context, agentID, sessionID, key string, value any) error
	SetAll(ctx context.Context, agentID, sessionID string, values map[string]any) error
	Delete(ctx context.Context, agentID, sessionID, key string) error
	DeleteAll(ctx context.Context, agentID, sessionID string) error
}

// WorkflowStore holds authored workflow graphs.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	PutWorkflow(ctx context.Context, wf *Workflow) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// MessageStore is the append-only conversation history consumed by the llm
// node and appended to by response nodes and inbound turns.
type MessageStore interface {
	Append(ctx context.Context, m *Message) error
	Recent(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}
