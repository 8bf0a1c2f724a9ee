package store

import (
	"encoding/json"
	"time"

	"github.com/reivaj/flowstate/pkg/schema"
)

// Session is the persisted record of one conversation's engine state.
// A non-empty ResumeNodeID means the workflow is paused waiting for input.
type Session struct {
	ID               string               `json:"id"`
	ConversationID   string               `json:"conversation_id"`
	CompanyID        string               `json:"company_id"`
	AgentID          string               `json:"agent_id,omitempty"`
	ContactID        string               `json:"contact_id,omitempty"`
	Channel          string               `json:"channel,omitempty"`
	WorkflowID       string               `json:"workflow_id,omitempty"`
	ResumeNodeID     string               `json:"resume_node_id,omitempty"`
	VariableToSave   string               `json:"variable_to_save,omitempty"`
	Status           schema.SessionStatus `json:"status"`
	AssigneeID       string               `json:"assignee_id,omitempty"`
	Tags             []string             `json:"tags,omitempty"`
	IsAIEnabled      bool                 `json:"is_ai_enabled"`
	Context          map[string]any       `json:"context,omitempty"`
	SubworkflowStack []StackFrame         `json:"subworkflow_stack,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	LastActivityAt   time.Time            `json:"last_activity_at"`
}

// Paused reports whether the session is waiting on end-user input.
func (s *Session) Paused() bool {
	return s.ResumeNodeID != ""
}

// StackFrame records where a subworkflow call returns to. Pushed when a
// subworkflow node fires, popped when the callee runs off its end.
type StackFrame struct {
	CalledWorkflowID   string `json:"called_workflow_id"`
	ParentWorkflowID   string `json:"parent_workflow_id"`
	ParentNodeID       string `json:"parent_node_id"`
	ParentResumeNodeID string `json:"parent_resume_node_id,omitempty"`
	OutputVariable     string `json:"output_variable,omitempty"`
	Depth              int    `json:"depth"`
}

// Workflow is a persisted workflow graph version. ParentWorkflowID links
// version lineage; only one version per lineage should be active.
type Workflow struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Description      string               `json:"description,omitempty"`
	AgentID          string               `json:"agent_id,omitempty"`
	CompanyID        string               `json:"company_id,omitempty"`
	Graph            schema.WorkflowGraph `json:"graph"`
	Version          int                  `json:"version"`
	Active           bool                 `json:"active"`
	ParentWorkflowID string               `json:"parent_workflow_id,omitempty"`
	IntentConfig     json.RawMessage      `json:"intent_config,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Message is one entry of the append-only conversation history.
type Message struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	Role           schema.MessageRole `json:"role"`
	Content        string             `json:"content"`
	Seq            int64              `json:"seq"`
	CreatedAt      time.Time          `json:"created_at"`
}

// SessionUpdate specifies mutable fields of a session. Nil pointers leave
// the corresponding column untouched.
type SessionUpdate struct {
	WorkflowID       *string               `json:"workflow_id,omitempty"`
	ResumeNodeID     *string               `json:"resume_node_id,omitempty"`
	VariableToSave   *string               `json:"variable_to_save,omitempty"`
	Status           *schema.SessionStatus `json:"status,omitempty"`
	AssigneeID       *string               `json:"assignee_id,omitempty"`
	AgentID          *string               `json:"agent_id,omitempty"`
	Tags             *[]string             `json:"tags,omitempty"`
	IsAIEnabled      *bool                 `json:"is_ai_enabled,omitempty"`
	Context          *map[string]any       `json:"context,omitempty"`
	SubworkflowStack *[]StackFrame         `json:"subworkflow_stack,omitempty"`
	TouchActivity    bool                  `json:"-"`
}

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	CompanyID string `json:"company_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Active    *bool  `json:"active,omitempty"`
	Name      string `json:"name,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// Pointer helpers for SessionUpdate construction.

func StrPtr(s string) *string { return &s }

func StatusPtr(s schema.SessionStatus) *schema.SessionStatus { return &s }

func BoolPtr(b bool) *bool { return &b }
