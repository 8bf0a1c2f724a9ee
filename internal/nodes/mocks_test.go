package nodes

import (
	"context"
	"time"

	"github.com/reivaj/flowstate/internal/expressions"
	"github.com/reivaj/flowstate/internal/knowledge"
	"github.com/reivaj/flowstate/internal/llm"
	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/internal/tools"
	"github.com/reivaj/flowstate/pkg/schema"
)

// fakeLLM returns scripted responses in order, or the last one repeatedly.
type fakeLLM struct {
	responses []string
	requests  []llm.CompletionRequest
	err       error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.requests) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return &llm.CompletionResponse{Content: f.responses[idx]}, nil
}

type fakeTools struct {
	result map[string]any
	err    error
	calls  []tools.Call
}

func (f *fakeTools) Execute(ctx context.Context, call tools.Call) (map[string]any, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeKnowledge struct {
	passages []knowledge.Passage
	err      error
}

func (f *fakeKnowledge) Search(ctx context.Context, q knowledge.Query) ([]knowledge.Passage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

// fakeSessions records mutations without persistence.
type fakeSessions struct {
	sessions map[string]*store.Session
	tags     map[string][]string
	updates  []store.SessionUpdate
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string]*store.Session),
		tags:     make(map[string][]string),
	}
}

func (f *fakeSessions) Get(ctx context.Context, id string) (*store.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}
	return s, nil
}

func (f *fakeSessions) GetByConversation(ctx context.Context, conversationID, companyID string) (*store.Session, error) {
	for _, s := range f.sessions {
		if s.ConversationID == conversationID && s.CompanyID == companyID {
			return s, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session for %q not found", conversationID)
}

func (f *fakeSessions) Create(ctx context.Context, s *store.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessions) Update(ctx context.Context, id string, update store.SessionUpdate) error {
	s, ok := f.sessions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}
	f.updates = append(f.updates, update)
	if update.AssigneeID != nil {
		s.AssigneeID = *update.AssigneeID
	}
	if update.IsAIEnabled != nil {
		s.IsAIEnabled = *update.IsAIEnabled
	}
	if update.Status != nil {
		s.Status = *update.Status
	}
	if update.WorkflowID != nil {
		s.WorkflowID = *update.WorkflowID
	}
	if update.ResumeNodeID != nil {
		s.ResumeNodeID = *update.ResumeNodeID
	}
	if update.VariableToSave != nil {
		s.VariableToSave = *update.VariableToSave
	}
	if update.SubworkflowStack != nil {
		s.SubworkflowStack = *update.SubworkflowStack
	}
	if update.Context != nil {
		s.Context = *update.Context
	}
	return nil
}

func (f *fakeSessions) SetResumePoint(ctx context.Context, id, workflowID, resumeNodeID, variableToSave string) error {
	return f.Update(ctx, id, store.SessionUpdate{
		WorkflowID:     &workflowID,
		ResumeNodeID:   &resumeNodeID,
		VariableToSave: &variableToSave,
	})
}

func (f *fakeSessions) SetSubworkflowStack(ctx context.Context, id string, stack []store.StackFrame) error {
	return f.Update(ctx, id, store.SessionUpdate{SubworkflowStack: &stack})
}

func (f *fakeSessions) SetStatus(ctx context.Context, id string, status string) error {
	st := schema.SessionStatus(status)
	return f.Update(ctx, id, store.SessionUpdate{Status: &st})
}

func (f *fakeSessions) SetAssignee(ctx context.Context, id, assigneeID string) error {
	return f.Update(ctx, id, store.SessionUpdate{AssigneeID: &assigneeID})
}

func (f *fakeSessions) AddTags(ctx context.Context, id string, tags []string) error {
	if _, ok := f.sessions[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}
	f.tags[id] = append(f.tags[id], tags...)
	return nil
}

func (f *fakeSessions) ArchiveContext(ctx context.Context, id string, contextData map[string]any) error {
	return f.Update(ctx, id, store.SessionUpdate{Context: &contextData})
}

func (f *fakeSessions) ListPausedBefore(ctx context.Context, cutoff time.Time) ([]*store.Session, error) {
	return nil, nil
}

type fakeMessages struct {
	messages []*store.Message
}

func (f *fakeMessages) Append(ctx context.Context, m *store.Message) error {
	m.Seq = int64(len(f.messages) + 1)
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeMessages) Recent(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	if len(f.messages) > limit {
		return f.messages[len(f.messages)-limit:], nil
	}
	return f.messages, nil
}

// testExec builds an ExecContext for one node with the given context values.
func testExec(node *schema.Node, contextVals map[string]any, deps *Deps) *ExecContext {
	if contextVals == nil {
		contextVals = map[string]any{}
	}
	if deps == nil {
		deps = &Deps{}
	}
	if deps.Engines == nil {
		deps.Engines = map[string]expressions.Engine{
			"expr": expressions.NewExprEngine(),
		}
	}
	return &ExecContext{
		Node:     node,
		Scope:    &expressions.Scope{Context: contextVals, Results: map[string]map[string]any{}},
		Resolver: expressions.NewResolver(),
		Session: &store.Session{
			ID:             "sess-1",
			ConversationID: "conv-1",
			CompanyID:      "company-1",
			AgentID:        "agent-1",
			IsAIEnabled:    true,
			Status:         schema.SessionStatusActive,
		},
		Input: schema.TurnInput{ConversationID: "conv-1", CompanyID: "company-1", Text: "hello"},
		Deps:  deps,
	}
}

func node(t schema.NodeType, data map[string]any) *schema.Node {
	return &schema.Node{ID: "n1", Type: t, Data: data}
}
