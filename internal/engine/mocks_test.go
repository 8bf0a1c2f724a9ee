package engine

import (
	"context"
	"sync"
	"time"

	"github.com/reivaj/flowstate/internal/llm"
	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/internal/tools"
	"github.com/reivaj/flowstate/pkg/schema"
)

// --- In-memory stores ---

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*store.Session)}
}

func (m *memSessions) Get(ctx context.Context, id string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) GetByConversation(ctx context.Context, conversationID, companyID string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ConversationID == conversationID && s.CompanyID == companyID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session for conversation %q not found", conversationID)
}

func (m *memSessions) Create(ctx context.Context, s *store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) Update(ctx context.Context, id string, update store.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
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
	if update.Status != nil {
		s.Status = *update.Status
	}
	if update.AssigneeID != nil {
		s.AssigneeID = *update.AssigneeID
	}
	if update.IsAIEnabled != nil {
		s.IsAIEnabled = *update.IsAIEnabled
	}
	if update.Tags != nil {
		s.Tags = *update.Tags
	}
	if update.Context != nil {
		s.Context = *update.Context
	}
	if update.SubworkflowStack != nil {
		s.SubworkflowStack = *update.SubworkflowStack
	}
	return nil
}

func (m *memSessions) SetResumePoint(ctx context.Context, id, workflowID, resumeNodeID, variableToSave string) error {
	return m.Update(ctx, id, store.SessionUpdate{
		WorkflowID:     &workflowID,
		ResumeNodeID:   &resumeNodeID,
		VariableToSave: &variableToSave,
	})
}

func (m *memSessions) SetSubworkflowStack(ctx context.Context, id string, stack []store.StackFrame) error {
	return m.Update(ctx, id, store.SessionUpdate{SubworkflowStack: &stack})
}

func (m *memSessions) SetStatus(ctx context.Context, id string, status string) error {
	st := schema.SessionStatus(status)
	return m.Update(ctx, id, store.SessionUpdate{Status: &st})
}

func (m *memSessions) SetAssignee(ctx context.Context, id, assigneeID string) error {
	return m.Update(ctx, id, store.SessionUpdate{AssigneeID: &assigneeID})
}

func (m *memSessions) AddTags(ctx context.Context, id string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}
	s.Tags = append(s.Tags, tags...)
	return nil
}

func (m *memSessions) ArchiveContext(ctx context.Context, id string, contextData map[string]any) error {
	return m.Update(ctx, id, store.SessionUpdate{Context: &contextData})
}

func (m *memSessions) ListPausedBefore(ctx context.Context, cutoff time.Time) ([]*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Session
	for _, s := range m.sessions {
		if s.ResumeNodeID != "" && s.LastActivityAt.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memContexts struct {
	mu   sync.Mutex
	data map[string]map[string]any
}

func newMemContexts() *memContexts {
	return &memContexts{data: make(map[string]map[string]any)}
}

func ctxKey(agentID, sessionID string) string { return agentID + "/" + sessionID }

func (m *memContexts) GetAll(ctx context.Context, agentID, sessionID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any)
	for k, v := range m.data[ctxKey(agentID, sessionID)] {
		out[k] = v
	}
	return out, nil
}

func (m *memContexts) Set(ctx context.Context, agentID, sessionID, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ctxKey(agentID, sessionID)
	if m.data[k] == nil {
		m.data[k] = make(map[string]any)
	}
	m.data[k][key] = value
	return nil
}

func (m *memContexts) SetAll(ctx context.Context, agentID, sessionID string, values map[string]any) error {
	for key, v := range values {
		if err := m.Set(ctx, agentID, sessionID, key, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *memContexts) Delete(ctx context.Context, agentID, sessionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[ctxKey(agentID, sessionID)], key)
	return nil
}

func (m *memContexts) DeleteAll(ctx context.Context, agentID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, ctxKey(agentID, sessionID))
	return nil
}

type memWorkflows struct {
	mu        sync.Mutex
	workflows map[string]*store.Workflow
}

func newMemWorkflows() *memWorkflows {
	return &memWorkflows{workflows: make(map[string]*store.Workflow)}
}

func (m *memWorkflows) GetWorkflow(ctx context.Context, id string) (*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return wf, nil
}

func (m *memWorkflows) PutWorkflow(ctx context.Context, wf *store.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = wf
	return nil
}

func (m *memWorkflows) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Workflow
	for _, wf := range m.workflows {
		out = append(out, wf)
	}
	return out, nil
}

func (m *memWorkflows) DeleteWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, id)
	return nil
}

type memMessages struct {
	mu       sync.Mutex
	messages []*store.Message
}

func (m *memMessages) Append(ctx context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.Seq = int64(len(m.messages) + 1)
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memMessages) Recent(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// --- Collaborator fakes ---

type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
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

type captureNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *captureNotifier) Notify(ctx context.Context, conversationID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}
