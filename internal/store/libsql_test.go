package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reivaj/flowstate/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedSession(t *testing.T, s *LibSQLStore) *Session {
	t.Helper()
	sess := &Session{
		ID:             uuid.New().String(),
		ConversationID: uuid.New().String(),
		CompanyID:      "company-1",
		AgentID:        "agent-1",
		Channel:        "api",
		IsAIEnabled:    true,
	}
	require.NoError(t, s.Create(context.Background(), sess))
	return sess
}

// --- Session Tests ---

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &Session{
		ID:             uuid.New().String(),
		ConversationID: "conv-1",
		CompanyID:      "company-1",
		AgentID:        "agent-1",
		ContactID:      "contact-1",
		Channel:        "whatsapp",
		IsAIEnabled:    true,
		Context:        map[string]any{"customer_name": "Ada"},
		Tags:           []string{"vip"},
	}
	require.NoError(t, s.Create(ctx, sess))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.Equal(t, schema.SessionStatusActive, got.Status)
	assert.True(t, got.IsAIEnabled)
	assert.Equal(t, "Ada", got.Context["customer_name"])
	assert.Equal(t, []string{"vip"}, got.Tags)
	assert.False(t, got.Paused())
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nonexistent")
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestGetByConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	got, err := s.GetByConversation(ctx, sess.ConversationID, sess.CompanyID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = s.GetByConversation(ctx, sess.ConversationID, "other-company")
	require.Error(t, err)
}

func TestSetResumePoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	require.NoError(t, s.SetResumePoint(ctx, sess.ID, "wf-1", "node-5", "user_reply"))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "node-5", got.ResumeNodeID)
	assert.Equal(t, "user_reply", got.VariableToSave)
	assert.True(t, got.Paused())

	// Clearing the resume point un-pauses the session.
	require.NoError(t, s.SetResumePoint(ctx, sess.ID, "wf-1", "", ""))
	got, err = s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.Paused())
}

func TestSetSubworkflowStack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	stack := []StackFrame{{
		CalledWorkflowID: "wf-child",
		ParentWorkflowID: "wf-parent",
		ParentNodeID:     "node-3",
		OutputVariable:   "child_result",
		Depth:            1,
	}}
	require.NoError(t, s.SetSubworkflowStack(ctx, sess.ID, stack))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.SubworkflowStack, 1)
	assert.Equal(t, "wf-child", got.SubworkflowStack[0].CalledWorkflowID)
	assert.Equal(t, 1, got.SubworkflowStack[0].Depth)

	// Empty stack round-trips to nil.
	require.NoError(t, s.SetSubworkflowStack(ctx, sess.ID, nil))
	got, err = s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SubworkflowStack)
}

func TestSessionStatusAndAssignee(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	require.NoError(t, s.SetStatus(ctx, sess.ID, string(schema.SessionStatusHandedOff)))
	require.NoError(t, s.SetAssignee(ctx, sess.ID, "human-42"))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.SessionStatusHandedOff, got.Status)
	assert.Equal(t, "human-42", got.AssigneeID)
}

func TestAddTags_Deduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	require.NoError(t, s.AddTags(ctx, sess.ID, []string{"billing", "urgent"}))
	require.NoError(t, s.AddTags(ctx, sess.ID, []string{"urgent", "refund"}))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"billing", "urgent", "refund"}, got.Tags)
}

func TestUpdateSession_DisableAI(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	require.NoError(t, s.Update(ctx, sess.ID, SessionUpdate{IsAIEnabled: BoolPtr(false)}))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAIEnabled)
}

func TestUpdateSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(context.Background(), "nonexistent", SessionUpdate{
		Status: StatusPtr(schema.SessionStatusCompleted),
	})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
}

func TestArchiveContext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	final := map[string]any{"order_id": "A-100", "resolved": true}
	require.NoError(t, s.ArchiveContext(ctx, sess.ID, final))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "A-100", got.Context["order_id"])
	assert.Equal(t, true, got.Context["resolved"])
}

func TestListPausedBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	paused := seedSession(t, s)
	require.NoError(t, s.SetResumePoint(ctx, paused.ID, "wf-1", "node-2", "reply"))
	active := seedSession(t, s)
	_ = active

	future := time.Now().Add(time.Hour)
	got, err := s.ListPausedBefore(ctx, future)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, paused.ID, got[0].ID)

	past := time.Now().Add(-time.Hour)
	got, err = s.ListPausedBefore(ctx, past)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// --- Context Tests ---

func TestContextSetGetAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "agent-1", "sess-1", "name", "Ada"))
	require.NoError(t, s.Set(ctx, "agent-1", "sess-1", "count", float64(3)))
	require.NoError(t, s.Set(ctx, "agent-1", "sess-1", "items", []any{"a", "b"}))

	got, err := s.GetAll(ctx, "agent-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got["name"])
	assert.Equal(t, float64(3), got["count"])
	assert.Equal(t, []any{"a", "b"}, got["items"])

	// Different session is isolated.
	other, err := s.GetAll(ctx, "agent-1", "sess-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestContextSet_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "agent-1", "sess-1", "status", "pending"))
	require.NoError(t, s.Set(ctx, "agent-1", "sess-1", "status", "done"))

	got, err := s.GetAll(ctx, "agent-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "done", got["status"])
}

func TestContextSetAll_Transactional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	values := map[string]any{
		"a": "1",
		"b": map[string]any{"nested": true},
	}
	require.NoError(t, s.SetAll(ctx, "agent-1", "sess-1", values))

	got, err := s.GetAll(ctx, "agent-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "1", got["a"])
	assert.Equal(t, map[string]any{"nested": true}, got["b"])
}

func TestContextDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "agent-1", "sess-1", "a", 1))
	require.NoError(t, s.Set(ctx, "agent-1", "sess-1", "b", 2))

	require.NoError(t, s.Delete(ctx, "agent-1", "sess-1", "a"))
	got, err := s.GetAll(ctx, "agent-1", "sess-1")
	require.NoError(t, err)
	assert.NotContains(t, got, "a")
	assert.Contains(t, got, "b")

	require.NoError(t, s.DeleteAll(ctx, "agent-1", "sess-1"))
	got, err = s.GetAll(ctx, "agent-1", "sess-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// --- Workflow Tests ---

func testGraph() schema.WorkflowGraph {
	return schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeResponse, Data: map[string]any{"text": "hi"}},
			{ID: "end", Type: schema.NodeTypeSetStatus, Data: map[string]any{"status": "completed"}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "end"},
		},
	}
}

func TestPutAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := &Workflow{
		ID:        uuid.New().String(),
		Name:      "order-support",
		AgentID:   "agent-1",
		CompanyID: "company-1",
		Graph:     testGraph(),
		Active:    true,
	}
	require.NoError(t, s.PutWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "order-support", got.Name)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.Active)
	require.Len(t, got.Graph.Nodes, 2)
	assert.Equal(t, "start", got.Graph.Nodes[0].ID)
}

func TestPutWorkflow_Upserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := &Workflow{ID: "wf-1", Name: "v1", Graph: testGraph(), Active: true}
	require.NoError(t, s.PutWorkflow(ctx, wf))

	wf.Name = "v2"
	wf.Version = 2
	require.NoError(t, s.PutWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)
	assert.Equal(t, 2, got.Version)
}

func TestListWorkflows_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutWorkflow(ctx, &Workflow{
		ID: "wf-a", Name: "a", CompanyID: "c1", Graph: testGraph(), Active: true,
	}))
	require.NoError(t, s.PutWorkflow(ctx, &Workflow{
		ID: "wf-b", Name: "b", CompanyID: "c1", Graph: testGraph(), Active: false,
	}))
	require.NoError(t, s.PutWorkflow(ctx, &Workflow{
		ID: "wf-c", Name: "c", CompanyID: "c2", Graph: testGraph(), Active: true,
	}))

	got, err := s.ListWorkflows(ctx, WorkflowFilter{CompanyID: "c1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ListWorkflows(ctx, WorkflowFilter{CompanyID: "c1", Active: BoolPtr(true)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "wf-a", got[0].ID)

	got, err = s.ListWorkflows(ctx, WorkflowFilter{Name: "c"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "wf-c", got[0].ID)
}

func TestDeleteWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutWorkflow(ctx, &Workflow{ID: "wf-1", Name: "x", Graph: testGraph()}))
	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))

	_, err := s.GetWorkflow(ctx, "wf-1")
	require.Error(t, err)

	err = s.DeleteWorkflow(ctx, "wf-1")
	require.Error(t, err)
}
