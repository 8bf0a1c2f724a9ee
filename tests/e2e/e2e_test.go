package e2e

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reivaj/flowstate/internal/engine"
	"github.com/reivaj/flowstate/internal/expressions"
	"github.com/reivaj/flowstate/internal/nodes"
	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/internal/streaming"
	"github.com/reivaj/flowstate/internal/tools"
	"github.com/reivaj/flowstate/pkg/schema"
)

// --- Test harness ---

// fakeTools serves tool nodes without a live tool runner.
type fakeTools struct {
	responses map[string]map[string]any
	calls     []string
}

func (f *fakeTools) Execute(_ context.Context, call tools.Call) (map[string]any, error) {
	f.calls = append(f.calls, call.Name)
	out, ok := f.responses[call.Name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator, "tool %q unavailable", call.Name)
	}
	return out, nil
}

type harness struct {
	t      *testing.T
	store  *store.LibSQLStore
	runner *engine.Runner
	tools  *fakeTools
	exec   *nodes.Deps
	hub    *streaming.MemoryHub
}

func newHarness(t *testing.T, workflows ...*store.Workflow) *harness {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	for _, wf := range workflows {
		require.NoError(t, s.PutWorkflow(ctx, wf))
	}

	ft := &fakeTools{responses: map[string]map[string]any{}}
	hub := streaming.NewMemoryHub()

	celEngine, err := expressions.NewCELEngine()
	require.NoError(t, err)

	execDeps := &nodes.Deps{
		Sessions: s,
		Messages: s,
		Tools:    ft,
		Engines: map[string]expressions.Engine{
			"expr": expressions.NewExprEngine(),
			"cel":  celEngine,
			"jq":   expressions.NewGoJQEngine(),
		},
	}

	runner := engine.NewRunner(engine.Deps{
		Workflows: s,
		Sessions:  s,
		Contexts:  s,
		Messages:  s,
		Registry:  nodes.DefaultRegistry(),
		Exec:      execDeps,
		Hub:       hub,
		Selector: func(ctx context.Context, in schema.TurnInput) (string, error) {
			active := true
			list, err := s.ListWorkflows(ctx, store.WorkflowFilter{Active: &active, Limit: 1})
			if err != nil {
				return "", err
			}
			if len(list) == 0 {
				return "", schema.NewError(schema.ErrCodeNotFound, "no active workflow")
			}
			return list[0].ID, nil
		},
	}, engine.Config{})

	return &harness{t: t, store: s, runner: runner, tools: ft, exec: execDeps, hub: hub}
}

func (h *harness) turn(conversationID, text string) *schema.Outcome {
	h.t.Helper()
	out, err := h.runner.Run(context.Background(), schema.TurnInput{
		ConversationID: conversationID,
		CompanyID:      "company-e2e",
		Text:           text,
	})
	require.NoError(h.t, err)
	return out
}

func (h *harness) tapOption(conversationID, key string) *schema.Outcome {
	h.t.Helper()
	out, err := h.runner.Run(context.Background(), schema.TurnInput{
		ConversationID: conversationID,
		CompanyID:      "company-e2e",
		OptionKey:      key,
	})
	require.NoError(h.t, err)
	return out
}

func (h *harness) session(conversationID string) *store.Session {
	h.t.Helper()
	sess, err := h.store.GetByConversation(context.Background(), conversationID, "company-e2e")
	require.NoError(h.t, err)
	return sess
}

func wf(id string, active bool, g schema.WorkflowGraph) *store.Workflow {
	now := time.Now().UTC()
	return &store.Workflow{
		ID: id, Name: id, Graph: g, Active: active,
		CreatedAt: now, UpdatedAt: now,
	}
}

// --- Scenarios ---

func TestLinearConversation(t *testing.T) {
	h := newHarness(t, wf("wf-greet", true, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "hello", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "you said: {{context.user_message}}"}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "start", Target: "hello"}},
	}))

	out := h.turn("conv-1", "hi there")
	assert.Equal(t, schema.OutcomeCompleted, out.Status)
	assert.Equal(t, "you said: hi there", out.Response)

	sess := h.session("conv-1")
	assert.Equal(t, schema.SessionStatusCompleted, sess.Status)
	assert.Empty(t, sess.ResumeNodeID)

	// Both sides of the turn landed in history.
	msgs, err := h.store.Recent(context.Background(), "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.RoleUser, msgs[0].Role)
	assert.Equal(t, schema.RoleAssistant, msgs[1].Role)
}

func TestMultiTurnListenFlow(t *testing.T) {
	h := newHarness(t, wf("wf-ask", true, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "ask", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "what's your name?"}},
			{ID: "wait", Type: schema.NodeTypeListen,
				Data: map[string]any{"variable": "name"}},
			{ID: "greet", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "nice to meet you, {{context.name}}"}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "ask"},
			{ID: "e2", Source: "ask", Target: "wait"},
			{ID: "e3", Source: "wait", Target: "greet"},
		},
	}))

	out := h.turn("conv-1", "hello")
	assert.Equal(t, schema.OutcomePausedForInput, out.Status)

	sess := h.session("conv-1")
	assert.Equal(t, "wait", sess.ResumeNodeID)
	assert.Equal(t, "name", sess.VariableToSave)

	out = h.turn("conv-1", "Alice")
	assert.Equal(t, schema.OutcomeCompleted, out.Status)
	assert.Equal(t, "nice to meet you, Alice", out.Response)
}

func TestPromptOptionFlow(t *testing.T) {
	h := newHarness(t, wf("wf-prompt", true, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "choose", Type: schema.NodeTypePrompt, Data: map[string]any{
				"text":     "cancel the order?",
				"variable": "confirmation",
				"options": []any{
					map[string]any{"key": "yes", "value": "Yes, cancel it"},
					map[string]any{"key": "no", "value": "No, keep it"},
				},
			}},
			{ID: "branch", Type: schema.NodeTypeCondition, Data: map[string]any{
				"variable": "context.confirmation", "operator": "equals", "value": "yes",
			}},
			{ID: "cancelled", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "order cancelled"}},
			{ID: "kept", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "order kept"}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "choose"},
			{ID: "e2", Source: "choose", Target: "branch"},
			{ID: "e3", Source: "branch", Target: "cancelled", SourceHandle: "true"},
			{ID: "e4", Source: "branch", Target: "kept", SourceHandle: "false"},
		},
	}))

	out := h.turn("conv-1", "I want to cancel")
	require.Equal(t, schema.OutcomePausedForPrompt, out.Status)
	require.NotNil(t, out.Prompt)
	assert.Len(t, out.Prompt.Options, 2)

	out = h.tapOption("conv-1", "yes")
	assert.Equal(t, schema.OutcomeCompleted, out.Status)
	assert.Equal(t, "order cancelled", out.Response)
}

func TestSubworkflowWithToolLookup(t *testing.T) {
	sub := wf("wf-lookup", false, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "fetch", Type: schema.NodeTypeTool, Data: map[string]any{
				"tool_name":  "orders.lookup",
				"parameters": map[string]any{"order_number": "{{context.order_number}}"},
			}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "fetch"},
		},
	})
	main := wf("wf-main", true, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "seed", Type: schema.NodeTypeUpdateContext,
				Data: map[string]any{"updates": map[string]any{"order_number": "ORD-7"}}},
			{ID: "call", Type: schema.NodeTypeSubworkflow, Data: map[string]any{
				"workflow_id": "wf-lookup", "output_variable": "lookup_result",
			}},
			{ID: "report", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "status: {{context.lookup_result.output.status}}"}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "seed"},
			{ID: "e2", Source: "seed", Target: "call"},
			{ID: "e3", Source: "call", Target: "report"},
		},
	})

	h := newHarness(t, main, sub)
	h.tools.responses["orders.lookup"] = map[string]any{"status": "shipped"}

	out := h.turn("conv-1", "where is ORD-7")
	assert.Equal(t, schema.OutcomeCompleted, out.Status)
	assert.Equal(t, "status: shipped", out.Response)
	assert.Equal(t, []string{"orders.lookup"}, h.tools.calls)

	// Stack is fully unwound.
	assert.Empty(t, h.session("conv-1").SubworkflowStack)
}

func TestErrorEdgeRouting(t *testing.T) {
	h := newHarness(t, wf("wf-err", true, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "fetch", Type: schema.NodeTypeTool,
				Data: map[string]any{"tool_name": "orders.lookup"}},
			{ID: "ok", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "found it"}},
			{ID: "sorry", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "lookup failed, try later"}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "fetch"},
			{ID: "e2", Source: "fetch", Target: "ok"},
			{ID: "e3", Source: "fetch", Target: "sorry", SourceHandle: "error"},
		},
	}))
	// No response registered for orders.lookup, so the tool node fails.

	out := h.turn("conv-1", "check my order")
	assert.Equal(t, schema.OutcomeCompleted, out.Status)
	assert.Equal(t, "lookup failed, try later", out.Response)
}

func TestCompletedConversationStartsFresh(t *testing.T) {
	h := newHarness(t, wf("wf-echo", true, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "echo", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "echo: {{context.user_message}}"}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "start", Target: "echo"}},
	}))

	out := h.turn("conv-1", "first")
	assert.Equal(t, "echo: first", out.Response)

	// Second turn reactivates the completed session with a fresh run.
	out = h.turn("conv-1", "second")
	assert.Equal(t, "echo: second", out.Response)
	assert.Equal(t, schema.SessionStatusCompleted, h.session("conv-1").Status)
}

func TestResetAbandonsPausedConversation(t *testing.T) {
	h := newHarness(t, wf("wf-ask", true, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "wait", Type: schema.NodeTypeListen,
				Data: map[string]any{"variable": "answer"}},
			{ID: "done", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "got {{context.answer}}"}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "wait"},
			{ID: "e2", Source: "wait", Target: "done"},
		},
	}))

	out := h.turn("conv-1", "hello")
	require.Equal(t, schema.OutcomePausedForInput, out.Status)

	require.NoError(t, h.runner.Reset(context.Background(), "conv-1", "company-e2e"))
	assert.Empty(t, h.session("conv-1").ResumeNodeID)

	// The next turn is a fresh run, pausing at the listen node again.
	out = h.turn("conv-1", "hello again")
	assert.Equal(t, schema.OutcomePausedForInput, out.Status)
}

func TestDataManipulationAcrossEngines(t *testing.T) {
	h := newHarness(t, wf("wf-calc", true, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "seed", Type: schema.NodeTypeUpdateContext, Data: map[string]any{
				"updates": map[string]any{
					"items": []any{
						map[string]any{"qty": 2.0, "price": 10.0},
						map[string]any{"qty": 1.0, "price": 5.0},
					},
				},
			}},
			{ID: "calc", Type: schema.NodeTypeDataManipulation, Data: map[string]any{
				"operations": []any{
					map[string]any{"variable": "total",
						"expression": `sum(context.items, {.qty * .price})`},
					map[string]any{"variable": "count", "engine": "jq",
						"expression": `.context.items | length`},
					map[string]any{"variable": "bulk", "engine": "cel",
						"expression": `size(context.items) > 1`},
				},
			}},
			{ID: "report", Type: schema.NodeTypeResponse, Data: map[string]any{
				"text": "{{context.count}} items, total {{context.total}}, bulk={{context.bulk}}",
			}},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "seed"},
			{ID: "e2", Source: "seed", Target: "calc"},
			{ID: "e3", Source: "calc", Target: "report"},
		},
	}))

	out := h.turn("conv-1", "total please")
	assert.Equal(t, schema.OutcomeCompleted, out.Status)
	assert.Equal(t, "2 items, total 25, bulk=true", out.Response)
}

func TestTurnEventsPublished(t *testing.T) {
	h := newHarness(t, wf("wf-greet", true, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "hello", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "hi"}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "start", Target: "hello"}},
	}))

	ctx := context.Background()
	ch, cancel, err := h.hub.Subscribe(ctx, streaming.EventFilter{ConversationID: "conv-1"})
	require.NoError(t, err)
	defer cancel()

	h.turn("conv-1", "hello")

	var types []string
	timeout := time.After(2 * time.Second)
collect:
	for {
		select {
		case evt := <-ch:
			types = append(types, evt.EventType)
			if evt.EventType == schema.EventTurnCompleted {
				break collect
			}
		case <-timeout:
			break collect
		}
	}
	assert.Contains(t, types, schema.EventTurnStarted)
	assert.Contains(t, types, schema.EventTurnCompleted)
}

func TestConcurrentConversations(t *testing.T) {
	h := newHarness(t, wf("wf-echo", true, schema.WorkflowGraph{
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStart},
			{ID: "echo", Type: schema.NodeTypeResponse,
				Data: map[string]any{"text": "echo: {{context.user_message}}"}},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "start", Target: "echo"}},
	}))

	const count = 5
	done := make(chan error, count)
	for i := 0; i < count; i++ {
		go func(n int) {
			conv := fmt.Sprintf("conv-%d", n)
			out, err := h.runner.Run(context.Background(), schema.TurnInput{
				ConversationID: conv,
				CompanyID:      "company-e2e",
				Text:           conv,
			})
			if err == nil && out.Response != "echo: "+conv {
				err = fmt.Errorf("wrong response for %s: %q", conv, out.Response)
			}
			done <- err
		}(i)
	}

	for i := 0; i < count; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(30 * time.Second):
			t.Fatal("timeout waiting for concurrent conversations")
		}
	}
}
