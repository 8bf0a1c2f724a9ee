package e2e

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reivaj/flowstate/internal/diagram"
	"github.com/reivaj/flowstate/internal/llm"
	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/internal/validation"
	"github.com/reivaj/flowstate/pkg/schema"
)

// These tests run the shipped example workflows end to end: the JSON files
// under examples/order-support are the same ones gen-diagrams renders, so
// they must validate and execute as documented.

// --- Fixtures ---

// fakeLLM returns scripted completions in order.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	requests  []llm.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return nil, schema.NewError(schema.ErrCodeCollaborator, "no scripted completion left")
	}
	content := f.responses[0]
	f.responses = f.responses[1:]
	return &llm.CompletionResponse{Content: content}, nil
}

func loadExampleWorkflow(t *testing.T, file string) *store.Workflow {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join("..", "..", "examples", "order-support", file))
	require.NoError(t, err)

	var wf store.Workflow
	require.NoError(t, json.Unmarshal(raw, &wf))
	require.NotEmpty(t, wf.ID)

	now := time.Now().UTC()
	wf.CreatedAt, wf.UpdatedAt = now, now
	return &wf
}

// wfSet is a static workflow lookup for the validator.
type wfSet map[string]bool

func (s wfSet) Has(id string) bool { return s[id] }

func orderSupportHarness(t *testing.T) (*harness, *fakeLLM) {
	t.Helper()

	main := loadExampleWorkflow(t, "main-flow.json")
	sub := loadExampleWorkflow(t, "order-status.json")
	h := newHarness(t, main, sub)

	model := &fakeLLM{}
	h.exec.LLM = model
	h.tools.responses["orders.lookup"] = map[string]any{
		"status":             "shipped",
		"estimated_delivery": "2026-08-28",
	}
	return h, model
}

// --- Authoring checks ---

func TestExampleWorkflowsValidate(t *testing.T) {
	main := loadExampleWorkflow(t, "main-flow.json")
	sub := loadExampleWorkflow(t, "order-status.json")
	require.Equal(t, "wf-order-support", main.ID)
	require.Equal(t, "wf-order-status", sub.ID)
	assert.Equal(t, main.ID, sub.ParentWorkflowID)

	gv, err := validation.NewGraphValidator(wfSet{main.ID: true, sub.ID: true})
	require.NoError(t, err)

	for _, w := range []*store.Workflow{main, sub} {
		result := gv.Validate(&w.Graph)
		assert.True(t, result.Valid(), "%s: %+v", w.ID, result.Errors)
		assert.Empty(t, result.Errors)
	}
}

func TestExampleWorkflowsRejectMissingSubworkflow(t *testing.T) {
	main := loadExampleWorkflow(t, "main-flow.json")

	// Validating the main flow alone leaves wf-order-status unresolvable.
	gv, err := validation.NewGraphValidator(wfSet{main.ID: true})
	require.NoError(t, err)

	result := gv.Validate(&main.Graph)
	assert.False(t, result.Valid())
}

func TestExampleDiagramsRender(t *testing.T) {
	main := loadExampleWorkflow(t, "main-flow.json")

	model := diagram.FromGraph(main.Name, &main.Graph)
	require.Len(t, model.Nodes, len(main.Graph.Nodes))

	mermaid := diagram.RenderMermaid(model)
	assert.Contains(t, mermaid, "graph TD")
	assert.Contains(t, mermaid, "call: wf-order-status")
	assert.Contains(t, mermaid, "-->|else|")

	text := diagram.RenderText(model)
	assert.Contains(t, text, "Order Support")
	assert.Contains(t, text, "[start] start")
	assert.Contains(t, text, "else -> fallback-reply")
}

// --- Conversations ---

func TestOrderStatusJourney(t *testing.T) {
	h, model := orderSupportHarness(t)
	model.responses = []string{`{"intent": "order_status"}`}

	// The router classifies the message and the subworkflow asks for the
	// order number.
	out := h.turn("conv-1", "where is my order?")
	require.Equal(t, schema.OutcomePausedForPrompt, out.Status)
	require.NotNil(t, out.Prompt)
	assert.Equal(t, "What's your order number?", out.Prompt.Text)
	assert.Contains(t, out.Messages, "Hi! I'm the order support assistant.")

	// The reply completes the collection, the lookup runs, and the parent
	// flow reports the shaped result.
	out = h.turn("conv-1", "ORD-12345")
	require.Equal(t, schema.OutcomeCompleted, out.Status)
	assert.Equal(t, "Your order ORD-12345 is shipped.", out.Response)
	assert.Equal(t, []string{"orders.lookup"}, h.tools.calls)

	sess := h.session("conv-1")
	assert.Equal(t, schema.SessionStatusCompleted, sess.Status)
	assert.Empty(t, sess.SubworkflowStack)

	// The classifier saw the configured intents.
	require.Len(t, model.requests, 1)
	assert.Contains(t, model.requests[0].System, "order_status")
	assert.Contains(t, model.requests[0].System, "complaint")
}

func TestComplaintJourneyHandsOff(t *testing.T) {
	h, model := orderSupportHarness(t)
	model.responses = []string{`{"intent": "complaint"}`}

	out := h.turn("conv-1", "my order arrived broken and I want a refund")
	require.Equal(t, schema.OutcomeCompleted, out.Status)
	assert.Contains(t, out.Response, "connect you with a colleague")

	sess := h.session("conv-1")
	assert.Equal(t, schema.SessionStatusHandedOff, sess.Status)
	assert.Contains(t, sess.Tags, "complaint")
}

func TestUnmatchedIntentFallsBack(t *testing.T) {
	h, model := orderSupportHarness(t)
	model.responses = []string{`{"intent": "weather"}`}

	out := h.turn("conv-1", "what's the weather like?")
	require.Equal(t, schema.OutcomeCompleted, out.Status)
	assert.Contains(t, out.Response, "I can help with order status questions")
	assert.Equal(t, schema.SessionStatusCompleted, h.session("conv-1").Status)
}

func TestOrderLookupFailureUsesErrorEdge(t *testing.T) {
	h, model := orderSupportHarness(t)
	model.responses = []string{`{"intent": "order_status"}`}
	delete(h.tools.responses, "orders.lookup")

	out := h.turn("conv-1", "track my package")
	require.Equal(t, schema.OutcomePausedForPrompt, out.Status)

	out = h.turn("conv-1", "ORD-404")
	require.Equal(t, schema.OutcomeCompleted, out.Status)
	assert.Contains(t, out.Response, "couldn't find that order")
}
