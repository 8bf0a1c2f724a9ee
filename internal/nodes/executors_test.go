package nodes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reivaj/flowstate/internal/knowledge"
	"github.com/reivaj/flowstate/pkg/schema"
)

func TestRegistryCoversAllNodeTypes(t *testing.T) {
	r := DefaultRegistry()
	for nodeType := range schema.KnownNodeTypes {
		assert.True(t, r.Has(nodeType), "missing executor for %s", nodeType)
	}
	assert.Len(t, r.Types(), len(schema.KnownNodeTypes))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&StartExecutor{}))
	err := r.Register(&StartExecutor{})
	require.Error(t, err)

	_, err = r.Get(schema.NodeTypeLLM)
	require.Error(t, err)
}

func TestStartBindsInput(t *testing.T) {
	e := &StartExecutor{}
	ec := testExec(node(schema.NodeTypeStart, map[string]any{"variable": "question"}), nil, nil)
	ec.Input.Text = "where is my order?"

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "where is my order?", res.ContextUpdates["question"])
}

func TestStartDefaultVariable(t *testing.T) {
	e := &StartExecutor{}
	ec := testExec(node(schema.NodeTypeStart, nil), nil, nil)
	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.ContextUpdates[DefaultInputVariable])
}

func TestResponseResolvesPlaceholders(t *testing.T) {
	e := &ResponseExecutor{}
	ec := testExec(node(schema.NodeTypeResponse, map[string]any{
		"text": "Hi {{context.name}}, your order is {{lookup.status}}.",
	}), map[string]any{"name": "Ada"}, nil)
	ec.Scope.Results["lookup"] = map[string]any{"status": "shipped"}

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, your order is shipped.", res.Message)
}

func TestListenPauses(t *testing.T) {
	e := &ListenExecutor{}
	ec := testExec(node(schema.NodeTypeListen, map[string]any{
		"expected_input_type": "text",
		"variable":            "answer",
	}), nil, nil)

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.NotNil(t, res.Pause)
	assert.Equal(t, schema.OutcomePausedForInput, res.Pause.Status)
	assert.Equal(t, "text", res.Pause.ExpectedInputType)
	assert.Equal(t, "answer", res.Pause.Variable)
	assert.False(t, res.Pause.ResumeSelf)
}

func TestPromptLiteralOptions(t *testing.T) {
	e := &PromptExecutor{}
	ec := testExec(node(schema.NodeTypePrompt, map[string]any{
		"text": "Continue?",
		"options": []any{
			map[string]any{"key": "yes", "value": "Yes"},
			map[string]any{"key": "no", "value": "No"},
		},
		"variable": "confirm",
	}), nil, nil)

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.NotNil(t, res.Pause)
	assert.Equal(t, schema.OutcomePausedForPrompt, res.Pause.Status)
	assert.Equal(t, "Continue?", res.Pause.Prompt.Text)
	require.Len(t, res.Pause.Prompt.Options, 2)
	assert.Equal(t, "yes", res.Pause.Prompt.Options[0].Key)
	assert.Equal(t, "confirm", res.Pause.Variable)
}

func TestPromptOptionsFromContext(t *testing.T) {
	e := &PromptExecutor{}
	ec := testExec(node(schema.NodeTypePrompt, map[string]any{
		"text":             "Pick a plan",
		"options_variable": "plans",
	}), map[string]any{
		"plans": []any{
			map[string]any{"key": "basic", "value": "Basic"},
			map[string]any{"key": "pro", "value": "Pro"},
		},
	}, nil)

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.NotNil(t, res.Pause)
	require.Len(t, res.Pause.Prompt.Options, 2)
	assert.Equal(t, "basic", res.Pause.Prompt.Options[0].Key)
}

func TestFormPauses(t *testing.T) {
	e := &FormExecutor{}
	ec := testExec(node(schema.NodeTypeForm, map[string]any{
		"title": "Shipping details",
		"fields": []any{
			map[string]any{"name": "address", "type": "text", "required": true},
		},
	}), nil, nil)

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.NotNil(t, res.Pause)
	assert.Equal(t, schema.OutcomePausedForForm, res.Pause.Status)
	assert.Equal(t, "Shipping details", res.Pause.Form.Title)
	require.Len(t, res.Pause.Form.Fields, 1)
}

func TestUpdateContext(t *testing.T) {
	e := &UpdateContextExecutor{}
	ec := testExec(node(schema.NodeTypeUpdateContext, map[string]any{
		"updates": map[string]any{
			"greeted": true,
			"copy":    "{{context.name}}",
		},
	}), map[string]any{"name": "Ada"}, nil)

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, true, res.ContextUpdates["greeted"])
	assert.Equal(t, "Ada", res.ContextUpdates["copy"])
}

func TestDataManipulationSingleExpression(t *testing.T) {
	e := &DataManipulationExecutor{}
	ec := testExec(node(schema.NodeTypeDataManipulation, map[string]any{
		"expression":      `context.first + " " + context.last`,
		"output_variable": "full_name",
	}), map[string]any{"first": "Ada", "last": "Lovelace"}, nil)

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.Equal(t, "Ada Lovelace", res.ContextUpdates["full_name"])
}

func TestDataManipulationOperationsSeeEarlierResults(t *testing.T) {
	e := &DataManipulationExecutor{}
	ec := testExec(node(schema.NodeTypeDataManipulation, map[string]any{
		"operations": []any{
			map[string]any{"variable": "subtotal", "expression": "context.price * context.qty"},
			map[string]any{"variable": "total", "expression": "context.subtotal * 1.1"},
		},
	}), map[string]any{"price": float64(10), "qty": float64(3)}, nil)

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.InDelta(t, 33.0, res.ContextUpdates["total"], 0.001)
}

func TestToolExecutorResolvesParameters(t *testing.T) {
	ft := &fakeTools{result: map[string]any{"order": map[string]any{"status": "shipped"}}}
	e := &ToolExecutor{}
	ec := testExec(node(schema.NodeTypeTool, map[string]any{
		"tool_name":  "lookup_order",
		"parameters": map[string]any{"order_id": "{{context.order_id}}"},
	}), map[string]any{"order_id": "A-100"}, &Deps{Tools: ft})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Len(t, ft.calls, 1)
	assert.Equal(t, "lookup_order", ft.calls[0].Name)
	assert.Equal(t, "A-100", ft.calls[0].Parameters["order_id"])
	assert.Equal(t, "company-1", ft.calls[0].CompanyID)
}

func TestToolExecutorPropagatesErrors(t *testing.T) {
	ft := &fakeTools{err: schema.NewError(schema.ErrCodeCollaborator, "backend down")}
	e := &ToolExecutor{}
	ec := testExec(node(schema.NodeTypeTool, map[string]any{"tool_name": "lookup_order"}), nil, &Deps{Tools: ft})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Equal(t, schema.ErrCodeCollaborator, res.Err.Code)
	assert.Equal(t, "n1", res.Err.NodeID)
}

func TestKnowledgeConcatenatesPassages(t *testing.T) {
	fk := &fakeKnowledge{passages: []knowledge.Passage{
		{Content: "Returns accepted within 30 days.", Source: "policy.md"},
		{Content: "Refunds take 5 business days."},
	}}
	e := &KnowledgeExecutor{}
	ec := testExec(node(schema.NodeTypeKnowledge, map[string]any{
		"knowledge_base_id": "kb-1",
		"query":             "refund policy",
	}), nil, &Deps{Knowledge: fk})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.False(t, res.Failed())
	text := res.Output["text"].(string)
	assert.Contains(t, text, "Returns accepted")
	assert.Contains(t, text, "Refunds take")
	assert.Equal(t, 2, res.Output["count"])
}

func TestHTTPRequestSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/A-100", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"shipped"}`))
	}))
	defer srv.Close()

	e := &HTTPRequestExecutor{}
	ec := testExec(node(schema.NodeTypeHTTPRequest, map[string]any{
		"url": srv.URL + "/orders/{{context.order_id}}",
	}), map[string]any{"order_id": "A-100"}, &Deps{})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.Equal(t, 200, res.Output["status_code"])
	assert.Equal(t, true, res.Output["ok"])
	body := res.Output["body"].(map[string]any)
	assert.Equal(t, "shipped", body["status"])
}

func TestHTTPRequestNon2xxIsErrorWithStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`not found`))
	}))
	defer srv.Close()

	e := &HTTPRequestExecutor{}
	ec := testExec(node(schema.NodeTypeHTTPRequest, map[string]any{"url": srv.URL}), nil, &Deps{})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Equal(t, schema.ErrCodeCollaborator, res.Err.Code)
	assert.Equal(t, "n1", res.Err.NodeID)
	require.NotNil(t, res.Err.Details)
	assert.Equal(t, 404, res.Err.Details["status_code"])
	assert.Equal(t, "not found", res.Err.Details["body"])

	// The response is still recorded for error-edge consumers.
	assert.Equal(t, 404, res.Output["status_code"])
	assert.Equal(t, false, res.Output["ok"])
	assert.Equal(t, "not found", res.Output["body"])
}

func TestHTTPRequestTransportFailureIsError(t *testing.T) {
	e := &HTTPRequestExecutor{}
	ec := testExec(node(schema.NodeTypeHTTPRequest, map[string]any{
		"url":     "http://127.0.0.1:1",
		"timeout": "200ms",
	}), nil, &Deps{})

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Equal(t, schema.ErrCodeCollaborator, res.Err.Code)
}

func TestSubworkflowResolvesInputsInCallerScope(t *testing.T) {
	e := &SubworkflowExecutor{}
	ec := testExec(node(schema.NodeTypeSubworkflow, map[string]any{
		"workflow_id":     "wf-refund",
		"output_variable": "refund_result",
		"inputs":          map[string]any{"order_id": "{{context.order_id}}"},
	}), map[string]any{"order_id": "A-100"}, nil)

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.NotNil(t, res.Subworkflow)
	assert.Equal(t, "wf-refund", res.Subworkflow.WorkflowID)
	assert.Equal(t, "refund_result", res.Subworkflow.OutputVariable)
	assert.Equal(t, "A-100", res.Subworkflow.Inputs["order_id"])
}

func TestTagConversation(t *testing.T) {
	fs := newFakeSessions()
	e := &TagConversationExecutor{}
	ec := testExec(node(schema.NodeTypeTagConversation, map[string]any{
		"tags": []any{"billing", "{{context.tier}}"},
	}), map[string]any{"tier": "vip"}, &Deps{Sessions: fs})
	fs.sessions[ec.Session.ID] = ec.Session

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.Equal(t, []string{"billing", "vip"}, fs.tags["sess-1"])
}

func TestAssignToAgent(t *testing.T) {
	fs := newFakeSessions()
	var transitioned schema.SessionStatus
	deps := &Deps{
		Sessions: fs,
		Transition: func(ctx context.Context, sessionID string, to schema.SessionStatus) error {
			transitioned = to
			return nil
		},
	}
	e := &AssignToAgentExecutor{}
	ec := testExec(node(schema.NodeTypeAssignToAgent, map[string]any{"assignee_id": "human-42"}), nil, deps)
	fs.sessions[ec.Session.ID] = ec.Session

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.False(t, res.Failed())
	assert.Equal(t, "human-42", ec.Session.AssigneeID)
	assert.False(t, ec.Session.IsAIEnabled)
	assert.Equal(t, schema.SessionStatusHandedOff, transitioned)
}

func TestSetStatusRejectedTransition(t *testing.T) {
	deps := &Deps{
		Transition: func(ctx context.Context, sessionID string, to schema.SessionStatus) error {
			return schema.NewError(schema.ErrCodeInvalidTransition, "completed sessions cannot reopen")
		},
	}
	e := &SetStatusExecutor{}
	ec := testExec(node(schema.NodeTypeSetStatus, map[string]any{"status": "active"}), nil, deps)

	res, err := e.Execute(context.Background(), ec)
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Equal(t, schema.ErrCodeInvalidTransition, res.Err.Code)
}
