package nodes

import (
	"context"

	"github.com/reivaj/flowstate/pkg/schema"
)

// DefaultInputVariable is where the turn input lands when a node does not
// configure its own variable.
const DefaultInputVariable = "user_message"

// StartExecutor binds the turn's raw input into a context variable.
type StartExecutor struct{}

func (e *StartExecutor) Type() schema.NodeType { return schema.NodeTypeStart }

func (e *StartExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data struct {
		Variable string `json:"variable"`
	}
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	variable := data.Variable
	if variable == "" {
		variable = DefaultInputVariable
	}

	updates := map[string]any{variable: ec.Input.ReplyValue()}
	if len(ec.Input.Attachments) > 0 {
		attachments := make([]any, 0, len(ec.Input.Attachments))
		for _, a := range ec.Input.Attachments {
			attachments = append(attachments, map[string]any{
				"type": a.Type, "url": a.URL, "name": a.Name,
			})
		}
		updates[variable+"_attachments"] = attachments
	}

	return &Result{
		Output:         map[string]any{variable: ec.Input.ReplyValue()},
		ContextUpdates: updates,
	}, nil
}

// ResponseExecutor emits a resolved text as a user-visible message without
// pausing. Multiple response nodes in one turn each emit independently.
type ResponseExecutor struct{}

func (e *ResponseExecutor) Type() schema.NodeType { return schema.NodeTypeResponse }

func (e *ResponseExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.ResponseNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if data.Text == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"response node has no text"), ec.Node.ID), nil
	}

	text := stringifyValue(ec.Resolver.ResolveString(data.Text, ec.Scope))
	return &Result{
		Output:  map[string]any{"text": text},
		Message: text,
	}, nil
}

// ListenExecutor pauses the turn waiting for free-form input.
type ListenExecutor struct{}

func (e *ListenExecutor) Type() schema.NodeType { return schema.NodeTypeListen }

func (e *ListenExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.ListenNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	variable := data.Variable
	if variable == "" {
		variable = DefaultInputVariable
	}

	return &Result{
		Pause: &Pause{
			Status:            schema.OutcomePausedForInput,
			ExpectedInputType: data.ExpectedInputType,
			Variable:          variable,
		},
	}, nil
}

// UpdateContextExecutor writes resolved values into context variables.
type UpdateContextExecutor struct{}

func (e *UpdateContextExecutor) Type() schema.NodeType { return schema.NodeTypeUpdateContext }

func (e *UpdateContextExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.UpdateContextNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if len(data.Updates) == 0 {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"update_context node has no updates"), ec.Node.ID), nil
	}

	resolved := ec.Resolver.ResolveMap(data.Updates, ec.Scope)
	return &Result{
		Output:         resolved,
		ContextUpdates: resolved,
	}, nil
}
