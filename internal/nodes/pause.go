package nodes

import (
	"context"

	"github.com/reivaj/flowstate/pkg/schema"
)

// DefaultReplyVariable receives prompt/form replies when the node does not
// configure its own variable.
const DefaultReplyVariable = "user_reply"

// PromptExecutor pauses presenting a question with selectable options.
// Options come from the authored list or from a context variable.
type PromptExecutor struct{}

func (e *PromptExecutor) Type() schema.NodeType { return schema.NodeTypePrompt }

func (e *PromptExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.PromptNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if data.Text == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"prompt node has no text"), ec.Node.ID), nil
	}

	options := data.Options
	if len(options) == 0 && data.OptionsVariable != "" {
		val, found := lookupVariable(ec, data.OptionsVariable)
		if !found {
			return errResult(schema.NewErrorf(schema.ErrCodeConfiguration,
				"prompt options variable %q is not set", data.OptionsVariable), ec.Node.ID), nil
		}
		options = coerceOptions(val)
	}

	variable := data.Variable
	if variable == "" {
		variable = DefaultReplyVariable
	}

	return &Result{
		Pause: &Pause{
			Status: schema.OutcomePausedForPrompt,
			Prompt: &schema.PromptPayload{
				Text:    stringifyValue(ec.Resolver.ResolveString(data.Text, ec.Scope)),
				Options: options,
			},
			Variable: variable,
		},
	}, nil
}

// coerceOptions converts a context-resident value into prompt options.
// Accepts a list of {key, value} maps, a list of strings (key == value), or a
// plain map.
func coerceOptions(val any) []schema.PromptOption {
	var options []schema.PromptOption
	switch v := val.(type) {
	case []any:
		for _, item := range v {
			switch o := item.(type) {
			case map[string]any:
				options = append(options, schema.PromptOption{
					Key:   stringifyValue(o["key"]),
					Value: stringifyValue(o["value"]),
				})
			case string:
				options = append(options, schema.PromptOption{Key: o, Value: o})
			}
		}
	case map[string]any:
		for k, item := range v {
			options = append(options, schema.PromptOption{Key: k, Value: stringifyValue(item)})
		}
	}
	return options
}

// FormExecutor pauses presenting a structured form.
type FormExecutor struct{}

func (e *FormExecutor) Type() schema.NodeType { return schema.NodeTypeForm }

func (e *FormExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.FormNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if len(data.Fields) == 0 {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"form node has no fields"), ec.Node.ID), nil
	}

	variable := data.Variable
	if variable == "" {
		variable = DefaultReplyVariable
	}

	return &Result{
		Pause: &Pause{
			Status: schema.OutcomePausedForForm,
			Form: &schema.FormPayload{
				Title:  stringifyValue(ec.Resolver.ResolveString(data.Title, ec.Scope)),
				Fields: data.Fields,
			},
			Variable: variable,
		},
	}, nil
}
