package nodes

import (
	"context"
	"strconv"
	"strings"

	"github.com/reivaj/flowstate/internal/llm"
	"github.com/reivaj/flowstate/pkg/schema"
)

// IntentRouterExecutor classifies the input against the configured intents
// and routes the matched intent index as a string, or "else" when nothing
// matches. A context-resident detected intent short-circuits the model call
// when its confidence clears the node's threshold.
type IntentRouterExecutor struct{}

func (e *IntentRouterExecutor) Type() schema.NodeType { return schema.NodeTypeIntentRouter }

func (e *IntentRouterExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.IntentRouterNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if len(data.Intents) == 0 {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"intent_router node has no intents"), ec.Node.ID), nil
	}

	// An upstream detector may have already resolved the intent. Honor it
	// only when its reported confidence clears the configured threshold.
	if detected, ok := ec.Scope.Lookup("context.detected_intent"); ok {
		if name := stringifyValue(detected); name != "" && detectionConfident(ec, data.ConfidenceThreshold) {
			if res := matchIntent(data.Intents, name); res != nil {
				return res, nil
			}
		}
	}

	input := stringifyValue(ec.Resolver.ResolveString(data.Input, ec.Scope))
	if input == "" {
		input = ec.Input.Text
	}
	if input == "" {
		return fallbackIntent(), nil
	}
	if ec.Deps.LLM == nil {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"no llm client configured"), ec.Node.ID), nil
	}

	var sb strings.Builder
	sb.WriteString("Determine which intent matches the user's message. Intents:\n")
	for _, it := range data.Intents {
		sb.WriteString("- ")
		sb.WriteString(it.Name)
		if it.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(it.Description)
		}
		if len(it.Examples) > 0 {
			sb.WriteString(" (e.g. ")
			sb.WriteString(strings.Join(it.Examples, "; "))
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nRespond with JSON: {\"intent\": \"<intent name or default>\"}")

	resp, err := ec.Deps.LLM.Complete(ctx, llm.CompletionRequest{
		Model:     ec.Deps.DefaultModel,
		System:    sb.String(),
		User:      input,
		CompanyID: ec.Session.CompanyID,
	})
	if err != nil {
		return errResult(schema.NewError(schema.ErrCodeCollaborator,
			"intent classification failed").WithCause(err), ec.Node.ID), nil
	}

	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := llm.ExtractJSON(resp.Content, &parsed); err != nil {
		parsed.Intent = strings.TrimSpace(resp.Content)
	}

	if res := matchIntent(data.Intents, parsed.Intent); res != nil {
		return res, nil
	}
	return fallbackIntent(), nil
}

// detectionConfident reports whether the pre-detected intent may be used.
// With no threshold every detection passes. With one, the detection needs a
// numeric context.detected_intent_confidence at or above it; a missing or
// unparseable confidence falls through to the model.
func detectionConfident(ec *ExecContext, threshold float64) bool {
	if threshold <= 0 {
		return true
	}
	raw, ok := ec.Scope.Lookup("context.detected_intent_confidence")
	if !ok {
		return false
	}
	conf, ok := asFloat(raw)
	return ok && conf >= threshold
}

func matchIntent(intents []schema.IntentOption, name string) *Result {
	for i, it := range intents {
		if strings.EqualFold(name, it.Name) || (it.ID != "" && name == it.ID) {
			return &Result{
				Output: map[string]any{"intent": it.Name},
				Branch: strconv.Itoa(i),
			}
		}
	}
	return nil
}

func fallbackIntent() *Result {
	return &Result{
		Output: map[string]any{"intent": "default"},
		Branch: schema.HandleElse,
	}
}
