package nodes

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/reivaj/flowstate/internal/llm"
	"github.com/reivaj/flowstate/pkg/schema"
)

// EntityReplyVariable is the reserved context key the runner writes the
// user's reply into while an extract_entities node is collecting.
const EntityReplyVariable = "__entity_reply__"

// entityStateKey is where an extract_entities node parks its progress
// between turns.
func entityStateKey(nodeID string) string {
	return "__entities_" + nodeID + "__"
}

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^[+]?[\d\s().-]{7,20}$`)
)

// dateFormats accepted by date-typed entities.
var dateFormats = []string{time.RFC3339, "2006-01-02", "02-01-2006"}

// validEntityValue applies type-specific validation to one extracted value.
func validEntityValue(entityType string, value any) bool {
	switch entityType {
	case "number":
		_, ok := asFloat(value)
		return ok
	case "email":
		s, ok := value.(string)
		return ok && emailRe.MatchString(strings.TrimSpace(s))
	case "phone":
		s, ok := value.(string)
		if !ok {
			return false
		}
		s = strings.TrimSpace(s)
		if !phoneRe.MatchString(s) {
			return false
		}
		digits := 0
		for _, r := range s {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		return digits >= 7
	case "date":
		s, ok := value.(string)
		if !ok {
			return false
		}
		s = strings.TrimSpace(s)
		for _, layout := range dateFormats {
			if _, err := time.Parse(layout, s); err == nil {
				return true
			}
		}
		return false
	default: // text
		return !isEmptyValue(value)
	}
}

// askText returns the re-ask question for an entity.
func askText(spec schema.EntitySpec) string {
	if spec.Question != "" {
		return spec.Question
	}
	return fmt.Sprintf("Could you provide your %s?", spec.Name)
}

// EntityCollectorExecutor checks a declared variable list against context.
// All present and valid completes with the collected map; otherwise it pauses
// asking for the first missing one and re-enters itself on the next turn.
type EntityCollectorExecutor struct{}

func (e *EntityCollectorExecutor) Type() schema.NodeType { return schema.NodeTypeEntityCollector }

func (e *EntityCollectorExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.EntityCollectorNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if len(data.Entities) == 0 {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"entity_collector node has no entities"), ec.Node.ID), nil
	}

	collected := make(map[string]any)
	for _, spec := range data.Entities {
		val, found := ec.Scope.Lookup("context." + spec.Name)
		if found && !isEmptyValue(val) && validEntityValue(spec.Type, val) {
			collected[spec.Name] = val
			continue
		}
		if !spec.Required && !found {
			continue
		}
		// First missing or invalid entity: ask for it and re-enter here.
		return &Result{
			Pause: &Pause{
				Status:     schema.OutcomePausedForPrompt,
				Prompt:     &schema.PromptPayload{Text: askText(spec)},
				Variable:   spec.Name,
				ResumeSelf: true,
			},
		}, nil
	}

	return &Result{Output: map[string]any{"entities": collected}}, nil
}

// ExtractEntitiesExecutor extracts declared entities from a source text with
// one multi-entity completion, validates each value per type, and collects
// any still-missing required entities across turns via narrower single-entity
// completions.
type ExtractEntitiesExecutor struct{}

func (e *ExtractEntitiesExecutor) Type() schema.NodeType { return schema.NodeTypeExtractEntities }

type entityState struct {
	Collected map[string]any `json:"collected"`
	Missing   []string       `json:"missing"`
}

func (e *ExtractEntitiesExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.ExtractEntitiesNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if len(data.Entities) == 0 {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"extract_entities node has no entities"), ec.Node.ID), nil
	}
	if ec.Deps.LLM == nil {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"no llm client configured"), ec.Node.ID), nil
	}

	specByName := make(map[string]schema.EntitySpec, len(data.Entities))
	for _, spec := range data.Entities {
		specByName[spec.Name] = spec
	}

	stateKey := entityStateKey(ec.Node.ID)
	state := loadEntityState(ec, stateKey)

	if state == nil {
		// First entry: one multi-entity extraction over the source text.
		source := stringifyValue(ec.Resolver.ResolveString(data.Input, ec.Scope))
		if source == "" {
			source = ec.Input.Text
		}
		extracted, err := e.extractAll(ctx, ec, data.Entities, source)
		if err != nil {
			return errResult(schema.NewError(schema.ErrCodeCollaborator,
				"entity extraction failed").WithCause(err), ec.Node.ID), nil
		}

		state = &entityState{Collected: make(map[string]any)}
		for _, spec := range data.Entities {
			val, ok := extracted[spec.Name]
			if ok && validEntityValue(spec.Type, val) {
				state.Collected[spec.Name] = val
			} else if spec.Required {
				state.Missing = append(state.Missing, spec.Name)
			}
		}
	} else {
		// Re-entry: the reply targets the first pending entity.
		reply := ""
		if v, ok := ec.Scope.Lookup("context." + EntityReplyVariable); ok {
			reply = stringifyValue(v)
		}
		if len(state.Missing) > 0 && reply != "" {
			pending := specByName[state.Missing[0]]
			val, err := e.extractOne(ctx, ec, pending, reply)
			if err != nil {
				return errResult(schema.NewError(schema.ErrCodeCollaborator,
					"entity extraction failed").WithCause(err), ec.Node.ID), nil
			}
			if val != nil && validEntityValue(pending.Type, val) {
				state.Collected[pending.Name] = val
				state.Missing = state.Missing[1:]
			}
		}
	}

	if len(state.Missing) > 0 {
		pending := specByName[state.Missing[0]]
		return &Result{
			ContextUpdates: map[string]any{stateKey: stateToMap(state)},
			Pause: &Pause{
				Status:     schema.OutcomePausedForPrompt,
				Prompt:     &schema.PromptPayload{Text: askText(pending)},
				Variable:   EntityReplyVariable,
				ResumeSelf: true,
			},
		}, nil
	}

	// Complete: write every entity into context and drop the scratch state.
	updates := make(map[string]any, len(state.Collected)+2)
	for name, val := range state.Collected {
		updates[name] = val
	}
	updates[stateKey] = nil
	updates[EntityReplyVariable] = nil

	return &Result{
		Output:         map[string]any{"entities": state.Collected},
		ContextUpdates: updates,
	}, nil
}

func (e *ExtractEntitiesExecutor) extractAll(ctx context.Context, ec *ExecContext, specs []schema.EntitySpec, source string) (map[string]any, error) {
	var sb strings.Builder
	sb.WriteString("Extract the following entities from the user's message:\n")
	for _, spec := range specs {
		sb.WriteString("- ")
		sb.WriteString(spec.Name)
		if spec.Type != "" {
			sb.WriteString(" (")
			sb.WriteString(spec.Type)
			sb.WriteString(")")
		}
		if spec.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(spec.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nRespond with a JSON object mapping entity names to extracted values. Omit entities not present in the message.")

	resp, err := ec.Deps.LLM.Complete(ctx, llm.CompletionRequest{
		Model:     ec.Deps.DefaultModel,
		System:    sb.String(),
		User:      source,
		CompanyID: ec.Session.CompanyID,
	})
	if err != nil {
		return nil, err
	}

	var extracted map[string]any
	if err := llm.ExtractJSON(resp.Content, &extracted); err != nil {
		return map[string]any{}, nil
	}
	return extracted, nil
}

func (e *ExtractEntitiesExecutor) extractOne(ctx context.Context, ec *ExecContext, spec schema.EntitySpec, reply string) (any, error) {
	var sb strings.Builder
	sb.WriteString("Extract the entity ")
	sb.WriteString(spec.Name)
	if spec.Type != "" {
		sb.WriteString(" (")
		sb.WriteString(spec.Type)
		sb.WriteString(")")
	}
	if spec.Description != "" {
		sb.WriteString(": ")
		sb.WriteString(spec.Description)
	}
	sb.WriteString("\nRespond with JSON: {\"value\": <extracted value or null>}")

	resp, err := ec.Deps.LLM.Complete(ctx, llm.CompletionRequest{
		Model:     ec.Deps.DefaultModel,
		System:    sb.String(),
		User:      reply,
		CompanyID: ec.Session.CompanyID,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Value any `json:"value"`
	}
	if err := llm.ExtractJSON(resp.Content, &parsed); err != nil {
		// Treat the raw reply as the value; validation decides.
		return strings.TrimSpace(resp.Content), nil
	}
	return parsed.Value, nil
}

func loadEntityState(ec *ExecContext, stateKey string) *entityState {
	raw, ok := ec.Scope.Lookup("context." + stateKey)
	if !ok || raw == nil {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	state := &entityState{Collected: make(map[string]any)}
	if collected, ok := m["collected"].(map[string]any); ok {
		state.Collected = collected
	}
	if missing, ok := m["missing"].([]any); ok {
		for _, v := range missing {
			if s, ok := v.(string); ok {
				state.Missing = append(state.Missing, s)
			}
		}
	}
	return state
}

func stateToMap(state *entityState) map[string]any {
	missing := make([]any, 0, len(state.Missing))
	for _, name := range state.Missing {
		missing = append(missing, name)
	}
	return map[string]any{
		"collected": state.Collected,
		"missing":   missing,
	}
}
