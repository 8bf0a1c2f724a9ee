package expressions

import (
	"encoding/json"
	"strings"
)

// Scope holds the data visible to placeholder resolution and expression
// evaluation within one turn: the conversation context, the outputs of nodes
// executed so far, and the current turn input.
type Scope struct {
	Context map[string]any
	Results map[string]map[string]any
	Input   map[string]any
}

// Lookup resolves a dot-delimited path such as "context.customer.name" or
// "lookup_order.body.status". The first segment selects the source; the rest
// drills into it. The bool reports whether the path resolved.
func (s *Scope) Lookup(path string) (any, bool) {
	parts := strings.SplitN(path, ".", 2)
	source := parts[0]

	if source == "context" {
		if len(parts) == 1 {
			return s.Context, s.Context != nil
		}
		return lookupIn(s.Context, parts[1])
	}

	if s.Results == nil {
		return nil, false
	}
	output, ok := s.Results[source]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return output, true
	}
	return lookupIn(output, parts[1])
}

// lookupIn resolves a field path inside a map, trying a literal key first so
// context keys containing dots keep working.
func lookupIn(data map[string]any, fieldPath string) (any, bool) {
	if data == nil {
		return nil, false
	}
	if val, ok := data[fieldPath]; ok {
		return val, true
	}
	return traversePath(data, strings.Split(fieldPath, "."))
}

// EvalEnv builds the environment map handed to expression engines:
// top-level keys "context", "results", and "input".
func (s *Scope) EvalEnv() map[string]any {
	results := make(map[string]any, len(s.Results))
	for id, out := range s.Results {
		results[id] = out
	}
	env := map[string]any{
		"context": s.Context,
		"results": results,
		"input":   s.Input,
	}
	if s.Context == nil {
		env["context"] = map[string]any{}
	}
	if s.Input == nil {
		env["input"] = map[string]any{}
	}
	return env
}

// --- Deep copy utilities ---

// DeepCopyMap creates a deep copy of a map[string]any. Node outputs are
// frozen with this before recording so later mutations cannot leak back.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		// Primitives (string, float64, bool, nil, int, int64) are value types.
		return v
	}
}
