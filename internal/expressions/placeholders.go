package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Resolver substitutes {{ source.path }} placeholders in node configuration.
// The first path segment selects the source: "context" drills into the
// conversation context, any other segment is treated as a node ID and drills
// into that node's recorded output.
//
// A string consisting of exactly one placeholder resolves to the referenced
// value's native type (maps, slices, numbers, booleans survive intact).
// Placeholders embedded in surrounding text are stringified. Unresolvable
// references become the empty string; malformed markers are left as-is.
type Resolver struct{}

// NewResolver creates a placeholder Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// wholeFieldRe matches a string that is a single placeholder and nothing else.
var wholeFieldRe = regexp.MustCompile(`^\s*\{\{([^{}]*)\}\}\s*$`)

// HasPlaceholder reports whether a string contains any {{...}} reference.
func HasPlaceholder(s string) bool {
	return strings.Contains(s, "{{")
}

// ResolveString resolves all placeholders in a single string. Whole-field
// placeholders return the native value; otherwise the result is a string.
func (r *Resolver) ResolveString(s string, scope *Scope) any {
	if !HasPlaceholder(s) {
		return s
	}

	if m := wholeFieldRe.FindStringSubmatch(s); m != nil {
		path := strings.TrimSpace(m[1])
		if path == "" {
			return ""
		}
		val, ok := scope.Lookup(path)
		if !ok {
			return ""
		}
		return val
	}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "{{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}

		result.WriteString(s[i : i+idx])
		start := i + idx + 2

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			// Unclosed marker: authored text, not a reference.
			result.WriteString(s[i+idx:])
			break
		}
		end += start

		path := strings.TrimSpace(s[start:end])
		if val, ok := scope.Lookup(path); ok {
			result.WriteString(stringify(val))
		}
		// Unresolvable references contribute nothing.

		i = end + 2
	}

	return result.String()
}

// ResolveValue resolves placeholders recursively in any JSON-shaped value.
func (r *Resolver) ResolveValue(v any, scope *Scope) any {
	switch val := v.(type) {
	case string:
		return r.ResolveString(val, scope)
	case map[string]any:
		return r.ResolveMap(val, scope)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.ResolveValue(item, scope)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = stringify(r.ResolveString(s, scope))
		}
		return out
	default:
		return v
	}
}

// ResolveMap returns a copy of the map with every placeholder resolved.
// The input map is never mutated.
func (r *Resolver) ResolveMap(m map[string]any, scope *Scope) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = r.ResolveValue(v, scope)
	}
	return out
}

// stringify converts a resolved value to its embedded-string form.
func stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// traversePath walks nested maps and slices along dot-delimited segments.
// Slice segments must be decimal indexes.
func traversePath(root any, segments []string) (any, bool) {
	current := root
	for _, seg := range segments {
		if seg == "" {
			return nil, false
		}
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case map[string]string:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}
