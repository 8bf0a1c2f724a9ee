package nodes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/reivaj/flowstate/internal/expressions"
)

// stringifyValue renders a resolved value as user-visible text.
func stringifyValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// lookupVariable resolves a node-config variable reference. Accepts a
// placeholder ("{{context.x}}"), a dotted scope path ("lookup.body.id"), or a
// bare context variable name ("x").
func lookupVariable(ec *ExecContext, ref string) (any, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	if expressions.HasPlaceholder(ref) {
		val := ec.Resolver.ResolveString(ref, ec.Scope)
		if s, ok := val.(string); ok && s == "" {
			return nil, false
		}
		return val, true
	}
	if val, ok := ec.Scope.Lookup(ref); ok {
		return val, true
	}
	return ec.Scope.Lookup("context." + ref)
}

// asFloat coerces a value to float64 for numeric comparison.
func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// isEmptyValue reports whether a context value counts as unset.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
