package nodes

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/reivaj/flowstate/pkg/schema"
)

// ConditionExecutor evaluates the legacy single-check form (routing
// "true"/"false") or the ordered case-list form (routing the first matching
// index as a string, or "else").
type ConditionExecutor struct{}

func (e *ConditionExecutor) Type() schema.NodeType { return schema.NodeTypeCondition }

func (e *ConditionExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.ConditionNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}

	if len(data.Cases) > 0 {
		for i, c := range data.Cases {
			if evalCondition(ec, c.Variable, c.Operator, c.Value) {
				branch := strconv.Itoa(i)
				return &Result{
					Output: map[string]any{"matched": branch},
					Branch: branch,
				}, nil
			}
		}
		return &Result{
			Output: map[string]any{"matched": schema.HandleElse},
			Branch: schema.HandleElse,
		}, nil
	}

	if data.Variable == "" || data.Operator == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"condition node has neither a check nor cases"), ec.Node.ID), nil
	}

	matched := evalCondition(ec, data.Variable, data.Operator, data.Value)
	return &Result{
		Output: map[string]any{"result": matched},
		Branch: strconv.FormatBool(matched),
	}, nil
}

// evalCondition applies one operator to a variable reference. Coercion
// failures evaluate false rather than erroring.
func evalCondition(ec *ExecContext, variable, operator string, expected any) bool {
	actual, found := lookupVariable(ec, variable)

	switch operator {
	case schema.OpIsSet:
		return found && !isEmptyValue(actual)
	case schema.OpIsNotSet:
		return !found || isEmptyValue(actual)
	}
	if !found {
		return operator == schema.OpNotEquals && expected != nil
	}

	expectedResolved := ec.Resolver.ResolveValue(expected, ec.Scope)

	switch operator {
	case schema.OpEquals:
		return looseEquals(actual, expectedResolved)
	case schema.OpNotEquals:
		return !looseEquals(actual, expectedResolved)
	case schema.OpContains:
		return containsValue(actual, expectedResolved)
	case schema.OpGreaterThan:
		a, aok := asFloat(actual)
		b, bok := asFloat(expectedResolved)
		return aok && bok && a > b
	case schema.OpLessThan:
		a, aok := asFloat(actual)
		b, bok := asFloat(expectedResolved)
		return aok && bok && a < b
	default:
		return false
	}
}

// looseEquals compares case-insensitively for strings and numerically when
// both sides coerce to numbers.
func looseEquals(a, b any) bool {
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.EqualFold(strings.TrimSpace(as), strings.TrimSpace(bs))
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return stringifyValue(a) == stringifyValue(b)
}

func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(strings.ToLower(h), strings.ToLower(stringifyValue(needle)))
	case []any:
		for _, item := range h {
			if looseEquals(item, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := h[stringifyValue(needle)]
		return ok
	default:
		return false
	}
}

// CheckEntityExecutor branches "true"/"false" on whether a context variable
// is present and non-empty. An optional pattern additionally requires the
// value to match a regular expression.
type CheckEntityExecutor struct{}

func (e *CheckEntityExecutor) Type() schema.NodeType { return schema.NodeTypeCheckEntity }

func (e *CheckEntityExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.CheckEntityNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if data.Variable == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"check_entity node has no variable"), ec.Node.ID), nil
	}

	var re *regexp.Regexp
	if data.Pattern != "" {
		var err error
		re, err = regexp.Compile(data.Pattern)
		if err != nil {
			return errResult(schema.NewErrorf(schema.ErrCodeConfiguration,
				"check_entity node has invalid pattern %q", data.Pattern).WithCause(err), ec.Node.ID), nil
		}
	}

	val, found := lookupVariable(ec, data.Variable)
	present := found && !isEmptyValue(val)
	if present && re != nil {
		present = re.MatchString(stringifyValue(val))
	}
	return &Result{
		Output: map[string]any{"present": present, "value": val},
		Branch: strconv.FormatBool(present),
	}, nil
}
