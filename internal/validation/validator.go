package validation

import "github.com/reivaj/flowstate/pkg/schema"

// WorkflowLookup answers whether a workflow ID can be resolved. Used to
// verify subworkflow references at authoring time; may be nil to skip.
type WorkflowLookup interface {
	Has(workflowID string) bool
}

// GraphValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node configs, edge endpoints, branch handles)
// 3. Graph (unique start, reachability)
type GraphValidator struct {
	jsonSchema *JSONSchemaValidator
	workflows  WorkflowLookup
}

// NewGraphValidator creates a GraphValidator. lookup may be nil to skip
// subworkflow existence checks.
func NewGraphValidator(lookup WorkflowLookup) (*GraphValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{
		jsonSchema: jsv,
		workflows:  lookup,
	}, nil
}

// Validate runs the full 3-stage pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and graph stages are skipped.
// Cycles are NOT an error; conversation graphs may loop back to re-ask.
func (gv *GraphValidator) Validate(g *schema.WorkflowGraph) *schema.ValidationResult {
	if g == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow graph is nil")
		return r
	}

	result := validateStructural(gv.jsonSchema, g)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(g, gv.workflows))

	// Graph stage needs valid edge endpoints, which semantic guarantees.
	if result.Valid() {
		result.Merge(validateGraph(g))
	}

	return result
}

// ValidateGraph returns a FlowError if the graph is invalid, nil otherwise.
func (gv *GraphValidator) ValidateGraph(g *schema.WorkflowGraph) error {
	return gv.Validate(g).ToError()
}

// validateStructural wraps JSONSchemaValidator.ValidateGraph, converting its
// error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateGraph(g)
	if err == nil {
		return result
	}

	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if fe.Details != nil {
		if violations, ok := fe.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}
