package nodes

import (
	"context"

	"github.com/reivaj/flowstate/pkg/schema"
)

// SubworkflowExecutor emits a descent directive. The runner performs the
// depth and cycle checks, pushes the stack frame, and switches workflows;
// inputs are resolved here, in the caller's scope.
type SubworkflowExecutor struct{}

func (e *SubworkflowExecutor) Type() schema.NodeType { return schema.NodeTypeSubworkflow }

func (e *SubworkflowExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.SubworkflowNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if data.WorkflowID == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"subworkflow node has no workflow selected"), ec.Node.ID), nil
	}

	return &Result{
		Subworkflow: &SubworkflowCall{
			WorkflowID:     data.WorkflowID,
			OutputVariable: data.OutputVariable,
			Inputs:         ec.Resolver.ResolveMap(data.Inputs, ec.Scope),
		},
	}, nil
}
