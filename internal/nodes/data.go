package nodes

import (
	"context"

	"github.com/reivaj/flowstate/pkg/schema"
)

// DefaultOutputVariable receives a single-expression result when the node
// does not name one.
const DefaultOutputVariable = "result"

// DefaultEngine evaluates operations that do not select an engine.
const DefaultEngine = "expr"

// DataManipulationExecutor evaluates declarative expressions against the
// scope and writes results into named context variables. Supports the
// single-expression form and the ordered operations list.
type DataManipulationExecutor struct{}

func (e *DataManipulationExecutor) Type() schema.NodeType { return schema.NodeTypeDataManipulation }

func (e *DataManipulationExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.DataManipulationNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}

	ops := data.Operations
	if len(ops) == 0 {
		if data.Expression == "" {
			return errResult(schema.NewError(schema.ErrCodeConfiguration,
				"data_manipulation node has no expression"), ec.Node.ID), nil
		}
		variable := data.OutputVariable
		if variable == "" {
			variable = DefaultOutputVariable
		}
		ops = []schema.DataOperation{{
			Variable:   variable,
			Expression: data.Expression,
			Engine:     data.Engine,
		}}
	}

	env := ec.Scope.EvalEnv()
	output := make(map[string]any, len(ops))
	updates := make(map[string]any, len(ops))

	for _, op := range ops {
		if op.Variable == "" || op.Expression == "" {
			return errResult(schema.NewError(schema.ErrCodeConfiguration,
				"data_manipulation operation needs both variable and expression"), ec.Node.ID), nil
		}
		engineName := op.Engine
		if engineName == "" {
			engineName = data.Engine
		}
		if engineName == "" {
			engineName = DefaultEngine
		}
		engine, ok := ec.Deps.Engines[engineName]
		if !ok {
			return errResult(schema.NewErrorf(schema.ErrCodeConfiguration,
				"unknown expression engine %q", engineName), ec.Node.ID), nil
		}

		value, err := engine.Evaluate(ctx, op.Expression, env)
		if err != nil {
			return errResult(schema.NewErrorf(schema.ErrCodeExecution,
				"expression for %q failed", op.Variable).WithCause(err), ec.Node.ID), nil
		}

		output[op.Variable] = value
		updates[op.Variable] = value
		// Later operations see earlier results through the context.
		if ctxMap, ok := env["context"].(map[string]any); ok {
			ctxMap[op.Variable] = value
		}
	}

	return &Result{
		Output:         output,
		ContextUpdates: updates,
	}, nil
}
