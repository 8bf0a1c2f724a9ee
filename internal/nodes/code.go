package nodes

import (
	"context"
	"time"

	"github.com/reivaj/flowstate/internal/script"
	"github.com/reivaj/flowstate/pkg/schema"
)

// CodeExecutor runs an author-supplied script through the sandboxed script
// runner. Resolved inputs bind into the entry function's argument map and the
// returned map is captured back into context.
type CodeExecutor struct{}

func (e *CodeExecutor) Type() schema.NodeType { return schema.NodeTypeCode }

func (e *CodeExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.CodeNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if data.Source == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"code node has no source"), ec.Node.ID), nil
	}
	if ec.Deps.Scripts == nil {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"no script runner configured"), ec.Node.ID), nil
	}

	entry := data.Entry
	if entry == "" {
		entry = script.DefaultEntry
	}
	input := ec.Resolver.ResolveMap(data.Input, ec.Scope)

	// A node-level timeout tightens the runner's default through the context
	// deadline. Unparseable values fall back to the runner's own bound.
	if data.Timeout != "" {
		if d, err := time.ParseDuration(data.Timeout); err == nil && d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	output, err := ec.Deps.Scripts.Run(ctx, data.Source, entry, input)
	if err != nil {
		if flowErr, ok := err.(*schema.FlowError); ok {
			return errResult(flowErr, ec.Node.ID), nil
		}
		return errResult(schema.NewError(schema.ErrCodeExecution,
			"script execution failed").WithCause(err), ec.Node.ID), nil
	}

	return &Result{
		Output:         output,
		ContextUpdates: output,
	}, nil
}
