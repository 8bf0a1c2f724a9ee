package engine

import (
	"context"

	"github.com/reivaj/flowstate/internal/nodes"
	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/pkg/schema"
)

// DefaultMaxSubworkflowDepth bounds nested subworkflow calls per conversation.
const DefaultMaxSubworkflowDepth = 5

// guardDescent rejects a subworkflow call that would exceed the depth limit
// or create a call cycle. The dynamic check inspects the live stack; the
// static check walks the callee's subworkflow nodes transitively so a graph
// that could route back into any workflow already on the stack is rejected
// before the first frame is pushed.
func (r *Runner) guardDescent(ctx context.Context, currentWorkflowID string, stack []store.StackFrame, call *nodes.SubworkflowCall) *schema.FlowError {
	if len(stack)+1 > r.cfg.MaxSubworkflowDepth {
		return schema.NewErrorf(schema.ErrCodeRecursion,
			"subworkflow depth limit %d exceeded", r.cfg.MaxSubworkflowDepth).
			WithDetails(map[string]any{"workflow_id": call.WorkflowID, "depth": len(stack) + 1})
	}

	active := map[string]bool{currentWorkflowID: true}
	for _, frame := range stack {
		active[frame.CalledWorkflowID] = true
		active[frame.ParentWorkflowID] = true
	}
	if active[call.WorkflowID] {
		return schema.NewErrorf(schema.ErrCodeRecursion,
			"workflow %s is already on the call stack", call.WorkflowID)
	}

	if err := r.checkStaticCycle(ctx, call.WorkflowID, active); err != nil {
		return err
	}
	return nil
}

// checkStaticCycle walks the callee's subworkflow nodes transitively and
// fails if any path can reach a workflow in the forbidden set. Workflows
// missing from the store are skipped here; the call itself fails later with
// a clearer error.
func (r *Runner) checkStaticCycle(ctx context.Context, calleeID string, forbidden map[string]bool) *schema.FlowError {
	visited := map[string]bool{}
	queue := []string{calleeID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		wf, err := r.workflows.GetWorkflow(ctx, id)
		if err != nil {
			continue
		}
		for i := range wf.Graph.Nodes {
			node := &wf.Graph.Nodes[i]
			if node.Type != schema.NodeTypeSubworkflow {
				continue
			}
			var data schema.SubworkflowNodeData
			if decodeErr := schema.DecodeNodeData(node.Data, &data); decodeErr != nil || data.WorkflowID == "" {
				continue
			}
			if forbidden[data.WorkflowID] {
				return schema.NewErrorf(schema.ErrCodeRecursion,
					"workflow %s can call back into %s", id, data.WorkflowID)
			}
			queue = append(queue, data.WorkflowID)
		}
	}
	return nil
}

// pushFrame records where the caller resumes once the callee completes.
func pushFrame(stack []store.StackFrame, call *nodes.SubworkflowCall, parentWorkflowID, parentNodeID, parentResumeNodeID string) []store.StackFrame {
	return append(stack, store.StackFrame{
		CalledWorkflowID:   call.WorkflowID,
		ParentWorkflowID:   parentWorkflowID,
		ParentNodeID:       parentNodeID,
		ParentResumeNodeID: parentResumeNodeID,
		OutputVariable:     call.OutputVariable,
		Depth:              len(stack) + 1,
	})
}
