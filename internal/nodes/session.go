package nodes

import (
	"context"

	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/pkg/schema"
)

// TagConversationExecutor adds resolved tags to the session.
type TagConversationExecutor struct{}

func (e *TagConversationExecutor) Type() schema.NodeType { return schema.NodeTypeTagConversation }

func (e *TagConversationExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.TagConversationNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if len(data.Tags) == 0 {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"tag_conversation node has no tags"), ec.Node.ID), nil
	}

	tags := make([]string, 0, len(data.Tags))
	for _, t := range data.Tags {
		resolved := stringifyValue(ec.Resolver.ResolveString(t, ec.Scope))
		if resolved != "" {
			tags = append(tags, resolved)
		}
	}
	if err := ec.Deps.Sessions.AddTags(ctx, ec.Session.ID, tags); err != nil {
		return errResult(schema.NewError(schema.ErrCodeStore,
			"tagging session failed").WithCause(err), ec.Node.ID), nil
	}

	return &Result{Output: map[string]any{"tags": tags}}, nil
}

// AssignToAgentExecutor hands the conversation to a human: records the
// assignee, disables AI handling, and moves the session to handed_off.
type AssignToAgentExecutor struct{}

func (e *AssignToAgentExecutor) Type() schema.NodeType { return schema.NodeTypeAssignToAgent }

func (e *AssignToAgentExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.AssignToAgentNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if data.AssigneeID == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"assign_to_agent node has no assignee"), ec.Node.ID), nil
	}

	assignee := stringifyValue(ec.Resolver.ResolveString(data.AssigneeID, ec.Scope))
	err := ec.Deps.Sessions.Update(ctx, ec.Session.ID, store.SessionUpdate{
		AssigneeID:  &assignee,
		IsAIEnabled: store.BoolPtr(false),
	})
	if err != nil {
		return errResult(schema.NewError(schema.ErrCodeStore,
			"assigning session failed").WithCause(err), ec.Node.ID), nil
	}
	if ec.Deps.Transition != nil {
		if err := ec.Deps.Transition(ctx, ec.Session.ID, schema.SessionStatusHandedOff); err != nil {
			if flowErr, ok := err.(*schema.FlowError); ok {
				return errResult(flowErr, ec.Node.ID), nil
			}
			return errResult(schema.NewError(schema.ErrCodeStore,
				"handoff transition failed").WithCause(err), ec.Node.ID), nil
		}
	}
	ec.Session.AssigneeID = assignee
	ec.Session.IsAIEnabled = false
	ec.Session.Status = schema.SessionStatusHandedOff

	return &Result{Output: map[string]any{"assignee_id": assignee}}, nil
}

// SetStatusExecutor applies a validated session status change.
type SetStatusExecutor struct{}

func (e *SetStatusExecutor) Type() schema.NodeType { return schema.NodeTypeSetStatus }

func (e *SetStatusExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.SetStatusNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if data.Status == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"set_status node has no status"), ec.Node.ID), nil
	}

	target := schema.SessionStatus(stringifyValue(ec.Resolver.ResolveString(data.Status, ec.Scope)))
	if ec.Deps.Transition == nil {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"no status transition handler configured"), ec.Node.ID), nil
	}
	if err := ec.Deps.Transition(ctx, ec.Session.ID, target); err != nil {
		if flowErr, ok := err.(*schema.FlowError); ok {
			return errResult(flowErr, ec.Node.ID), nil
		}
		return errResult(schema.NewError(schema.ErrCodeStore,
			"status transition failed").WithCause(err), ec.Node.ID), nil
	}
	ec.Session.Status = target

	return &Result{Output: map[string]any{"status": string(target)}}, nil
}
