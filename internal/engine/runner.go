package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/reivaj/flowstate/internal/expressions"
	"github.com/reivaj/flowstate/internal/logging"
	"github.com/reivaj/flowstate/internal/nodes"
	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/internal/streaming"
	"github.com/reivaj/flowstate/pkg/schema"
)

// DefaultMaxNodesPerTurn bounds the execution loop of one turn. Conversation
// graphs may legitimately cycle (re-ask loops), so runaway routing is caught
// by budget rather than forbidden at authoring time.
const DefaultMaxNodesPerTurn = 200

// resultsContextKey is the reserved context-store key holding prior node
// outputs across pauses, so placeholder resolution behaves identically
// before and after a pause.
const resultsContextKey = "__node_results__"

// Notifier pushes intermediate response texts to the transport layer as they
// are emitted, one call per response node.
type Notifier interface {
	Notify(ctx context.Context, conversationID, text string) error
}

// WorkflowSelector picks the workflow for a conversation whose session has
// no active workflow (fresh conversation, or the previous run completed).
type WorkflowSelector func(ctx context.Context, in schema.TurnInput) (string, error)

// Config tunes the runner's execution limits.
type Config struct {
	MaxSubworkflowDepth int
	MaxNodesPerTurn     int
}

func (c Config) withDefaults() Config {
	if c.MaxSubworkflowDepth <= 0 {
		c.MaxSubworkflowDepth = DefaultMaxSubworkflowDepth
	}
	if c.MaxNodesPerTurn <= 0 {
		c.MaxNodesPerTurn = DefaultMaxNodesPerTurn
	}
	return c
}

// Deps are the collaborators a Runner orchestrates. Exec carries the
// collaborators handed to node executors; its Transition closure is filled
// in by NewRunner when unset.
type Deps struct {
	Workflows store.WorkflowStore
	Sessions  store.SessionStore
	Contexts  store.ContextStore
	Messages  store.MessageStore
	Registry  *nodes.Registry
	Exec      *nodes.Deps
	Hub       streaming.EventHub
	Notifier  Notifier
	Selector  WorkflowSelector
	Logger    *slog.Logger
}

// Runner is the continuation manager: it owns the pause/resume protocol and
// the subworkflow call stack, and drives one conversation turn per Run call.
type Runner struct {
	workflows store.WorkflowStore
	sessions  store.SessionStore
	contexts  store.ContextStore
	messages  store.MessageStore
	registry  *nodes.Registry
	exec      *nodes.Deps
	hub       streaming.EventHub
	notifier  Notifier
	selector  WorkflowSelector
	fsm       *SessionFSM
	locks     *conversationLocks
	resolver  *expressions.Resolver
	logger    *slog.Logger
	cfg       Config
}

// NewRunner wires a Runner. The session FSM is created here and injected
// into the node executor deps as the status transition closure.
func NewRunner(deps Deps, cfg Config) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fsm := NewSessionFSM(deps.Sessions, logger)
	if deps.Exec == nil {
		deps.Exec = &nodes.Deps{}
	}
	if deps.Exec.Transition == nil {
		deps.Exec.Transition = fsm.Transition
	}
	if deps.Exec.Logger == nil {
		deps.Exec.Logger = logger
	}
	return &Runner{
		workflows: deps.Workflows,
		sessions:  deps.Sessions,
		contexts:  deps.Contexts,
		messages:  deps.Messages,
		registry:  deps.Registry,
		exec:      deps.Exec,
		hub:       deps.Hub,
		notifier:  deps.Notifier,
		selector:  deps.Selector,
		fsm:       fsm,
		locks:     newConversationLocks(),
		resolver:  expressions.NewResolver(),
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// FSM exposes the session lifecycle state machine (used by the sweeper and
// the MCP session tool).
func (r *Runner) FSM() *SessionFSM { return r.fsm }

// turnState is the in-memory execution state of one Run call.
type turnState struct {
	sess      *store.Session
	graph     *schema.WorkflowGraph
	scope     *expressions.Scope
	deleted   []string
	responses []string
	resuming  bool
	lastOut   map[string]any
}

// Run executes one conversation turn: load or create the session, enter at
// the graph start or the persisted resume point, then execute and route
// until the loop pauses, completes, or fails. Turns for the same
// conversation serialize on a per-conversation lock.
func (r *Runner) Run(ctx context.Context, in schema.TurnInput) (*schema.Outcome, error) {
	if in.ConversationID == "" || in.CompanyID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"turn input requires conversation_id and company_id")
	}

	release := r.locks.acquire(in.CompanyID + "/" + in.ConversationID)
	defer release()

	ctx = logging.WithTurn(ctx, in.ConversationID, in.CompanyID)

	sess, err := r.loadOrCreateSession(ctx, in)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(ctx, sess.WorkflowID)

	if !sess.IsAIEnabled {
		r.logger.InfoContext(ctx, "turn skipped, session handed off to a human")
		return &schema.Outcome{Status: schema.OutcomeCompleted, ConversationID: in.ConversationID}, nil
	}

	if reply := in.ReplyValue(); reply != "" {
		r.appendMessage(ctx, in.ConversationID, schema.RoleUser, reply)
	}

	contextData, err := r.contexts.GetAll(ctx, sess.AgentID, sess.ID)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeStore)
	}

	t := &turnState{
		sess: sess,
		scope: &expressions.Scope{
			Context: contextData,
			Results: restoreResults(contextData),
			Input:   inputEnv(in),
		},
	}
	if t.scope.Context == nil {
		t.scope.Context = map[string]any{}
	}
	delete(t.scope.Context, resultsContextKey)

	cursor, err := r.enter(ctx, t, in)
	if err != nil {
		return r.failTurn(ctx, t, schema.AsFlowError(err, schema.ErrCodeRouting)), nil
	}

	return r.loop(ctx, t, in, cursor)
}

// enter determines the first node of the turn: the persisted resume point
// with the reply written into the remembered variable, or the graph start.
// A resume pointer referencing a node that no longer exists self-heals by
// discarding the paused state and restarting fresh.
func (r *Runner) enter(ctx context.Context, t *turnState, in schema.TurnInput) (string, error) {
	sess := t.sess

	if sess.ResumeNodeID != "" {
		wf, err := r.workflows.GetWorkflow(ctx, sess.WorkflowID)
		if err == nil {
			if node := wf.Graph.NodeByID(sess.ResumeNodeID); node != nil {
				t.graph = &wf.Graph
				t.resuming = true
				r.writeReply(t, in)
				if err := r.fsm.Transition(ctx, sess.ID, schema.SessionStatusActive); err != nil {
					r.logger.WarnContext(ctx, "resume status transition failed", "error", err)
				}
				sess.Status = schema.SessionStatusActive
				return sess.ResumeNodeID, nil
			}
		}
		// The workflow was edited or removed while paused: discard the
		// paused state and treat this as a fresh turn.
		r.logger.InfoContext(ctx, "stale resume pointer discarded",
			"resume_node_id", sess.ResumeNodeID)
		r.publish(ctx, streaming.StreamEvent{
			ConversationID: sess.ConversationID,
			WorkflowID:     sess.WorkflowID,
			NodeID:         sess.ResumeNodeID,
			EventType:      schema.EventResumeDiscarded,
		})
		if err := r.discardPausedState(ctx, sess); err != nil {
			return "", err
		}
		t.scope.Context = map[string]any{}
		t.scope.Results = map[string]map[string]any{}
	}

	if err := r.fsm.Transition(ctx, sess.ID, schema.SessionStatusActive); err != nil {
		r.logger.WarnContext(ctx, "activation transition failed", "error", err)
	}
	sess.Status = schema.SessionStatusActive

	workflowID := sess.WorkflowID
	if workflowID == "" {
		if r.selector == nil {
			return "", schema.NewError(schema.ErrCodeConfiguration,
				"session has no workflow and no selector is configured")
		}
		id, err := r.selector(ctx, in)
		if err != nil {
			return "", err
		}
		workflowID = id
	}

	wf, err := r.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	sess.WorkflowID = wf.ID
	t.graph = &wf.Graph

	return FindStart(t.graph)
}

// loop is the execute-and-route cycle, including the subworkflow trampoline.
func (r *Runner) loop(ctx context.Context, t *turnState, in schema.TurnInput, cursor string) (*schema.Outcome, error) {
	sess := t.sess

	for steps := 0; ; steps++ {
		if cursor == "" {
			done, next, err := r.popOrComplete(ctx, t)
			if err != nil {
				return r.failTurn(ctx, t, schema.AsFlowError(err, schema.ErrCodeStore)), nil
			}
			if done {
				return r.completeTurn(ctx, t)
			}
			cursor = next
			continue
		}

		if steps >= r.cfg.MaxNodesPerTurn {
			return r.failTurn(ctx, t, schema.NewErrorf(schema.ErrCodeRouting,
				"node budget of %d exhausted in one turn", r.cfg.MaxNodesPerTurn)), nil
		}

		node := t.graph.NodeByID(cursor)
		if node == nil {
			return r.failTurn(ctx, t, schema.NewErrorf(schema.ErrCodeRouting,
				"edge targets unknown node %q", cursor)), nil
		}

		exec, err := r.registry.Get(node.Type)
		if err != nil {
			return r.failTurn(ctx, t, schema.AsFlowError(err, schema.ErrCodeConfiguration).WithNode(node.ID)), nil
		}

		nodeCtx := logging.WithNodeID(ctx, node.ID)
		r.publish(ctx, streaming.StreamEvent{
			ConversationID: sess.ConversationID, WorkflowID: sess.WorkflowID,
			NodeID: node.ID, EventType: schema.EventNodeStarted,
		})

		res, execErr := exec.Execute(nodeCtx, &nodes.ExecContext{
			Node:     node,
			Scope:    t.scope,
			Resolver: r.resolver,
			Session:  sess,
			Input:    in,
			Resuming: t.resuming,
			Deps:     r.exec,
		})
		t.resuming = false
		if execErr != nil {
			res = &nodes.Result{Err: schema.AsFlowError(execErr, schema.ErrCodeExecution).WithNode(node.ID)}
		}

		r.applyResult(ctx, t, node, res)

		if res.Failed() {
			r.publish(ctx, streaming.StreamEvent{
				ConversationID: sess.ConversationID, WorkflowID: sess.WorkflowID,
				NodeID: node.ID, EventType: schema.EventNodeFailed,
				Payload: res.Err,
			})
			next := Next(t.graph, node, res)
			if next == "" {
				return r.failTurn(ctx, t, res.Err), nil
			}
			r.logger.WarnContext(nodeCtx, "node failed, following error edge",
				"error", res.Err, "next", next)
			cursor = next
			continue
		}

		r.publish(ctx, streaming.StreamEvent{
			ConversationID: sess.ConversationID, WorkflowID: sess.WorkflowID,
			NodeID: node.ID, EventType: schema.EventNodeCompleted,
		})

		if res.Pause != nil {
			return r.pauseTurn(ctx, t, node, res)
		}

		if res.Subworkflow != nil {
			next, ferr := r.descend(ctx, t, node, res)
			if ferr != nil {
				// Recursion errors never route through error edges.
				return r.failTurn(ctx, t, ferr), nil
			}
			cursor = next
			continue
		}

		cursor = Next(t.graph, node, res)
	}
}

// applyResult folds a node result into the turn state: context updates (nil
// values delete), recorded output, and any response emission.
func (r *Runner) applyResult(ctx context.Context, t *turnState, node *schema.Node, res *nodes.Result) {
	for k, v := range res.ContextUpdates {
		if v == nil {
			delete(t.scope.Context, k)
			t.deleted = append(t.deleted, k)
			continue
		}
		t.scope.Context[k] = v
	}
	if res.Output != nil {
		out := expressions.DeepCopyMap(res.Output)
		t.scope.Results[node.ID] = out
		t.lastOut = out
	}
	if res.Message != "" {
		t.responses = append(t.responses, res.Message)
		r.appendMessage(ctx, t.sess.ConversationID, schema.RoleAssistant, res.Message)
		if r.notifier != nil {
			if err := r.notifier.Notify(ctx, t.sess.ConversationID, res.Message); err != nil {
				r.logger.WarnContext(ctx, "notifier delivery failed", "error", err)
			}
		}
	}
}

// descend pushes a stack frame and switches execution into the callee.
// Returns the callee's entry node.
func (r *Runner) descend(ctx context.Context, t *turnState, node *schema.Node, res *nodes.Result) (string, *schema.FlowError) {
	sess := t.sess
	call := res.Subworkflow

	if ferr := r.guardDescent(ctx, sess.WorkflowID, sess.SubworkflowStack, call); ferr != nil {
		return "", ferr.WithNode(node.ID)
	}

	callee, err := r.workflows.GetWorkflow(ctx, call.WorkflowID)
	if err != nil {
		return "", schema.AsFlowError(err, schema.ErrCodeConfiguration).WithNode(node.ID)
	}
	start, err := FindStart(&callee.Graph)
	if err != nil {
		return "", schema.AsFlowError(err, schema.ErrCodeRouting).WithNode(node.ID)
	}

	// Where the caller resumes after the callee completes.
	parentResume := Next(t.graph, node, nil)

	sess.SubworkflowStack = pushFrame(sess.SubworkflowStack, call, sess.WorkflowID, node.ID, parentResume)
	for k, v := range call.Inputs {
		t.scope.Context[k] = v
	}
	sess.WorkflowID = callee.ID
	t.graph = &callee.Graph

	r.publish(ctx, streaming.StreamEvent{
		ConversationID: sess.ConversationID, WorkflowID: callee.ID,
		NodeID: node.ID, EventType: schema.EventSubworkflowEntered,
		Payload: map[string]any{"depth": len(sess.SubworkflowStack)},
	})
	return start, nil
}

// popOrComplete handles the loop running off the end of the current graph:
// with frames on the stack the caller resumes; with an empty stack the turn
// truly completes. Returns done=true when there is nothing left to run.
func (r *Runner) popOrComplete(ctx context.Context, t *turnState) (done bool, next string, err error) {
	sess := t.sess
	if len(sess.SubworkflowStack) == 0 {
		return true, "", nil
	}

	frame := sess.SubworkflowStack[len(sess.SubworkflowStack)-1]
	sess.SubworkflowStack = sess.SubworkflowStack[:len(sess.SubworkflowStack)-1]

	// The callee's node outputs become the caller-visible call result.
	if frame.OutputVariable != "" {
		t.scope.Context[frame.OutputVariable] = map[string]any{
			"output":  t.lastOut,
			"results": graphResults(t.graph, t.scope.Results),
		}
	}

	caller, loadErr := r.workflows.GetWorkflow(ctx, frame.ParentWorkflowID)
	if loadErr != nil {
		return false, "", loadErr
	}
	sess.WorkflowID = caller.ID
	t.graph = &caller.Graph

	r.publish(ctx, streaming.StreamEvent{
		ConversationID: sess.ConversationID, WorkflowID: caller.ID,
		NodeID: frame.ParentNodeID, EventType: schema.EventSubworkflowExited,
		Payload: map[string]any{"depth": frame.Depth},
	})
	return false, frame.ParentResumeNodeID, nil
}

// graphResults filters recorded node outputs down to the nodes of one graph.
func graphResults(g *schema.WorkflowGraph, results map[string]map[string]any) map[string]any {
	out := make(map[string]any)
	for _, n := range g.Nodes {
		if res, ok := results[n.ID]; ok {
			out[n.ID] = res
		}
	}
	return out
}

// pauseTurn persists the resume point and returns the pause outcome.
func (r *Runner) pauseTurn(ctx context.Context, t *turnState, node *schema.Node, res *nodes.Result) (*schema.Outcome, error) {
	sess := t.sess
	pause := res.Pause

	resumeAt := node.ID
	if !pause.ResumeSelf {
		resumeAt = Next(t.graph, node, res)
		if resumeAt == "" {
			return r.failTurn(ctx, t, schema.NewError(schema.ErrCodeConfiguration,
				"pause node has no outgoing edge").WithNode(node.ID)), nil
		}
	}

	variable := pause.Variable
	if variable == "" {
		variable = nodes.DefaultReplyVariable
	}

	if err := r.persistContext(ctx, t); err != nil {
		return r.failTurn(ctx, t, schema.AsFlowError(err, schema.ErrCodeStore)), nil
	}
	if err := r.sessions.SetResumePoint(ctx, sess.ID, sess.WorkflowID, resumeAt, variable); err != nil {
		return r.failTurn(ctx, t, schema.AsFlowError(err, schema.ErrCodeStore)), nil
	}
	if err := r.sessions.SetSubworkflowStack(ctx, sess.ID, sess.SubworkflowStack); err != nil {
		return r.failTurn(ctx, t, schema.AsFlowError(err, schema.ErrCodeStore)), nil
	}
	if err := r.fsm.Transition(ctx, sess.ID, pauseStatus(pause.Status)); err != nil {
		r.logger.WarnContext(ctx, "pause status transition failed", "error", err)
	}

	r.publish(ctx, streaming.StreamEvent{
		ConversationID: sess.ConversationID, WorkflowID: sess.WorkflowID,
		NodeID: node.ID, EventType: schema.EventTurnPaused,
		Payload: map[string]any{"resume_node_id": resumeAt},
	})

	return &schema.Outcome{
		Status:            pause.Status,
		ConversationID:    sess.ConversationID,
		Messages:          t.responses,
		Response:          strings.Join(t.responses, "\n"),
		ExpectedInputType: pause.ExpectedInputType,
		Prompt:            pause.Prompt,
		Form:              pause.Form,
	}, nil
}

// completeTurn archives the final context to the session row, wipes the live
// context store, clears the workflow and resume pointers, and returns the
// completion outcome.
func (r *Runner) completeTurn(ctx context.Context, t *turnState) (*schema.Outcome, error) {
	sess := t.sess

	if err := r.sessions.ArchiveContext(ctx, sess.ID, t.scope.Context); err != nil {
		return r.failTurn(ctx, t, schema.AsFlowError(err, schema.ErrCodeStore)), nil
	}
	if err := r.contexts.DeleteAll(ctx, sess.AgentID, sess.ID); err != nil {
		return r.failTurn(ctx, t, schema.AsFlowError(err, schema.ErrCodeStore)), nil
	}
	if err := r.sessions.SetResumePoint(ctx, sess.ID, "", "", ""); err != nil {
		return r.failTurn(ctx, t, schema.AsFlowError(err, schema.ErrCodeStore)), nil
	}
	if err := r.sessions.SetSubworkflowStack(ctx, sess.ID, nil); err != nil {
		return r.failTurn(ctx, t, schema.AsFlowError(err, schema.ErrCodeStore)), nil
	}
	if err := r.fsm.Transition(ctx, sess.ID, schema.SessionStatusCompleted); err != nil {
		r.logger.WarnContext(ctx, "completion status transition failed", "error", err)
	}

	r.publish(ctx, streaming.StreamEvent{
		ConversationID: sess.ConversationID, WorkflowID: sess.WorkflowID,
		EventType: schema.EventTurnCompleted,
	})

	return &schema.Outcome{
		Status:         schema.OutcomeCompleted,
		ConversationID: sess.ConversationID,
		Messages:       t.responses,
		Response:       strings.Join(t.responses, "\n"),
	}, nil
}

// failTurn surfaces a turn-level error without touching persisted state, so
// the previously persisted pause point (if any) stays intact.
func (r *Runner) failTurn(ctx context.Context, t *turnState, ferr *schema.FlowError) *schema.Outcome {
	r.logger.ErrorContext(ctx, "turn failed", "error", ferr)
	r.publish(ctx, streaming.StreamEvent{
		ConversationID: t.sess.ConversationID, WorkflowID: t.sess.WorkflowID,
		NodeID: ferr.NodeID, EventType: schema.EventTurnFailed,
		Payload: ferr,
	})
	return &schema.Outcome{
		Status:         schema.OutcomeError,
		ConversationID: t.sess.ConversationID,
		Messages:       t.responses,
		Response:       strings.Join(t.responses, "\n"),
		Error:          ferr,
	}
}

// Reset abandons the conversation's current run: pointers, stack, and
// context are cleared and the session returns to active.
func (r *Runner) Reset(ctx context.Context, conversationID, companyID string) error {
	release := r.locks.acquire(companyID + "/" + conversationID)
	defer release()

	sess, err := r.sessions.GetByConversation(ctx, conversationID, companyID)
	if err != nil {
		return err
	}
	if err := r.discardPausedState(ctx, sess); err != nil {
		return err
	}
	if err := r.sessions.Update(ctx, sess.ID, store.SessionUpdate{
		Status: store.StatusPtr(schema.SessionStatusActive),
	}); err != nil {
		return err
	}
	r.publish(ctx, streaming.StreamEvent{
		ConversationID: conversationID,
		WorkflowID:     sess.WorkflowID,
		EventType:      schema.EventSessionReset,
	})
	return nil
}

// discardPausedState clears the resume pointer, the subworkflow stack, and
// every live context entry for the session.
func (r *Runner) discardPausedState(ctx context.Context, sess *store.Session) error {
	if err := r.sessions.SetResumePoint(ctx, sess.ID, "", "", ""); err != nil {
		return err
	}
	if err := r.sessions.SetSubworkflowStack(ctx, sess.ID, nil); err != nil {
		return err
	}
	if err := r.contexts.DeleteAll(ctx, sess.AgentID, sess.ID); err != nil {
		return err
	}
	sess.WorkflowID = ""
	sess.ResumeNodeID = ""
	sess.VariableToSave = ""
	sess.SubworkflowStack = nil
	return nil
}

// persistContext mirrors the in-memory context into the context store,
// including recorded node outputs under the reserved results key.
func (r *Runner) persistContext(ctx context.Context, t *turnState) error {
	for _, key := range t.deleted {
		if err := r.contexts.Delete(ctx, t.sess.AgentID, t.sess.ID, key); err != nil {
			return err
		}
	}
	t.deleted = nil

	values := make(map[string]any, len(t.scope.Context)+1)
	for k, v := range t.scope.Context {
		values[k] = v
	}
	values[resultsContextKey] = resultsToMap(t.scope.Results)
	return r.contexts.SetAll(ctx, t.sess.AgentID, t.sess.ID, values)
}

func (r *Runner) loadOrCreateSession(ctx context.Context, in schema.TurnInput) (*store.Session, error) {
	sess, err := r.sessions.GetByConversation(ctx, in.ConversationID, in.CompanyID)
	if err == nil {
		return sess, nil
	}
	var ferr *schema.FlowError
	if !errors.As(err, &ferr) || ferr.Code != schema.ErrCodeNotFound {
		return nil, err
	}

	sess = &store.Session{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		CompanyID:      in.CompanyID,
		AgentID:        metadataString(in.Metadata, "agent_id"),
		ContactID:      metadataString(in.Metadata, "contact_id"),
		Channel:        in.Channel,
		Status:         schema.SessionStatusActive,
		IsAIEnabled:    true,
	}
	if err := r.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "session created", "session_id", sess.ID)
	return sess, nil
}

func (r *Runner) appendMessage(ctx context.Context, conversationID string, role schema.MessageRole, content string) {
	if r.messages == nil {
		return
	}
	err := r.messages.Append(ctx, &store.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "message append failed", "role", role, "error", err)
	}
}

func (r *Runner) publish(ctx context.Context, event streaming.StreamEvent) {
	if r.hub == nil {
		return
	}
	if err := r.hub.Publish(ctx, event); err != nil {
		r.logger.DebugContext(ctx, "event publish failed", "event", event.EventType, "error", err)
	}
}

// writeReply stores the resumed turn's input under the remembered variable,
// with attachments alongside when present.
func (r *Runner) writeReply(t *turnState, in schema.TurnInput) {
	variable := t.sess.VariableToSave
	if variable == "" {
		variable = nodes.DefaultReplyVariable
	}
	t.scope.Context[variable] = in.ReplyValue()
	if len(in.Attachments) > 0 {
		attachments := make([]any, 0, len(in.Attachments))
		for _, a := range in.Attachments {
			attachments = append(attachments, map[string]any{
				"type": a.Type, "url": a.URL, "name": a.Name,
			})
		}
		t.scope.Context[variable+"_attachments"] = attachments
	}
}

// inputEnv exposes the raw turn to expression engines as the "input" source.
func inputEnv(in schema.TurnInput) map[string]any {
	env := map[string]any{
		"text":       in.Text,
		"option_key": in.OptionKey,
		"channel":    in.Channel,
	}
	if len(in.Metadata) > 0 {
		env["metadata"] = in.Metadata
	}
	return env
}

// restoreResults rebuilds the prior-results map persisted under the reserved
// context key.
func restoreResults(contextData map[string]any) map[string]map[string]any {
	results := make(map[string]map[string]any)
	raw, ok := contextData[resultsContextKey].(map[string]any)
	if !ok {
		return results
	}
	for nodeID, v := range raw {
		if out, ok := v.(map[string]any); ok {
			results[nodeID] = out
		}
	}
	return results
}

func resultsToMap(results map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(results))
	for nodeID, res := range results {
		out[nodeID] = res
	}
	return out
}

func metadataString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
