// Package nodes implements one executor per workflow node type. Executors are
// pure with respect to engine state: they read the scope and return a Result;
// the runner applies context updates, records outputs, and routes.
package nodes

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/reivaj/flowstate/internal/expressions"
	"github.com/reivaj/flowstate/internal/knowledge"
	"github.com/reivaj/flowstate/internal/llm"
	"github.com/reivaj/flowstate/internal/script"
	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/internal/tools"
	"github.com/reivaj/flowstate/pkg/schema"
)

// TransitionFunc applies a validated session status change. Provided by the
// runner so status rules live in one place.
type TransitionFunc func(ctx context.Context, sessionID string, to schema.SessionStatus) error

// Deps bundles the collaborators node executors may call.
type Deps struct {
	LLM       llm.Client
	Tools     tools.Executor
	Knowledge knowledge.Searcher
	Sessions  store.SessionStore
	Messages  store.MessageStore
	Scripts   script.Runner
	Engines   map[string]expressions.Engine

	// HTTPClient serves http_request nodes. Nil falls back to a default
	// client with a conservative timeout.
	HTTPClient *http.Client

	Transition TransitionFunc
	Logger     *slog.Logger

	// DefaultModel applies when an llm node does not name one.
	DefaultModel string
	// HistoryWindow caps the chat history sent with llm completions.
	HistoryWindow int
}

// ExecContext is the per-invocation view handed to an executor.
type ExecContext struct {
	Node     *schema.Node
	Scope    *expressions.Scope
	Resolver *expressions.Resolver
	Session  *store.Session
	Input    schema.TurnInput

	// Resuming is true when this node is re-entered after a pause it
	// requested itself (entity collection flows).
	Resuming bool

	Deps *Deps
}

// Pause is a directive halting the turn until the next inbound message.
type Pause struct {
	Status            schema.OutcomeStatus
	Prompt            *schema.PromptPayload
	Form              *schema.FormPayload
	ExpectedInputType string

	// Variable is where the next turn's reply is written.
	Variable string

	// ResumeSelf re-enters this node on the next turn instead of advancing.
	ResumeSelf bool
}

// SubworkflowCall is a directive descending into another workflow.
type SubworkflowCall struct {
	WorkflowID     string
	OutputVariable string

	// Inputs were resolved in the caller's scope and seed the callee context.
	Inputs map[string]any
}

// Result is the uniform envelope every executor returns.
type Result struct {
	// Output is recorded under the node's ID for placeholder resolution.
	Output map[string]any

	// ContextUpdates are merged into the conversation context and persisted.
	ContextUpdates map[string]any

	// Branch is the selected handle on conditional-family nodes.
	Branch string

	// Message is a user-visible text emitted by response nodes.
	Message string

	// Err marks a failed execution. The router follows the node's "error"
	// edge when one exists.
	Err *schema.FlowError

	Pause       *Pause
	Subworkflow *SubworkflowCall
}

// Failed reports whether the node ended in error.
func (r *Result) Failed() bool { return r.Err != nil }

// Executor runs one node type.
type Executor interface {
	Type() schema.NodeType
	Execute(ctx context.Context, ec *ExecContext) (*Result, error)
}

// errResult wraps a FlowError as a routable node result.
func errResult(err *schema.FlowError, nodeID string) *Result {
	return &Result{Err: err.WithNode(nodeID)}
}
