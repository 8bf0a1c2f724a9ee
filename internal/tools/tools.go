// Package tools executes named business tools on behalf of tool nodes and
// model-requested tool calls. A per-tool circuit breaker shields the engine
// from repeatedly failing backends.
package tools

import "context"

// Call is one tool invocation with resolved parameters.
type Call struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	CompanyID  string         `json:"company_id,omitempty"`
}

// Executor runs tool calls. Implementations must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, call Call) (map[string]any, error)
}
