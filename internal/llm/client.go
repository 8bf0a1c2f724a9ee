// Package llm provides the completion client used by AI-driven nodes. The
// production implementation is an HTTP gateway with retry and backoff; tests
// substitute scripted fakes.
package llm

import "context"

// Message is one chat message of the history window sent with a completion.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// ToolSpec describes a tool the model may call, in JSON Schema parameter form.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Attachment is a non-text input carried with the user turn.
type Attachment struct {
	Type string `json:"type"` // "image" or "file"
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// CompletionRequest defines one completion call.
type CompletionRequest struct {
	Model           string       `json:"model,omitempty"`
	System          string       `json:"system,omitempty"`
	History         []Message    `json:"history,omitempty"`
	User            string       `json:"user"`
	Tools           []ToolSpec   `json:"tools,omitempty"`
	KnowledgeBaseID string       `json:"knowledge_base_id,omitempty"`
	CompanyID       string       `json:"company_id,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`

	// Temperature controls randomness. Nil uses the gateway default.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// TokenUsage reports token consumption for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the result of one completion call.
type CompletionResponse struct {
	Content      string     `json:"content"`
	Model        string     `json:"model,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// Client produces completions. Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
