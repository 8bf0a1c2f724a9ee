package schema

// OutcomeStatus is the terminal state of a single engine turn.
type OutcomeStatus string

const (
	OutcomeCompleted       OutcomeStatus = "completed"
	OutcomePausedForInput  OutcomeStatus = "paused_for_input"
	OutcomePausedForPrompt OutcomeStatus = "paused_for_prompt"
	OutcomePausedForForm   OutcomeStatus = "paused_for_form"
	OutcomeError           OutcomeStatus = "error"
)

// PromptPayload is the question a paused prompt node presents to the user.
type PromptPayload struct {
	Text    string         `json:"text"`
	Options []PromptOption `json:"options,omitempty"`
}

// FormPayload is the structured form a paused form node presents.
type FormPayload struct {
	Title  string      `json:"title,omitempty"`
	Fields []FormField `json:"fields"`
}

// Outcome is what a turn returns to the transport layer. Messages holds the
// response-node texts emitted during the turn in order; Response is their
// joined form. Paused outcomes carry the texts accumulated before the pause
// so the transport can prepend them to the question.
type Outcome struct {
	Status            OutcomeStatus  `json:"status"`
	ConversationID    string         `json:"conversation_id"`
	Response          string         `json:"response,omitempty"`
	Messages          []string       `json:"messages,omitempty"`
	ExpectedInputType string         `json:"expected_input_type,omitempty"`
	Prompt            *PromptPayload `json:"prompt,omitempty"`
	Form              *FormPayload   `json:"form,omitempty"`
	Error             *FlowError     `json:"error,omitempty"`
}

// Paused reports whether the turn ended waiting for user input of any kind.
func (o *Outcome) Paused() bool {
	switch o.Status {
	case OutcomePausedForInput, OutcomePausedForPrompt, OutcomePausedForForm:
		return true
	}
	return false
}
