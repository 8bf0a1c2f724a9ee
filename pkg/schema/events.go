package schema

// Event type constants for the turn event stream.
const (
	EventTurnStarted   = "turn_started"
	EventTurnCompleted = "turn_completed"
	EventTurnPaused    = "turn_paused"
	EventTurnFailed    = "turn_failed"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"

	EventSubworkflowEntered = "subworkflow_entered"
	EventSubworkflowExited  = "subworkflow_exited"

	EventSessionReset    = "session_reset"
	EventSessionExpired  = "session_expired"
	EventResumeDiscarded = "resume_discarded"
)

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionStatusActive        SessionStatus = "active"
	SessionStatusWaitingInput  SessionStatus = "waiting_input"
	SessionStatusWaitingPrompt SessionStatus = "waiting_prompt"
	SessionStatusWaitingForm   SessionStatus = "waiting_form"
	SessionStatusCompleted     SessionStatus = "completed"
	SessionStatusHandedOff     SessionStatus = "handed_off"
	SessionStatusExpired       SessionStatus = "expired"
)

// MessageRole identifies the author of a stored conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)
