package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/reivaj/flowstate/internal/store"
	"github.com/reivaj/flowstate/pkg/schema"
)

// TransitionHook is called before or after a session status transition.
type TransitionHook func(from, to schema.SessionStatus) error

// ValidSessionTransitions defines the allowed session lifecycle moves.
// Completed, handed-off and expired sessions reactivate on the next inbound
// turn; the row is never terminal because the conversation itself is not.
var ValidSessionTransitions = map[schema.SessionStatus][]schema.SessionStatus{
	schema.SessionStatusActive: {
		schema.SessionStatusWaitingInput, schema.SessionStatusWaitingPrompt,
		schema.SessionStatusWaitingForm, schema.SessionStatusCompleted,
		schema.SessionStatusHandedOff, schema.SessionStatusExpired,
	},
	schema.SessionStatusWaitingInput: {
		schema.SessionStatusActive, schema.SessionStatusCompleted,
		schema.SessionStatusHandedOff, schema.SessionStatusExpired,
	},
	schema.SessionStatusWaitingPrompt: {
		schema.SessionStatusActive, schema.SessionStatusCompleted,
		schema.SessionStatusHandedOff, schema.SessionStatusExpired,
	},
	schema.SessionStatusWaitingForm: {
		schema.SessionStatusActive, schema.SessionStatusCompleted,
		schema.SessionStatusHandedOff, schema.SessionStatusExpired,
	},
	schema.SessionStatusCompleted: {
		schema.SessionStatusActive, schema.SessionStatusHandedOff,
	},
	schema.SessionStatusHandedOff: {
		schema.SessionStatusActive,
	},
	schema.SessionStatusExpired: {
		schema.SessionStatusActive,
	},
}

type hookKey struct {
	from, to schema.SessionStatus
}

// SessionFSM validates and persists session lifecycle transitions. Nodes that
// mutate status (set_status, assign_to_agent) go through here via the
// runner-injected transition closure.
type SessionFSM struct {
	mu       sync.Mutex
	sessions store.SessionStore
	logger   *slog.Logger
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewSessionFSM creates a SessionFSM persisting through the given store.
func NewSessionFSM(sessions store.SessionStore, logger *slog.Logger) *SessionFSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionFSM{
		sessions: sessions,
		logger:   logger,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a matching transition persists.
func (f *SessionFSM) OnBefore(from, to schema.SessionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a matching transition persists.
func (f *SessionFSM) OnAfter(from, to schema.SessionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition moves a session to the target status. Same-status transitions
// are no-ops. Invalid moves return INVALID_TRANSITION without touching the
// store.
func (f *SessionFSM) Transition(ctx context.Context, sessionID string, to schema.SessionStatus) error {
	sess, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	from := sess.Status
	if from == to {
		return nil
	}
	if !isValidSessionTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid session transition: %s -> %s", from, to).
			WithDetails(map[string]any{"session_id": sessionID, "from": string(from), "to": string(to)})
	}

	f.mu.Lock()
	key := hookKey{from, to}
	before := f.before[key]
	after := f.after[key]
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if err := f.sessions.SetStatus(ctx, sessionID, string(to)); err != nil {
		return err
	}
	f.logger.DebugContext(ctx, "session status changed",
		"session_id", sessionID, "from", from, "to", to)

	for _, hook := range after {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

func isValidSessionTransition(from, to schema.SessionStatus) bool {
	for _, a := range ValidSessionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// pauseStatus maps a pause outcome to the session status persisted with it.
func pauseStatus(s schema.OutcomeStatus) schema.SessionStatus {
	switch s {
	case schema.OutcomePausedForPrompt:
		return schema.SessionStatusWaitingPrompt
	case schema.OutcomePausedForForm:
		return schema.SessionStatusWaitingForm
	default:
		return schema.SessionStatusWaitingInput
	}
}
