package mcp

import "sync"

// SessionRegistry maps conversation IDs to MCP session IDs. Populated
// automatically when a client delivers a turn for a conversation.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // conversationID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a conversation with a session ID. A conversation that
// reconnects over a new session overwrites the old mapping.
func (r *SessionRegistry) Register(conversationID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[conversationID] = sessionID
}

// SessionFor returns the session ID driving the given conversation.
func (r *SessionRegistry) SessionFor(conversationID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[conversationID]
	return sid, ok
}

// Remove deletes all conversation mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, cid)
		}
	}
}
