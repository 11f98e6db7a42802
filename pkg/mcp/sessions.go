package mcp

import "sync"

// SessionRegistry maps responder names to MCP session IDs.
// Populated by soarkit.subscribe.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // responder → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a responder with a session ID.
// If the responder already has a session, it is overwritten (reconnect).
func (r *SessionRegistry) Register(responder, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[responder] = sessionID
}

// SessionFor returns the session ID of the given responder, if connected.
func (r *SessionRegistry) SessionFor(responder string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[responder]
	return sid, ok
}

// Remove deletes all responder mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, name)
		}
	}
}
