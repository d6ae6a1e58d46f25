package session

import "sync"

// Registry maps device ids to their single live session.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session)}
}

// Bind registers s as the device's live session and returns the evicted
// predecessor, if any. The caller closes the predecessor outside the
// registry lock.
func (r *Registry) Bind(deviceID int64, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[deviceID]
	r.sessions[deviceID] = s
	return prev
}

// UnbindIf removes the device's entry only if it still holds s, so a
// teardown racing a rebind never removes the successor. Reports whether
// the entry was removed.
func (r *Registry) UnbindIf(deviceID int64, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[deviceID] != s {
		return false
	}
	delete(r.sessions, deviceID)
	return true
}

// Lookup returns the device's live session, or nil if it is offline.
func (r *Registry) Lookup(deviceID int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[deviceID]
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// OnlineIDs returns a snapshot of the device ids that are online.
func (r *Registry) OnlineIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
