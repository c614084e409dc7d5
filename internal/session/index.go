package session

import "sync"

// SessionIndex is an in-memory secondary index over the Manager's session
// map, giving O(1) status-filtered lookups for list_sessions without
// scanning every entry. Unlike the teacher's index this is never persisted
// to disk: spec.md's durable-storage non-goal rules out a sessions_index
// file the way the teacher wrote one.
type SessionIndex struct {
	mu       sync.RWMutex
	byStatus map[Status]map[string]bool
	status   map[string]Status
}

// NewSessionIndex creates an empty in-memory session index.
func NewSessionIndex() *SessionIndex {
	return &SessionIndex{
		byStatus: make(map[Status]map[string]bool),
		status:   make(map[string]Status),
	}
}

// Add records sessionID under status, replacing any prior entry.
func (idx *SessionIndex) Add(sessionID string, status Status) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, exists := idx.status[sessionID]; exists {
		idx.removeFromStatus(sessionID, old)
	}
	idx.status[sessionID] = status
	idx.addToStatus(sessionID, status)
}

// UpdateStatus moves sessionID to newStatus. No-op if sessionID is unknown.
func (idx *SessionIndex) UpdateStatus(sessionID string, newStatus Status) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	old, exists := idx.status[sessionID]
	if !exists {
		return
	}
	idx.removeFromStatus(sessionID, old)
	idx.status[sessionID] = newStatus
	idx.addToStatus(sessionID, newStatus)
}

// Remove deletes sessionID from the index entirely.
func (idx *SessionIndex) Remove(sessionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	old, exists := idx.status[sessionID]
	if !exists {
		return
	}
	idx.removeFromStatus(sessionID, old)
	delete(idx.status, sessionID)
}

// GetByStatus returns the session ids currently at the given status.
func (idx *SessionIndex) GetByStatus(status Status) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.byStatus[status]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Count returns the total number of indexed sessions.
func (idx *SessionIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.status)
}

func (idx *SessionIndex) addToStatus(sessionID string, status Status) {
	if idx.byStatus[status] == nil {
		idx.byStatus[status] = make(map[string]bool)
	}
	idx.byStatus[status][sessionID] = true
}

func (idx *SessionIndex) removeFromStatus(sessionID string, status Status) {
	if idx.byStatus[status] != nil {
		delete(idx.byStatus[status], sessionID)
	}
}
