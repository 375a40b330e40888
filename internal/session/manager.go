package session

import (
	"sync"

	"vibesync/internal/observability"
	"vibesync/internal/projection"
)

// Manager tracks the sessions running on this instance.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Add registers s.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
}

// Remove unregisters s and closes it.
func (m *Manager) Remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()
	s.Close()
}

// Len returns the number of running sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// InvalidateComments forwards a comment mutation to every session; those
// without the post's sheet open ignore it.
func (m *Manager) InvalidateComments(mut projection.CommentMutation) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.InvalidateComments(mut)
	}
}

// CloseAll closes every session, e.g. on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		observability.GlobalLogger.Info("closed sessions")
	}
}
