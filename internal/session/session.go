// Package session tracks registered client sessions on the server.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// DefaultCleanupInterval is how often expired sessions are swept.
const DefaultCleanupInterval = time.Minute

// Session holds the public parameters a client registered.
type Session struct {
	ID           string
	PublicParams []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccessAt time.Time
}

// Manager manages client sessions in memory.
type Manager struct {
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

// NewManager creates a session manager whose sessions live for ttl.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// SetClock replaces the time source. For tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Run sweeps expired sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// Create registers publicParams under a new random (version 4) uuid.
func (m *Manager) Create(publicParams []byte) (*Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s := &Session{
		ID:           id.String(),
		PublicParams: publicParams,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		LastAccessAt: now,
	}
	m.sessions[s.ID] = s
	return s, nil
}

// Get retrieves a session by ID and marks it accessed.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := m.now()
	if now.After(s.ExpiresAt) {
		delete(m.sessions, id)
		return nil, ErrSessionExpired
	}
	s.LastAccessAt = now
	return s, nil
}

// Valid reports whether id names a live session.
func (m *Manager) Valid(id string) bool {
	if _, err := uuid.Parse(id); err != nil {
		return false
	}
	_, err := m.Get(id)
	return err == nil
}

// Delete removes a session.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of stored sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes expired sessions and returns how many it removed.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
