package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"legal-agent/internal/domain"
)

// ErrSessionNotFound is returned for unknown, ended or expired sessions.
var ErrSessionNotFound = errors.New("repository: session not found")

const DefaultIdleTTL = 60 * time.Minute

type memoryEntry struct {
	session domain.Session
	expires time.Time
}

// MemoryStore keeps sessions in process memory. Values are deep-copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	idleTTL  time.Duration
	now      func() time.Time
}

func NewMemoryStore(idleTTL time.Duration) *MemoryStore {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(sessionID)
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}
	return e.session.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s domain.Session) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: Save: session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	stored := s.Clone()
	// Conversation turns are only ever added through AppendTurns.
	if e, ok := m.sessions[s.ID]; ok {
		stored.Conversation = e.session.Conversation
	} else {
		stored.Conversation = nil
	}
	m.sessions[s.ID] = memoryEntry{session: stored, expires: m.now().Add(m.idleTTL)}
	return nil
}

func (m *MemoryStore) AppendTurns(_ context.Context, sessionID string, turns ...domain.ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.session.Conversation = e.session.Conversation.Append(turns...)
	e.session.LastActivity = m.now().UTC()
	e.expires = m.now().Add(m.idleTTL)
	m.sessions[sessionID] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// live returns the entry for id unless it has expired. Caller holds mu.
func (m *MemoryStore) live(id string) (memoryEntry, bool) {
	e, ok := m.sessions[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(e.expires) {
		delete(m.sessions, id)
		return memoryEntry{}, false
	}
	return e, true
}

// sweep drops expired sessions. Caller holds mu.
func (m *MemoryStore) sweep() {
	now := m.now()
	for id, e := range m.sessions {
		if !now.Before(e.expires) {
			delete(m.sessions, id)
		}
	}
}
