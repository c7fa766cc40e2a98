package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"inquest/internal/metrics"
)

// Store is the pluggable session backend. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create makes a new session. An empty id asks the store to generate one.
	Create(ctx context.Context, id string) (*Session, error)
	// Get returns the session or ErrNotFound / ErrExpired.
	Get(ctx context.Context, id string) (*Session, error)
	// Put persists the session, stamping UpdatedAt.
	Put(ctx context.Context, s *Session) error
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
}

func newSession(id string, ttl time.Duration) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ttl > 0 {
		s.ExpiresAt = now.Add(ttl)
	}
	return s
}

// MemoryStore is the single-instance backend: a mutex-guarded map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewMemoryStore creates an in-memory store. ttl of zero disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

func (m *MemoryStore) Create(ctx context.Context, id string) (*Session, error) {
	s := newSession(id, m.ttl)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.SessionsCreated.Inc()
	return s, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.IsExpired() {
		_ = m.Delete(ctx, id)
		return nil, ErrExpired
	}
	// Hand out a copy so callers mutate their own view until Put.
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Put(ctx context.Context, s *Session) error {
	s.UpdatedAt = time.Now()
	cp := *s
	m.mu.Lock()
	m.sessions[s.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}
