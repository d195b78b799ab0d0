package session

import (
	"context"
	"sync"
	"time"
)

const cleanupInterval = time.Minute

// MemoryStore is an in-memory session store for development mode and as the
// degraded-mode fallback behind a database-backed store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	stop     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store and starts its expiry janitor.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		stop:     make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *MemoryStore) Put(ctx context.Context, s *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.SessionID] = &memoryEntry{
		session:   s.Clone(),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if time.Now().After(entry.expiresAt) {
		// Lazy expiry; the janitor will reclaim the entry.
		return nil, ErrSessionNotFound
	}
	return entry.session.Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	result := make([]*Session, 0, len(m.sessions))
	for _, entry := range m.sessions {
		if now.After(entry.expiresAt) {
			continue
		}
		result = append(result, entry.session.Clone())
	}
	return result, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of live entries (expired entries excluded).
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, entry := range m.sessions {
		if !now.After(entry.expiresAt) {
			n++
		}
	}
	return n
}

// Stop terminates the expiry janitor.
func (m *MemoryStore) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryStore) removeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, entry := range m.sessions {
		if now.After(entry.expiresAt) {
			delete(m.sessions, id)
		}
	}
}
