package session

import (
	"context"
	"sync"
	"time"
)

// Store persists session state between turns.
type Store interface {
	// Load returns the state of id, or false when the session is unknown
	// or expired.
	Load(ctx context.Context, id string) (*State, bool, error)
	Save(ctx context.Context, st *State) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// DefaultMaxSessions bounds a MemoryStore created with maxSessions <= 0.
const DefaultMaxSessions = 10000

type memoryEntry struct {
	state    *State
	lastSeen time.Time
}

// MemoryStore keeps sessions in process memory. Sessions idle for longer
// than the TTL expire; when full, the least recently used one is evicted.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]*memoryEntry
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store with the given idle TTL. A zero TTL keeps
// sessions until they are evicted for space or deleted.
func NewMemoryStore(ttl time.Duration, maxSessions int) *MemoryStore {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &MemoryStore{
		entries:     make(map[string]*memoryEntry),
		ttl:         ttl,
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// Load implements Store. The returned state is a copy.
func (m *MemoryStore) Load(_ context.Context, id string) (*State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, false, nil
	}
	now := m.now()
	if m.expired(e, now) {
		delete(m.entries, id)
		return nil, false, nil
	}
	e.lastSeen = now
	return e.state.Clone(), true, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, st *State) error {
	if st == nil || st.SessionID == "" {
		return ErrInvalidSessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[st.SessionID]; !exists && len(m.entries) >= m.maxSessions {
		m.evictLRU()
	}
	m.entries[st.SessionID] = &memoryEntry{state: st.Clone(), lastSeen: m.now()}
	return nil
}

// Delete implements Store. Deleting an unknown session is a no-op.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry)
	return nil
}

// Len returns the number of stored sessions, expired ones included until
// the next Sweep.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep removes expired sessions and returns how many it removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for id, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *MemoryStore) expired(e *memoryEntry, now time.Time) bool {
	return m.ttl > 0 && now.Sub(e.lastSeen) > m.ttl
}

// evictLRU removes the least recently seen session.
// Caller must hold the lock.
func (m *MemoryStore) evictLRU() {
	var (
		oldestID   string
		oldestTime time.Time
		first      = true
	)
	for id, e := range m.entries {
		if first || e.lastSeen.Before(oldestTime) {
			oldestID, oldestTime, first = id, e.lastSeen, false
		}
	}
	if oldestID != "" {
		delete(m.entries, oldestID)
	}
}
