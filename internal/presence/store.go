package presence

import (
	"context"
	"sort"
	"sync"
)

// Store keeps the live connection count per user. Implementations must make
// each call atomic for a given id; the Registry serializes calls per id on top.
type Store interface {
	// Incr adds one connection and returns the new count.
	Incr(ctx context.Context, userID string) (int64, error)
	// Decr removes one connection and returns the remaining count. existed is
	// false when the user had no counted connection; the count never goes below 0
	// and the key is removed when it reaches 0.
	Decr(ctx context.Context, userID string) (remaining int64, existed bool, err error)
	// Count returns the live connection count.
	Count(ctx context.Context, userID string) (int64, error)
	// Online lists users with at least one connection.
	Online(ctx context.Context) ([]string, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

func (m *MemoryStore) Incr(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[userID]++
	return m.counts[userID], nil
}

func (m *MemoryStore) Decr(_ context.Context, userID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count, ok := m.counts[userID]
	if !ok {
		return 0, false, nil
	}
	if count <= 1 {
		delete(m.counts, userID)
		return 0, true, nil
	}
	m.counts[userID] = count - 1
	return count - 1, true, nil
}

func (m *MemoryStore) Count(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[userID], nil
}

func (m *MemoryStore) Online(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.counts))
	for id := range m.counts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
