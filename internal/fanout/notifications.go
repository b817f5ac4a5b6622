package fanout

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/omochice/socket-feed/pkg/protocol"
)

// NotificationStore persists like and comment notifications before they are pushed.
type NotificationStore interface {
	Create(ctx context.Context, n protocol.Notification) (protocol.Notification, error)
	List(ctx context.Context, recipient string, limit int) ([]protocol.Notification, error)
}

// MemoryNotificationStore keeps notifications in process memory.
type MemoryNotificationStore struct {
	mu    sync.Mutex
	items map[string][]protocol.Notification
	now   func() time.Time
}

var _ NotificationStore = (*MemoryNotificationStore)(nil)

func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{items: make(map[string][]protocol.Notification), now: time.Now}
}

func (s *MemoryNotificationStore) Create(_ context.Context, n protocol.Notification) (protocol.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = ulid.Make().String()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	s.items[n.Recipient] = append(s.items[n.Recipient], n)
	return n, nil
}

// List returns the newest notifications of recipient first.
func (s *MemoryNotificationStore) List(_ context.Context, recipient string, limit int) ([]protocol.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]protocol.Notification(nil), s.items[recipient]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
