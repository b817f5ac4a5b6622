// Package presence reference-counts live connections per user and reports
// online/offline transitions only at the 0<->1 boundary.
package presence

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 64

// Transition is called when a user goes online (first connection) or offline
// (last connection closed). It runs while the user's shard lock is held, so
// transitions of one user are observed in counter order.
type Transition func(ctx context.Context, userID string, online bool)

// Registry serializes Increment/Decrement per user id over a Store. Different
// users hashing to different shards never wait on each other.
type Registry struct {
	store        Store
	shards       [shardCount]sync.Mutex
	onTransition Transition
}

// Option configures a Registry.
type Option func(*Registry)

// WithTransition installs the online/offline hook.
func WithTransition(fn Transition) Option {
	return func(r *Registry) { r.onTransition = fn }
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) shard(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.shards[h.Sum32()%shardCount]
}

// Increment counts a new connection and reports whether it is the user's first.
func (r *Registry) Increment(ctx context.Context, userID string) (bool, error) {
	mu := r.shard(userID)
	mu.Lock()
	defer mu.Unlock()

	n, err := r.store.Incr(ctx, userID)
	if err != nil {
		return false, err
	}
	first := n == 1
	if first && r.onTransition != nil {
		r.onTransition(ctx, userID, true)
	}
	return first, nil
}

// Decrement removes a connection and reports whether it was the user's last.
// Decrementing a user with no counted connection is a no-op returning false.
func (r *Registry) Decrement(ctx context.Context, userID string) (bool, error) {
	mu := r.shard(userID)
	mu.Lock()
	defer mu.Unlock()

	n, existed, err := r.store.Decr(ctx, userID)
	if err != nil {
		return false, err
	}
	last := existed && n == 0
	if last && r.onTransition != nil {
		r.onTransition(ctx, userID, false)
	}
	return last, nil
}

// Count returns the user's live connection count.
func (r *Registry) Count(ctx context.Context, userID string) (int64, error) {
	return r.store.Count(ctx, userID)
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.store.Count(ctx, userID)
	return n > 0, err
}

// OnlineUsers lists the users that are currently online.
func (r *Registry) OnlineUsers(ctx context.Context) ([]string, error) {
	return r.store.Online(ctx)
}
