package presence_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/socket-feed/internal/presence"
)

type transition struct {
	userID string
	online bool
}

type recorder struct {
	mu     sync.Mutex
	events []transition
}

func (r *recorder) hook(_ context.Context, userID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, transition{userID: userID, online: online})
}

func (r *recorder) snapshot() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.events...)
}

func stores(t *testing.T) map[string]func() presence.Store {
	return map[string]func() presence.Store{
		"memory": func() presence.Store { return presence.NewMemoryStore() },
		"redis": func() presence.Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return presence.NewRedisStore(rdb, "test:presence:")
		},
	}
}

func TestRegistry_TwoTabs(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &recorder{}
			reg := presence.NewRegistry(newStore(), presence.WithTransition(rec.hook))

			first, err := reg.Increment(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, first)

			first, err = reg.Increment(ctx, "alice")
			require.NoError(t, err)
			assert.False(t, first)

			n, err := reg.Count(ctx, "alice")
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)

			last, err := reg.Decrement(ctx, "alice")
			require.NoError(t, err)
			assert.False(t, last)
			online, err := reg.IsOnline(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, online)

			last, err = reg.Decrement(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, last)

			n, err = reg.Count(ctx, "alice")
			require.NoError(t, err)
			assert.Zero(t, n)

			assert.Equal(t, []transition{{"alice", true}, {"alice", false}}, rec.snapshot())
		})
	}
}

func TestRegistry_DecrementWithoutConnectionIsNoop(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &recorder{}
			reg := presence.NewRegistry(newStore(), presence.WithTransition(rec.hook))

			last, err := reg.Decrement(ctx, "ghost")
			require.NoError(t, err)
			assert.False(t, last)

			n, err := reg.Count(ctx, "ghost")
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Empty(t, rec.snapshot())

			first, err := reg.Increment(ctx, "ghost")
			require.NoError(t, err)
			assert.True(t, first, "count must not have gone negative")
		})
	}
}

func TestRegistry_ConcurrentConnects(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &recorder{}
			reg := presence.NewRegistry(newStore(), presence.WithTransition(rec.hook))

			const users, tabs = 5, 20
			var wg sync.WaitGroup
			for u := 0; u < users; u++ {
				for i := 0; i < tabs; i++ {
					wg.Add(1)
					go func(id string) {
						defer wg.Done()
						_, err := reg.Increment(ctx, id)
						assert.NoError(t, err)
						_, err = reg.Decrement(ctx, id)
						assert.NoError(t, err)
					}(fmt.Sprintf("user-%d", u))
				}
			}
			wg.Wait()

			online, err := reg.OnlineUsers(ctx)
			require.NoError(t, err)
			assert.Empty(t, online)

			perUser := map[string][]bool{}
			for _, ev := range rec.snapshot() {
				perUser[ev.userID] = append(perUser[ev.userID], ev.online)
			}
			for id, seq := range perUser {
				require.NotEmpty(t, seq, id)
				require.Zero(t, len(seq)%2, "unbalanced transitions for %s", id)
				for i, online := range seq {
					assert.Equal(t, i%2 == 0, online, "transitions for %s must alternate", id)
				}
			}
		})
	}
}

func TestRegistry_OnlineUsers(t *testing.T) {
	ctx := context.Background()
	reg := presence.NewRegistry(presence.NewMemoryStore())

	for _, id := range []string{"carol", "alice", "bob", "alice"} {
		_, err := reg.Increment(ctx, id)
		require.NoError(t, err)
	}
	_, err := reg.Decrement(ctx, "bob")
	require.NoError(t, err)

	online, err := reg.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, online)
}
