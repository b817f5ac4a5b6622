package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/socket-feed/internal/reconcile"
	"github.com/omochice/socket-feed/pkg/protocol"
)

// fakeLister serves posts newest first, the way the read side does.
type fakeLister struct {
	mu    sync.Mutex
	posts []protocol.Post
	calls []int
	gate  chan struct{}
	err   error
}

func newFakeLister(n int) *fakeLister {
	l := &fakeLister{}
	for i := n; i >= 1; i-- {
		l.posts = append(l.posts, post(fmt.Sprintf("p%d", i), "bob"))
	}
	return l
}

func post(id, author string) protocol.Post {
	return protocol.Post{ID: id, Author: protocol.UserRef{ID: author}, Content: "content " + id}
}

func (l *fakeLister) prepend(p protocol.Post) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.posts = append([]protocol.Post{p}, l.posts...)
}

func (l *fakeLister) ListItems(ctx context.Context, page, pageSize int) (reconcile.Page, error) {
	l.mu.Lock()
	l.calls = append(l.calls, page)
	gate, err := l.gate, l.err
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return reconcile.Page{}, ctx.Err()
		}
	}
	if err != nil {
		return reconcile.Page{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	total := (len(l.posts) + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start >= len(l.posts) {
		return reconcile.Page{Page: page, TotalPages: total}, nil
	}
	end := min(start+pageSize, len(l.posts))
	return reconcile.Page{
		Items:      append([]protocol.Post(nil), l.posts[start:end]...),
		Page:       page,
		TotalPages: total,
	}, nil
}

func (l *fakeLister) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func frameOf(t *testing.T, kind protocol.Kind, payload any) protocol.Frame {
	t.Helper()
	data, err := protocol.Envelope{Kind: kind, Payload: payload}.Encode()
	require.NoError(t, err)
	frame, err := protocol.Decode(data)
	require.NoError(t, err)
	return frame
}

func ids(posts []protocol.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestFeed_ResyncLoadsFirstPage(t *testing.T) {
	lister := newFakeLister(12)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()

	require.NoError(t, feed.Resync(ctx))

	snap := feed.Snapshot()
	assert.Equal(t, []string{"p12", "p11", "p10", "p9", "p8"}, ids(snap.Items))
	assert.Equal(t, 2, snap.NextPage)
	assert.False(t, snap.End)
	assert.Equal(t, reconcile.Idle, snap.State)
	assert.False(t, snap.PendingResync)
}

func TestFeed_ResyncIsIdempotent(t *testing.T) {
	lister := newFakeLister(12)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()

	require.NoError(t, feed.Resync(ctx))
	require.NoError(t, feed.LoadMore(ctx))
	require.NoError(t, feed.Resync(ctx))
	first := feed.Snapshot()
	firstSeen := feed.SeenCount()

	require.NoError(t, feed.Resync(ctx))
	assert.Equal(t, first, feed.Snapshot())
	assert.Equal(t, firstSeen, feed.SeenCount())
	assert.Equal(t, 5, firstSeen, "resync rebuilds the seen set from page 1 only")
}

func TestFeed_LoadMoreUntilEnd(t *testing.T) {
	lister := newFakeLister(12)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()

	require.NoError(t, feed.LoadMore(ctx))
	require.NoError(t, feed.LoadMore(ctx))
	assert.False(t, feed.Snapshot().End)
	require.NoError(t, feed.LoadMore(ctx))

	snap := feed.Snapshot()
	assert.Len(t, snap.Items, 12)
	assert.True(t, snap.End)
	assert.Equal(t, 4, snap.NextPage)

	require.NoError(t, feed.LoadMore(ctx))
	assert.Equal(t, 3, lister.callCount(), "no fetch past the end")

	require.NoError(t, feed.Resync(ctx))
	assert.False(t, feed.Snapshot().End, "resync clears the end flag")
}

func TestFeed_LoadMoreSkipsSeenPosts(t *testing.T) {
	lister := newFakeLister(10)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()

	require.NoError(t, feed.Resync(ctx))
	// two posts appear on top, shifting p7 and p6 onto page 2
	lister.prepend(post("p11", "bob"))
	lister.prepend(post("p12", "bob"))
	require.NoError(t, feed.LoadMore(ctx))

	assert.Equal(t, []string{"p10", "p9", "p8", "p7", "p6", "p5", "p4", "p3"}, ids(feed.Snapshot().Items))
}

func TestFeed_EventsForAbsentPostsAreNoops(t *testing.T) {
	lister := newFakeLister(5)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()
	require.NoError(t, feed.Resync(ctx))
	before := feed.Snapshot()

	frames := []protocol.Frame{
		frameOf(t, protocol.KindPostLiked, protocol.PostLikedPayload{PostID: "zz", LikesCount: 9, ActorID: "bob", Liked: true}),
		frameOf(t, protocol.KindCommentAdded, protocol.CommentAddedPayload{PostID: "zz", Comments: []protocol.Comment{{ID: "c1"}}, ActorID: "bob"}),
		frameOf(t, protocol.KindPostUpdated, protocol.PostUpdatedPayload{Post: post("zz", "bob"), ActorID: "bob"}),
		frameOf(t, protocol.KindPostDeleted, protocol.PostDeletedPayload{PostID: "zz"}),
	}
	for _, f := range frames {
		handled, err := feed.Apply(ctx, f)
		require.NoError(t, err)
		assert.True(t, handled)
	}

	assert.Equal(t, before, feed.Snapshot())
	assert.Equal(t, 1, lister.callCount(), "absence never triggers a resync")
}

func TestFeed_AppliesDeltasToLoadedPosts(t *testing.T) {
	lister := newFakeLister(5)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()
	require.NoError(t, feed.Resync(ctx))

	_, err := feed.Apply(ctx, frameOf(t, protocol.KindPostLiked, protocol.PostLikedPayload{PostID: "p3", LikesCount: 4, ActorID: "bob", Liked: true}))
	require.NoError(t, err)
	edited := post("p4", "bob")
	edited.Content = "edited"
	_, err = feed.Apply(ctx, frameOf(t, protocol.KindPostUpdated, protocol.PostUpdatedPayload{Post: edited, ActorID: "bob"}))
	require.NoError(t, err)
	_, err = feed.Apply(ctx, frameOf(t, protocol.KindCommentAdded, protocol.CommentAddedPayload{
		PostID:   "p2",
		Comments: []protocol.Comment{{ID: "c1", Text: "hey"}},
		ActorID:  "carol",
	}))
	require.NoError(t, err)
	_, err = feed.Apply(ctx, frameOf(t, protocol.KindPostDeleted, protocol.PostDeletedPayload{PostID: "p1"}))
	require.NoError(t, err)

	snap := feed.Snapshot()
	require.Equal(t, []string{"p5", "p4", "p3", "p2"}, ids(snap.Items))
	assert.Equal(t, "edited", snap.Items[1].Content)
	assert.Equal(t, 4, snap.Items[2].LikesCount)
	assert.Equal(t, []string{"bob"}, snap.Items[2].Likes)
	require.Len(t, snap.Items[3].Comments, 1)
	assert.Equal(t, "hey", snap.Items[3].Comments[0].Text)

	assert.True(t, feed.Seen("p1"), "deleting keeps the id in the seen set")
	assert.Equal(t, 5, feed.SeenCount())
}

func TestFeed_OwnEchoMatchesOptimisticState(t *testing.T) {
	lister := newFakeLister(3)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()
	require.NoError(t, feed.Resync(ctx))

	require.True(t, feed.ToggleLikeLocal("p2"))
	local := feed.Snapshot()
	require.Equal(t, 1, local.Items[1].LikesCount)

	// the echo carries the same absolute state the local toggle produced
	_, err := feed.Apply(ctx, frameOf(t, protocol.KindPostLiked, protocol.PostLikedPayload{PostID: "p2", LikesCount: 1, ActorID: "alice", Liked: true}))
	require.NoError(t, err)
	edited := post("p3", "alice")
	edited.Content = "stale"
	_, err = feed.Apply(ctx, frameOf(t, protocol.KindPostUpdated, protocol.PostUpdatedPayload{Post: edited, ActorID: "alice"}))
	require.NoError(t, err)

	assert.Equal(t, local, feed.Snapshot())
}

func TestFeed_OwnNewPostNeverResyncs(t *testing.T) {
	lister := newFakeLister(3)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()
	require.NoError(t, feed.Resync(ctx))

	mine := post("p4", "alice")
	lister.prepend(mine)
	feed.AddLocal(mine)

	_, err := feed.Apply(ctx, frameOf(t, protocol.KindNewPost, protocol.NewPostPayload{PostID: "p4", AuthorID: "alice"}))
	require.NoError(t, err)

	assert.Equal(t, 1, lister.callCount())
	assert.Equal(t, []string{"p4", "p3", "p2", "p1"}, ids(feed.Snapshot().Items))
}

func TestFeed_OtherNewPostResyncsAndKeepsOwnPost(t *testing.T) {
	lister := newFakeLister(3)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()
	require.NoError(t, feed.Resync(ctx))

	mine := post("p4", "alice")
	lister.prepend(mine)
	feed.AddLocal(mine)
	lister.prepend(post("p5", "bob"))

	_, err := feed.Apply(ctx, frameOf(t, protocol.KindNewPost, protocol.NewPostPayload{PostID: "p5", AuthorID: "bob"}))
	require.NoError(t, err)

	snap := feed.Snapshot()
	assert.Equal(t, []string{"p5", "p4", "p3", "p2", "p1"}, ids(snap.Items))
	assert.False(t, snap.PendingResync)
	assert.Equal(t, 2, lister.callCount())

	_, err = feed.Apply(ctx, frameOf(t, protocol.KindNewPost, protocol.NewPostPayload{PostID: "p5", AuthorID: "bob"}))
	require.NoError(t, err)
	assert.Equal(t, 2, lister.callCount(), "already-seen posts do not resync")
}

func TestFeed_ResyncThroughServerRoundTrip(t *testing.T) {
	lister := newFakeLister(3)
	var requests int
	feed := reconcile.NewFeed("alice", lister, reconcile.WithResyncTrigger(func(context.Context) error {
		requests++
		return nil
	}))
	ctx := context.Background()
	require.NoError(t, feed.Resync(ctx))

	lister.prepend(post("p4", "bob"))
	_, err := feed.Apply(ctx, frameOf(t, protocol.KindNewPost, protocol.NewPostPayload{PostID: "p4", AuthorID: "bob"}))
	require.NoError(t, err)

	assert.Equal(t, 1, requests)
	assert.True(t, feed.Snapshot().PendingResync)
	assert.Equal(t, 1, lister.callCount())

	_, err = feed.Apply(ctx, frameOf(t, protocol.KindResyncRequired, nil))
	require.NoError(t, err)
	snap := feed.Snapshot()
	assert.False(t, snap.PendingResync)
	assert.Equal(t, "p4", snap.Items[0].ID)
}

func TestFeed_ConcurrentResyncsCoalesce(t *testing.T) {
	lister := newFakeLister(3)
	lister.gate = make(chan struct{})
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- feed.Resync(ctx) }()
	require.Eventually(t, func() bool { return lister.callCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, reconcile.Fetching, feed.Snapshot().State)

	for i := 0; i < 3; i++ {
		require.NoError(t, feed.Resync(ctx))
	}
	require.NoError(t, feed.LoadMore(ctx), "load more is skipped while fetching")

	close(lister.gate)
	require.NoError(t, <-done)

	assert.Equal(t, 2, lister.callCount(), "queued resyncs fold into one")
	snap := feed.Snapshot()
	assert.Equal(t, reconcile.Idle, snap.State)
	assert.False(t, snap.PendingResync)
	assert.Len(t, snap.Items, 3)
}

func TestFeed_OwnLikeAndCommentFromAnotherTab(t *testing.T) {
	lister := newFakeLister(3)
	ctx := context.Background()
	tab1 := reconcile.NewFeed("alice", lister)
	tab2 := reconcile.NewFeed("alice", lister)
	require.NoError(t, tab1.Resync(ctx))
	require.NoError(t, tab2.Resync(ctx))

	require.True(t, tab1.ToggleLikeLocal("p1"))
	liked := frameOf(t, protocol.KindPostLiked, protocol.PostLikedPayload{PostID: "p1", LikesCount: 1, ActorID: "alice", Liked: true})
	comment := frameOf(t, protocol.KindCommentAdded, protocol.CommentAddedPayload{
		PostID:   "p1",
		Comments: []protocol.Comment{{ID: "c1", User: protocol.UserRef{ID: "alice"}, Text: "mine"}},
		ActorID:  "alice",
	})
	for _, tab := range []*reconcile.Feed{tab1, tab2} {
		_, err := tab.Apply(ctx, liked)
		require.NoError(t, err)
		_, err = tab.Apply(ctx, comment)
		require.NoError(t, err)
	}

	first, second := tab1.Snapshot().Items[2], tab2.Snapshot().Items[2]
	assert.Equal(t, first, second)
	assert.Equal(t, 1, second.LikesCount)
	assert.True(t, second.LikedBy("alice"))
	require.Len(t, second.Comments, 1)
	assert.Equal(t, "mine", second.Comments[0].Text)
}

func TestFeed_ResyncDuringLoadMoreDiscardsPage(t *testing.T) {
	lister := newFakeLister(12)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()
	require.NoError(t, feed.Resync(ctx))

	gate := make(chan struct{})
	lister.mu.Lock()
	lister.gate = gate
	lister.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- feed.LoadMore(ctx) }()
	require.Eventually(t, func() bool { return lister.callCount() == 2 }, time.Second, 5*time.Millisecond)

	lister.prepend(post("p13", "bob"))
	require.NoError(t, feed.Resync(ctx), "queued behind the running fetch")
	assert.True(t, feed.Snapshot().PendingResync)

	close(gate)
	require.NoError(t, <-done)

	snap := feed.Snapshot()
	assert.Equal(t, []string{"p13", "p12", "p11", "p10", "p9"}, ids(snap.Items), "page 2 was dropped")
	assert.Equal(t, 2, snap.NextPage)
	assert.False(t, snap.PendingResync)
	assert.Equal(t, reconcile.Idle, snap.State)
	assert.Equal(t, 3, lister.callCount())
	assert.Equal(t, 5, feed.SeenCount())
}

func TestFeed_LoadMoreFailureRunsQueuedResync(t *testing.T) {
	lister := newFakeLister(12)
	feed := reconcile.NewFeed("alice", lister)
	ctx := context.Background()
	require.NoError(t, feed.Resync(ctx))

	gate := make(chan struct{})
	lister.mu.Lock()
	lister.gate = gate
	lister.err = errors.New("read side down")
	lister.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- feed.LoadMore(ctx) }()
	require.Eventually(t, func() bool { return lister.callCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, feed.Resync(ctx))

	close(gate)
	err := <-done
	assert.ErrorContains(t, err, "load page 2")
	assert.ErrorContains(t, err, "resync")
	assert.Equal(t, 3, lister.callCount(), "the queued resync ran")
	assert.True(t, feed.Snapshot().PendingResync)
}

func TestFeed_ResyncFailureKeepsPendingFlag(t *testing.T) {
	lister := newFakeLister(3)
	lister.err = errors.New("read side down")
	feed := reconcile.NewFeed("alice", lister)

	err := feed.Resync(context.Background())
	assert.ErrorContains(t, err, "read side down")
	snap := feed.Snapshot()
	assert.True(t, snap.PendingResync)
	assert.Equal(t, reconcile.Idle, snap.State)
}

func TestFeed_IgnoresOtherKinds(t *testing.T) {
	feed := reconcile.NewFeed("alice", newFakeLister(0))
	handled, err := feed.Apply(context.Background(), frameOf(t, protocol.KindUserOnline, "bob"))
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestFeed_OnChange(t *testing.T) {
	var snaps []reconcile.Snapshot
	feed := reconcile.NewFeed("alice", newFakeLister(2), reconcile.WithOnChange(func(s reconcile.Snapshot) {
		snaps = append(snaps, s)
	}), reconcile.WithPageSize(1))

	require.NoError(t, feed.Resync(context.Background()))
	require.NoError(t, feed.LoadMore(context.Background()))

	require.Len(t, snaps, 2)
	assert.Equal(t, []string{"p2"}, ids(snaps[0].Items))
	assert.Equal(t, []string{"p2", "p1"}, ids(snaps[1].Items))
	assert.True(t, snaps[1].End)
}
