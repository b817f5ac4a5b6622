// Package reconcile merges pushed events into client-held state and falls
// back to a full resync when an event cannot be merged safely.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/omochice/socket-feed/pkg/protocol"
)

// DefaultPageSize matches the web client's feed page.
const DefaultPageSize = 5

// Page is one page of the read-side listing.
type Page struct {
	Items      []protocol.Post
	Page       int
	TotalPages int
}

// Lister is the read side. ListItems must be safe to call repeatedly and
// reflect persistent storage at call time.
type Lister interface {
	ListItems(ctx context.Context, page, pageSize int) (Page, error)
}

// State of the feed's fetch machine.
type State int

const (
	Idle State = iota
	Fetching
)

func (s State) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

// Snapshot is a copy of the feed state.
type Snapshot struct {
	Items         []protocol.Post
	NextPage      int
	End           bool
	State         State
	PendingResync bool
}

// Feed is the client-side feed: an ordered list of posts, the set of ids seen
// in this session, the next page to load and an end-of-data flag.
type Feed struct {
	self     string
	lister   Lister
	pageSize int
	trigger  func(ctx context.Context) error
	onChange func(Snapshot)

	mu            sync.Mutex
	items         []protocol.Post
	seen          map[string]struct{}
	next          int
	end           bool
	state         State
	pendingResync bool
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithPageSize sets the listing page size.
func WithPageSize(n int) FeedOption {
	return func(f *Feed) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

// WithResyncTrigger routes resyncs caused by new-post through fn, typically a
// request-resync command; the server's resync-required reply then runs Resync.
// Without a trigger the feed resyncs directly.
func WithResyncTrigger(fn func(ctx context.Context) error) FeedOption {
	return func(f *Feed) { f.trigger = fn }
}

// WithOnChange registers a callback invoked with a snapshot after every change.
func WithOnChange(fn func(Snapshot)) FeedOption {
	return func(f *Feed) { f.onChange = fn }
}

// NewFeed creates an empty feed for the user self.
func NewFeed(self string, lister Lister, opts ...FeedOption) *Feed {
	f := &Feed{
		self:     self,
		lister:   lister,
		pageSize: DefaultPageSize,
		seen:     make(map[string]struct{}),
		next:     1,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Resync replaces the whole feed with page 1 of the listing, rebuilds the seen
// set, points the cursor at page 2 and clears the end flag. A call made while
// a fetch is running is folded into one more resync after it.
func (f *Feed) Resync(ctx context.Context) error {
	f.mu.Lock()
	f.pendingResync = true
	if f.state == Fetching {
		f.mu.Unlock()
		return nil
	}
	f.state = Fetching

	for f.pendingResync {
		f.pendingResync = false
		f.mu.Unlock()

		page, err := f.lister.ListItems(ctx, 1, f.pageSize)

		f.mu.Lock()
		if err != nil {
			f.pendingResync = true
			f.state = Idle
			f.mu.Unlock()
			return fmt.Errorf("resync: %w", err)
		}
		f.items = append([]protocol.Post(nil), page.Items...)
		f.seen = make(map[string]struct{}, len(page.Items))
		for _, p := range page.Items {
			f.seen[p.ID] = struct{}{}
		}
		f.next = 2
		f.end = false
	}
	f.state = Idle
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.changed(snap)
	return nil
}

// LoadMore appends the next page, skipping posts already seen. It does
// nothing at the end of data or while another fetch runs. A resync requested
// meanwhile runs right after.
func (f *Feed) LoadMore(ctx context.Context) error {
	f.mu.Lock()
	if f.state == Fetching || f.end {
		f.mu.Unlock()
		return nil
	}
	f.state = Fetching
	pageNo := f.next
	f.mu.Unlock()

	page, err := f.lister.ListItems(ctx, pageNo, f.pageSize)

	f.mu.Lock()
	f.state = Idle
	if err != nil {
		pending := f.pendingResync
		f.mu.Unlock()
		err = fmt.Errorf("load page %d: %w", pageNo, err)
		if pending {
			return errors.Join(err, f.Resync(ctx))
		}
		return err
	}
	if f.pendingResync {
		f.mu.Unlock()
		return f.Resync(ctx)
	}
	for _, p := range page.Items {
		if _, ok := f.seen[p.ID]; ok {
			continue
		}
		f.seen[p.ID] = struct{}{}
		f.items = append(f.items, p)
	}
	f.next = pageNo + 1
	f.end = len(page.Items) == 0 || pageNo >= page.TotalPages
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.changed(snap)
	return nil
}

// Apply merges one feed event. Events for posts not loaded are no-ops.
// Like counts, like membership and comment lists are absolute, so they are
// applied even when this user acted from another connection.
// It reports whether the frame was a feed event.
func (f *Feed) Apply(ctx context.Context, frame protocol.Frame) (bool, error) {
	switch frame.Kind {
	case protocol.KindNewPost:
		p, err := protocol.DecodePayload[protocol.NewPostPayload](frame)
		if err != nil {
			return true, err
		}
		return true, f.newPost(ctx, p)

	case protocol.KindResyncRequired:
		return true, f.Resync(ctx)

	case protocol.KindPostLiked:
		p, err := protocol.DecodePayload[protocol.PostLikedPayload](frame)
		if err != nil {
			return true, err
		}
		f.update(p.PostID, func(post *protocol.Post) {
			post.LikesCount = p.LikesCount
			if p.ActorID != "" {
				post.Likes = setMember(post.Likes, p.ActorID, p.Liked)
			}
		})

	case protocol.KindPostUpdated:
		p, err := protocol.DecodePayload[protocol.PostUpdatedPayload](frame)
		if err != nil {
			return true, err
		}
		if p.ActorID == f.self {
			return true, nil
		}
		f.update(p.Post.ID, func(post *protocol.Post) { *post = p.Post })

	case protocol.KindPostDeleted:
		p, err := protocol.DecodePayload[protocol.PostDeletedPayload](frame)
		if err != nil {
			return true, err
		}
		f.RemoveLocal(p.PostID)

	case protocol.KindCommentAdded:
		p, err := protocol.DecodePayload[protocol.CommentAddedPayload](frame)
		if err != nil {
			return true, err
		}
		f.update(p.PostID, func(post *protocol.Post) {
			post.Comments = append([]protocol.Comment(nil), p.Comments...)
		})

	default:
		return false, nil
	}
	return true, nil
}

func (f *Feed) newPost(ctx context.Context, p protocol.NewPostPayload) error {
	if p.AuthorID == f.self {
		return nil
	}
	f.mu.Lock()
	if _, ok := f.seen[p.PostID]; ok {
		f.mu.Unlock()
		return nil
	}
	f.pendingResync = true
	f.mu.Unlock()

	if f.trigger != nil {
		return f.trigger(ctx)
	}
	return f.Resync(ctx)
}

// AddLocal puts a post created by this client at the top of the feed.
func (f *Feed) AddLocal(post protocol.Post) {
	f.mu.Lock()
	if _, ok := f.seen[post.ID]; ok {
		f.mu.Unlock()
		return
	}
	f.seen[post.ID] = struct{}{}
	f.items = append([]protocol.Post{post}, f.items...)
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.changed(snap)
}

// ReplaceLocal stores the server's answer to a local mutation.
func (f *Feed) ReplaceLocal(post protocol.Post) bool {
	return f.update(post.ID, func(p *protocol.Post) { *p = post })
}

// ToggleLikeLocal flips this user's like on a loaded post.
func (f *Feed) ToggleLikeLocal(postID string) bool {
	return f.update(postID, func(p *protocol.Post) {
		liked := p.LikedBy(f.self)
		p.Likes = setMember(p.Likes, f.self, !liked)
		if liked {
			p.LikesCount--
		} else {
			p.LikesCount++
		}
	})
}

// RemoveLocal drops a post from the list. Its id stays in the seen set.
func (f *Feed) RemoveLocal(postID string) bool {
	f.mu.Lock()
	idx := f.indexLocked(postID)
	if idx < 0 {
		f.mu.Unlock()
		return false
	}
	f.items = append(f.items[:idx:idx], f.items[idx+1:]...)
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.changed(snap)
	return true
}

// Seen reports whether postID was loaded in this session.
func (f *Feed) Seen(postID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[postID]
	return ok
}

// SeenCount returns the size of the seen set.
func (f *Feed) SeenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// Snapshot returns a copy of the current state.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) update(postID string, fn func(*protocol.Post)) bool {
	f.mu.Lock()
	idx := f.indexLocked(postID)
	if idx < 0 {
		f.mu.Unlock()
		return false
	}
	fn(&f.items[idx])
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.changed(snap)
	return true
}

func (f *Feed) indexLocked(postID string) int {
	for i := range f.items {
		if f.items[i].ID == postID {
			return i
		}
	}
	return -1
}

func (f *Feed) snapshotLocked() Snapshot {
	return Snapshot{
		Items:         append([]protocol.Post(nil), f.items...),
		NextPage:      f.next,
		End:           f.end,
		State:         f.state,
		PendingResync: f.pendingResync,
	}
}

func (f *Feed) changed(s Snapshot) {
	if f.onChange != nil {
		f.onChange(s)
	}
}

func setMember(ids []string, id string, present bool) []string {
	out := make([]string, 0, len(ids)+1)
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if present {
		out = append(out, id)
	}
	return out
}
