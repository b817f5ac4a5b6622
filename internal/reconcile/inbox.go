package reconcile

import (
	"sync"

	"github.com/omochice/socket-feed/pkg/protocol"
)

// Inbox holds notifications received on the user's private channel, newest first.
// Clearing is local display state; nothing is sent to the server.
type Inbox struct {
	mu     sync.Mutex
	items  []protocol.Notification
	unread int
}

func NewInbox() *Inbox {
	return &Inbox{}
}

// Add records a notification.
func (in *Inbox) Add(n protocol.Notification) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.items = append([]protocol.Notification{n}, in.items...)
	in.unread++
}

// Items returns the notifications, newest first.
func (in *Inbox) Items() []protocol.Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]protocol.Notification(nil), in.items...)
}

// Unread returns the number of notifications added since the last MarkRead or Clear.
func (in *Inbox) Unread() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.unread
}

func (in *Inbox) MarkRead() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.unread = 0
}

func (in *Inbox) Clear() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.items = nil
	in.unread = 0
}
