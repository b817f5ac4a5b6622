package chat

import (
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// Client is one authenticated connection bound to a user.
// Joined channels and the closed flag are owned by the Hub and guarded by its lock.
type Client struct {
	ID       string
	UserID   string
	Conn     Conn
	Outgoing chan []byte

	channels map[string]struct{}
	closed   bool
	overflow atomic.Bool
}

// NewClient creates a client with a fresh connection id and a send queue of the given size.
func NewClient(conn Conn, userID string, queue int) *Client {
	if queue <= 0 {
		queue = 1
	}
	return &Client{
		ID:       ulid.Make().String(),
		UserID:   userID,
		Conn:     conn,
		Outgoing: make(chan []byte, queue),
		channels: make(map[string]struct{}),
	}
}

// TakeOverflow reports whether a frame was dropped for this client since the
// last call, and clears the flag.
func (c *Client) TakeOverflow() bool {
	return c.overflow.CompareAndSwap(true, false)
}
