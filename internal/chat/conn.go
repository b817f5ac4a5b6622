// Package chat holds connections and the channels they are joined to.
package chat

import "context"

// Conn abstracts one persistent client connection.
// This interface isolates the websocket library from room membership and delivery.
type Conn interface {
	// Read reads a single frame. Returns io.EOF when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
