// Package ws adapts gorilla/websocket connections to chat.Conn.
package ws

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omochice/socket-feed/internal/chat"
)

// Options sets the keepalive and size limits of a connection.
type Options struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
}

// Conn adapts *websocket.Conn to chat.Conn.
// Write and Ping must be called from a single writer goroutine; Close and
// CloseWith may be called from any goroutine.
type Conn struct {
	conn *websocket.Conn
	opts Options
}

var _ chat.Conn = (*Conn)(nil)

// NewConn wraps conn, applying the read limit and the initial read deadline.
// Every pong extends the read deadline by PongWait.
func NewConn(conn *websocket.Conn, opts Options) *Conn {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(opts.MaxMessageBytes)
	}
	if opts.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		})
	}
	return &Conn{conn: conn, opts: opts}
}

// Read implements chat.Conn.
// Returns the next binary or text message; a clean close is reported as io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt == websocket.BinaryMessage || mt == websocket.TextMessage {
			return data, nil
		}
	}
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	deadline := time.Now().Add(c.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Ping sends a keepalive ping.
func (c *Conn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
}

// CloseWith sends a close frame with code and reason, then closes the socket.
func (c *Conn) CloseWith(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
	if errors.Is(werr, websocket.ErrCloseSent) {
		werr = nil
	}
	return errors.Join(werr, c.conn.Close())
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
