package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/socket-feed/pkg/protocol"
)

// connection is one gateway socket. Frames are written whole under mu so
// replies to control frames from the read side never interleave with them.
type connection struct {
	conn net.Conn
	br   *bufio.Reader
	mu   sync.Mutex
}

func dial(ctx context.Context, url, token string, timeout time.Duration) (*connection, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(header),
		Timeout: timeout,
	}

	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	if br == nil {
		br = bufio.NewReader(conn)
	}
	return &connection{conn: conn, br: br}, nil
}

// Write sends one binary frame.
func (c *connection) Write(data []byte) error {
	var buf bytes.Buffer
	if err := wsutil.WriteClientBinary(&buf, data); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(buf.Bytes())
	return err
}

// Read returns the next data frame, answering pings on the way. A close
// from the server comes back as wsutil.ClosedError.
func (c *connection) Read() ([]byte, error) {
	rw := struct {
		io.Reader
		io.Writer
	}{c.br, lockedWriter{c}}
	data, _, err := wsutil.ReadServerData(rw)
	return data, err
}

func (c *connection) Close() error {
	c.mu.Lock()
	_ = ws.WriteFrame(c.conn, ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
	c.mu.Unlock()
	return c.conn.Close()
}

type lockedWriter struct{ c *connection }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.conn.Write(p)
}

// closeCode extracts the close status sent by the server, if any.
func closeCode(err error) (int, bool) {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return int(closed.Code), true
	}
	return 0, false
}

func isUnauthorized(err error) bool {
	code, ok := closeCode(err)
	return ok && code == protocol.CloseUnauthorized
}
