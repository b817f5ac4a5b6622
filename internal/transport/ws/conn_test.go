package ws_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/socket-feed/internal/transport/ws"
)

// serve upgrades one request and hands the adapted conn to fn.
func serve(t *testing.T, fn func(c *ws.Conn)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(ws.NewConn(conn, ws.Options{WriteWait: time.Second, PongWait: 5 * time.Second, MaxMessageBytes: 1024}))
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConn_EchoAndNormalClose(t *testing.T) {
	result := make(chan error, 1)
	client := serve(t, func(c *ws.Conn) {
		data, err := c.Read(context.Background())
		if err != nil {
			result <- err
			return
		}
		if err := c.Write(context.Background(), data); err != nil {
			result <- err
			return
		}
		_, err = c.Read(context.Background())
		result <- err
	})

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte("frame")))
	mt, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte("frame"), data)

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("server read did not end")
	}
}

func TestConn_CloseWithCode(t *testing.T) {
	client := serve(t, func(c *ws.Conn) {
		_ = c.CloseWith(4401, "Unauthorized")
	})

	_, _, err := client.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 4401, ce.Code)
	assert.Equal(t, "Unauthorized", ce.Text)
}

func TestConn_ReadLimit(t *testing.T) {
	result := make(chan error, 1)
	client := serve(t, func(c *ws.Conn) {
		_, err := c.Read(context.Background())
		result <- err
	})

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, make([]byte, 2048)))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, websocket.ErrReadLimit)
	case <-time.After(2 * time.Second):
		t.Fatal("oversized frame was accepted")
	}
}
