// Package client is a reconnecting gateway client. Conversation joins survive
// reconnects and subscribers see one continuous stream of frames.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/omochice/socket-feed/internal/logger"
	"github.com/omochice/socket-feed/pkg/protocol"
)

var (
	// ErrUnauthorized is returned by Run when the gateway rejected the token.
	ErrUnauthorized = errors.New("gateway rejected credentials")
	// ErrNotConnected is returned by commands sent while no socket is open.
	ErrNotConnected = errors.New("not connected to gateway")
)

// Handler receives every frame read from the gateway.
type Handler func(ctx context.Context, frame protocol.Frame) error

// Options tunes dialing and reconnects.
type Options struct {
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	DialTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.MinBackoff <= 0 {
		o.MinBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
}

// Client holds the join set and subscribers across connections.
type Client struct {
	url   string
	token string
	opts  Options

	mu          sync.Mutex
	conn        *connection
	joined      map[string]struct{}
	handlers    map[int]Handler
	nextHandler int
	onConnected []func(ctx context.Context) error
	closed      bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client for the gateway at url (ws:// or wss://).
func New(url, token string, opts Options) *Client {
	opts.setDefaults()
	return &Client{
		url:      url,
		token:    token,
		opts:     opts,
		joined:   make(map[string]struct{}),
		handlers: make(map[int]Handler),
		done:     make(chan struct{}),
	}
}

// Subscribe registers h for every frame until the returned func is called.
func (c *Client) Subscribe(h Handler) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = h
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

// OnConnected registers a hook run after every successful connect, once the
// join set has been replayed and before any frame is dispatched.
func (c *Client) OnConnected(fn func(ctx context.Context) error) {
	c.mu.Lock()
	c.onConnected = append(c.onConnected, fn)
	c.mu.Unlock()
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run keeps a connection open until ctx ends or Close is called. It returns
// ErrUnauthorized without retrying when the gateway refuses the token.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		connected, err := c.runOnce(ctx)
		if c.stopped(ctx) {
			return nil
		}
		if isUnauthorized(err) {
			logger.Error("gateway rejected token", zap.String("url", c.url))
			return ErrUnauthorized
		}
		if connected {
			backoff = c.opts.MinBackoff
		}
		logger.Warn("gateway connection lost",
			zap.String("url", c.url), zap.Duration("retry_in", backoff), zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-c.done:
			timer.Stop()
			return nil
		}
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-c.done:
		return true
	default:
		return ctx.Err() != nil
	}
}

func (c *Client) runOnce(ctx context.Context) (bool, error) {
	conn, err := dial(ctx, c.url, c.token, c.opts.DialTimeout)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return false, nil
	}
	c.conn = conn
	joins := make([]string, 0, len(c.joined))
	for id := range c.joined {
		joins = append(joins, id)
	}
	hooks := append([]func(context.Context) error(nil), c.onConnected...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		case <-stop:
			return
		}
		_ = conn.conn.Close()
	}()

	logger.Info("connected to gateway", zap.String("url", c.url))

	for _, id := range joins {
		if err := c.sendOn(conn, protocol.CommandJoin, protocol.ChannelCommand{Channel: protocol.ConversationChannel(id)}); err != nil {
			logger.Warn("failed to replay join", zap.String("conversation", id), zap.Error(err))
		}
	}
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			logger.Warn("on-connected hook failed", zap.Error(err))
		}
	}

	for {
		data, err := conn.Read()
		if err != nil {
			return true, err
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("failed to decode frame", zap.Error(err))
			continue
		}
		c.dispatch(ctx, frame)
	}
}

func (c *Client) dispatch(ctx context.Context, frame protocol.Frame) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, frame); err != nil {
			logger.Warn("frame handler failed", zap.String("kind", frame.Kind.String()), zap.Error(err))
		}
	}
}

// JoinConversation adds the conversation to the join set. The join is sent
// now when connected and again after every reconnect.
func (c *Client) JoinConversation(conversationID string) error {
	c.mu.Lock()
	c.joined[conversationID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.sendOn(conn, protocol.CommandJoin, protocol.ChannelCommand{Channel: protocol.ConversationChannel(conversationID)})
}

// LeaveConversation removes the conversation from the join set.
func (c *Client) LeaveConversation(conversationID string) error {
	c.mu.Lock()
	delete(c.joined, conversationID)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.sendOn(conn, protocol.CommandLeave, protocol.ChannelCommand{Channel: protocol.ConversationChannel(conversationID)})
}

// Joined lists the conversations in the join set.
func (c *Client) Joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for id := range c.joined {
		out = append(out, id)
	}
	return out
}

func (c *Client) SetTyping(conversationID string, isTyping bool) error {
	return c.send(protocol.CommandTyping, protocol.TypingCommand{ChannelID: conversationID, IsTyping: isTyping})
}

// RequestResync asks the gateway to answer with resync-required.
func (c *Client) RequestResync(ctx context.Context) error {
	return c.send(protocol.CommandRequestResync, nil)
}

func (c *Client) send(kind protocol.Kind, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.sendOn(conn, kind, payload)
}

func (c *Client) sendOn(conn *connection, kind protocol.Kind, payload any) error {
	data, err := protocol.EncodeCommand(kind, payload)
	if err != nil {
		return err
	}
	if err := conn.Write(data); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// Close stops Run and closes the current socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// SubjectFromToken reads the user id from a token without verifying it.
// The gateway does the verification; the client only needs to know who it is.
func SubjectFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	if id, ok := claims["id"].(string); ok && id != "" {
		return id, nil
	}
	return "", errors.New("token carries no subject")
}
