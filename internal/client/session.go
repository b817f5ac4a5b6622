package client

import (
	"context"

	"go.uber.org/zap"

	"github.com/omochice/socket-feed/internal/logger"
	"github.com/omochice/socket-feed/internal/reconcile"
)

// Session feeds a client's frames into a dispatcher. The feed resyncs on
// every connect and falls back to a gateway round trip when it cannot merge
// a pushed post.
type Session struct {
	Client     *Client
	Dispatcher *reconcile.Dispatcher

	unsubscribe func()
}

// NewSession wires a client to a fresh dispatcher for self.
func NewSession(c *Client, self string, lister reconcile.Lister, opts ...reconcile.FeedOption) *Session {
	opts = append(opts, reconcile.WithResyncTrigger(c.RequestResync))
	feed := reconcile.NewFeed(self, lister, opts...)
	d := reconcile.NewDispatcher(self, feed)

	s := &Session{Client: c, Dispatcher: d}
	c.OnConnected(func(ctx context.Context) error {
		s.reseedRoster(ctx)
		return feed.Resync(ctx)
	})
	s.unsubscribe = c.Subscribe(d.Handle)
	return s
}

// reseedRoster starts the roster over from the gateway's presence list. A
// failed lookup leaves it empty until presence events arrive.
func (s *Session) reseedRoster(ctx context.Context) {
	online, err := s.Client.OnlineUsers(ctx)
	if err != nil {
		logger.Warn("presence lookup failed", zap.Error(err))
		s.Dispatcher.Roster.Reset()
		return
	}
	s.Dispatcher.Roster.Reset(online...)
}

// Feed returns the session's feed.
func (s *Session) Feed() *reconcile.Feed { return s.Dispatcher.Feed }

// OpenConversation joins the conversation room and returns its view.
func (s *Session) OpenConversation(conversationID string) (*reconcile.Conversation, error) {
	conv := s.Dispatcher.Open(conversationID)
	if err := s.Client.JoinConversation(conversationID); err != nil {
		return conv, err
	}
	return conv, nil
}

// CloseConversation leaves the room and forgets its view.
func (s *Session) CloseConversation(conversationID string) error {
	s.Dispatcher.Close(conversationID)
	return s.Client.LeaveConversation(conversationID)
}

// Run blocks until the client stops.
func (s *Session) Run(ctx context.Context) error {
	defer s.unsubscribe()
	return s.Client.Run(ctx)
}
