package reconcile

import (
	"context"
	"sync"

	"github.com/omochice/socket-feed/pkg/protocol"
)

// Dispatcher routes incoming frames to the feed, inbox, roster and open conversations.
type Dispatcher struct {
	Feed   *Feed
	Inbox  *Inbox
	Roster *Roster

	self          string
	mu            sync.Mutex
	conversations map[string]*Conversation
}

func NewDispatcher(self string, feed *Feed) *Dispatcher {
	return &Dispatcher{
		Feed:          feed,
		Inbox:         NewInbox(),
		Roster:        NewRoster(),
		self:          self,
		conversations: make(map[string]*Conversation),
	}
}

// Open returns the view of a conversation, creating it on first use.
func (d *Dispatcher) Open(conversationID string) *Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conversations[conversationID]
	if !ok {
		c = NewConversation(conversationID, d.self)
		d.conversations[conversationID] = c
	}
	return c
}

// Close forgets a conversation view.
func (d *Dispatcher) Close(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conversations, conversationID)
}

func (d *Dispatcher) conversation(id string) (*Conversation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conversations[id]
	return c, ok
}

// Handle applies one frame. Messages and typing for conversations that are
// not open are dropped; the message notification still reaches the inbox.
func (d *Dispatcher) Handle(ctx context.Context, frame protocol.Frame) error {
	if handled, err := d.Feed.Apply(ctx, frame); handled {
		return err
	}

	switch frame.Kind {
	case protocol.KindUserOnline, protocol.KindUserOffline:
		id, err := protocol.DecodePayload[string](frame)
		if err != nil {
			return err
		}
		d.Roster.Set(id, frame.Kind == protocol.KindUserOnline)

	case protocol.KindNotification:
		n, err := protocol.DecodePayload[protocol.Notification](frame)
		if err != nil {
			return err
		}
		d.Inbox.Add(n)

	case protocol.KindNewMessage:
		m, err := protocol.DecodePayload[protocol.Message](frame)
		if err != nil {
			return err
		}
		if c, ok := d.conversation(m.ConversationID); ok {
			c.Add(m)
		}

	case protocol.KindUserTyping:
		p, err := protocol.DecodePayload[protocol.TypingPayload](frame)
		if err != nil {
			return err
		}
		if c, ok := d.conversation(p.ConversationID); ok {
			c.SetTyping(p)
		}
	}
	return nil
}
