package reconcile

import (
	"sort"
	"sync"

	"github.com/omochice/socket-feed/pkg/protocol"
)

// Conversation is the open view of one conversation. Messages are keyed by id,
// so the sender's own copy and its echo from the channel render once.
type Conversation struct {
	ID   string
	self string

	mu       sync.Mutex
	messages []protocol.Message
	ids      map[string]struct{}
	typing   map[string]struct{}
}

func NewConversation(id, self string) *Conversation {
	return &Conversation{
		ID:     id,
		self:   self,
		ids:    make(map[string]struct{}),
		typing: make(map[string]struct{}),
	}
}

// Load replaces the history with messages fetched from the read side.
func (c *Conversation) Load(messages []protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.ids = make(map[string]struct{}, len(messages))
	for _, m := range messages {
		c.addLocked(m)
	}
}

// Add appends m unless a message with the same id is already shown.
// It reports whether m was added.
func (c *Conversation) Add(m protocol.Message) bool {
	if m.ConversationID != "" && m.ConversationID != c.ID {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	added := c.addLocked(m)
	if added {
		delete(c.typing, m.Sender.ID)
	}
	return added
}

func (c *Conversation) addLocked(m protocol.Message) bool {
	if _, ok := c.ids[m.ID]; ok {
		return false
	}
	c.ids[m.ID] = struct{}{}
	c.messages = append(c.messages, m)
	return true
}

// SetTyping records another participant's typing state. The user's own state is ignored.
func (c *Conversation) SetTyping(p protocol.TypingPayload) {
	if p.UserID == c.self || (p.ConversationID != "" && p.ConversationID != c.ID) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.IsTyping {
		c.typing[p.UserID] = struct{}{}
	} else {
		delete(c.typing, p.UserID)
	}
}

// Messages returns the shown messages in arrival order.
func (c *Conversation) Messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.messages...)
}

// Typing lists the participants currently typing.
func (c *Conversation) Typing() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.typing))
	for id := range c.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
