package chat

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/omochice/socket-feed/internal/logger"
	"github.com/omochice/socket-feed/pkg/protocol"
)

var (
	// ErrClientClosed is returned for operations on an unregistered client.
	ErrClientClosed = errors.New("client closed")
	// ErrForbiddenChannel is returned when a client asks to join or leave a
	// channel it is assigned to by the gateway.
	ErrForbiddenChannel = errors.New("channel cannot be joined or left by clients")
)

// Delivery is one frame addressed to a channel. ExceptConn and ExceptUser
// exclude a connection id or every connection of a user.
type Delivery struct {
	Channel    string
	Frame      []byte
	ExceptConn string
	ExceptUser string
}

// Hub maps channels to the clients joined to them.
// All gateways in a process share a single Hub instance.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
	}
}

// Register adds a client and joins it to the feed and to its private channel.
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed {
		return ErrClientClosed
	}
	h.clients[client] = struct{}{}
	h.joinLocked(client, protocol.FeedChannel)
	h.joinLocked(client, protocol.UserChannel(client.UserID))
	return nil
}

// Join adds client to channel. Joining twice is a no-op.
func (h *Hub) Join(client *Client, channel string) error {
	if _, _, err := protocol.ParseChannel(channel); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registeredLocked(client) {
		return ErrClientClosed
	}
	h.joinLocked(client, channel)
	return nil
}

// Leave removes client from channel. Leaving a channel not joined is a no-op.
func (h *Hub) Leave(client *Client, channel string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registeredLocked(client) {
		return ErrClientClosed
	}
	h.leaveLocked(client, channel)
	return nil
}

// Unregister removes client from every channel and closes its send queue in one step.
// It returns false if the client was already unregistered.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed {
		return false
	}
	client.closed = true
	for channel := range client.channels {
		h.leaveLocked(client, channel)
	}
	delete(h.clients, client)
	close(client.Outgoing)
	return true
}

// Deliver queues d.Frame on every client joined to d.Channel and returns how
// many clients accepted it. Delivery never blocks: a client whose queue is
// full loses the frame and is flagged so its writer can ask it to resync.
func (h *Hub) Deliver(d Delivery) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.channels[d.Channel] {
		if d.ExceptConn != "" && client.ID == d.ExceptConn {
			continue
		}
		if d.ExceptUser != "" && client.UserID == d.ExceptUser {
			continue
		}
		if h.sendLocked(client, d.Frame) {
			delivered++
		}
	}
	return delivered
}

// Send queues data on a single client.
func (h *Hub) Send(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if client.closed {
		return false
	}
	return h.sendLocked(client, data)
}

func (h *Hub) sendLocked(client *Client, data []byte) bool {
	select {
	case client.Outgoing <- data:
		return true
	default:
		client.overflow.Store(true)
		logger.Warn("client queue full, dropping frame",
			zap.String("conn", client.ID), zap.String("user", client.UserID))
		return false
	}
}

func (h *Hub) joinLocked(client *Client, channel string) {
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[*Client]struct{})
		h.channels[channel] = members
	}
	members[client] = struct{}{}
	client.channels[channel] = struct{}{}
}

func (h *Hub) leaveLocked(client *Client, channel string) {
	if members, ok := h.channels[channel]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(client.channels, channel)
}

func (h *Hub) registeredLocked(client *Client) bool {
	if client.closed {
		return false
	}
	_, ok := h.clients[client]
	return ok
}

// ClientCount returns number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ChannelCount returns the number of channels with at least one member.
func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Members returns the number of clients joined to channel.
func (h *Hub) Members(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Channels lists the channels client is joined to, sorted.
func (h *Hub) Channels(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(client.channels))
	for channel := range client.channels {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

// ClientJoinable checks that channel may be joined or left by a client
// command and returns its conversation id. Only conversation channels qualify.
func ClientJoinable(channel string) (string, error) {
	kind, id, err := protocol.ParseChannel(channel)
	if err != nil {
		return "", err
	}
	if kind != protocol.ChannelConversation {
		return "", fmt.Errorf("%w: %s", ErrForbiddenChannel, channel)
	}
	return id, nil
}
