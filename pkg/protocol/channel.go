package protocol

import (
	"fmt"
	"strings"
)

// FeedChannel is joined by every authenticated connection.
const FeedChannel = "feed"

const (
	userPrefix         = "user:"
	conversationPrefix = "conversation:"
)

// ChannelKind classifies a channel name.
type ChannelKind int

const (
	ChannelFeed ChannelKind = iota
	ChannelUser
	ChannelConversation
)

// String returns the readable name of the channel kind.
func (ck ChannelKind) String() string {
	switch ck {
	case ChannelFeed:
		return "feed"
	case ChannelUser:
		return "user"
	case ChannelConversation:
		return "conversation"
	default:
		return "unknown"
	}
}

// ErrInvalidChannel is returned for names that are not feed, user:<id> or conversation:<id>.
var ErrInvalidChannel = fmt.Errorf("invalid channel name")

// UserChannel returns the private channel of a user.
func UserChannel(userID string) string {
	return userPrefix + userID
}

// ConversationChannel returns the channel of a conversation.
func ConversationChannel(conversationID string) string {
	return conversationPrefix + conversationID
}

// ParseChannel splits a channel name into its kind and identifier.
// The feed channel has an empty identifier.
func ParseChannel(name string) (ChannelKind, string, error) {
	switch {
	case name == FeedChannel:
		return ChannelFeed, "", nil
	case strings.HasPrefix(name, userPrefix) && len(name) > len(userPrefix):
		return ChannelUser, strings.TrimPrefix(name, userPrefix), nil
	case strings.HasPrefix(name, conversationPrefix) && len(name) > len(conversationPrefix):
		return ChannelConversation, strings.TrimPrefix(name, conversationPrefix), nil
	default:
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidChannel, name)
	}
}
