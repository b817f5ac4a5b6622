// Package protocol defines the frames exchanged between the feed gateway and its clients.
package protocol

import "fmt"

// Kind identifies a frame. Server-to-client event kinds and client-to-server
// command kinds share one namespace on the wire.
type Kind string

// Event kinds pushed by the server.
const (
	KindUserOnline     Kind = "user-online"
	KindUserOffline    Kind = "user-offline"
	KindNewPost        Kind = "new-post"
	KindPostLiked      Kind = "post-liked"
	KindPostUpdated    Kind = "post-updated"
	KindPostDeleted    Kind = "post-deleted"
	KindCommentAdded   Kind = "comment-added"
	KindNotification   Kind = "notification"
	KindNewMessage     Kind = "new-message"
	KindUserTyping     Kind = "user-typing"
	KindResyncRequired Kind = "resync-required"
)

// Command kinds sent by clients.
const (
	CommandJoin          Kind = "join"
	CommandLeave         Kind = "leave"
	CommandTyping        Kind = "typing"
	CommandRequestResync Kind = "request-resync"
)

// ErrUnknownKind is returned when a frame carries a kind outside the closed set.
var ErrUnknownKind = fmt.Errorf("unknown frame kind")

// String returns the wire name of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsEvent reports whether k is a server-to-client event kind.
func (k Kind) IsEvent() bool {
	switch k {
	case KindUserOnline, KindUserOffline, KindNewPost, KindPostLiked, KindPostUpdated,
		KindPostDeleted, KindCommentAdded, KindNotification, KindNewMessage,
		KindUserTyping, KindResyncRequired:
		return true
	default:
		return false
	}
}

// IsCommand reports whether k is a client-to-server command kind.
func (k Kind) IsCommand() bool {
	switch k {
	case CommandJoin, CommandLeave, CommandTyping, CommandRequestResync:
		return true
	default:
		return false
	}
}

// ParseKind validates a wire name against the closed set of kinds.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsEvent() && !k.IsCommand() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}
