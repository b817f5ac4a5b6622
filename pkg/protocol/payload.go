package protocol

import "time"

// UserRef is the populated form of a user reference.
type UserRef struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Comment is a single comment on a post.
type Comment struct {
	ID        string    `json:"id"`
	User      UserRef   `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Post is the full snapshot of a feed item as served by the read side.
type Post struct {
	ID         string    `json:"id"`
	Author     UserRef   `json:"author"`
	Content    string    `json:"content"`
	Media      string    `json:"media,omitempty"`
	LikesCount int       `json:"likesCount"`
	Likes      []string  `json:"likes,omitempty"`
	Comments   []Comment `json:"comments,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// LikedBy reports whether userID is among the post's likers.
func (p Post) LikedBy(userID string) bool {
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

// Message is a populated chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         UserRef   `json:"sender"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Notification types.
const (
	NotificationLike    = "like"
	NotificationComment = "comment"
	NotificationMessage = "message"
)

// Notification is the alert pushed to a recipient's private channel.
// ID is empty for notifications that are never persisted (message alerts).
type Notification struct {
	ID             string    `json:"id,omitempty"`
	Recipient      string    `json:"recipient"`
	Type           string    `json:"type"`
	Actor          UserRef   `json:"actor"`
	SubjectPostID  string    `json:"subjectPostId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewPostPayload signals that the feed set changed. It carries no post body.
type NewPostPayload struct {
	PostID   string `json:"postId"`
	AuthorID string `json:"authorId"`
}

// PostLikedPayload carries the new like count of a post.
type PostLikedPayload struct {
	PostID     string `json:"postId"`
	LikesCount int    `json:"likesCount"`
	ActorID    string `json:"actorId,omitempty"`
	Liked      bool   `json:"liked"`
}

// PostUpdatedPayload carries the full edited post.
type PostUpdatedPayload struct {
	Post    Post   `json:"post"`
	ActorID string `json:"actorId"`
}

// PostDeletedPayload names a removed post.
type PostDeletedPayload struct {
	PostID string `json:"postId"`
}

// CommentAddedPayload carries the full comment list of a post.
type CommentAddedPayload struct {
	PostID   string    `json:"postId"`
	Comments []Comment `json:"comments"`
	ActorID  string    `json:"actorId,omitempty"`
}

// TypingPayload is relayed to a conversation when a participant starts or stops typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// ChannelCommand is the payload of join and leave.
type ChannelCommand struct {
	Channel string `json:"channel"`
}

// TypingCommand is the payload of the typing command. ChannelID is a conversation id.
type TypingCommand struct {
	ChannelID string `json:"channelId"`
	IsTyping  bool   `json:"isTyping"`
}
