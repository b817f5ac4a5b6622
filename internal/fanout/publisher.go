package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/socket-feed/internal/chat"
	"github.com/omochice/socket-feed/internal/logger"
	"github.com/omochice/socket-feed/pkg/protocol"
)

// EchoMode decides whether the sender's own connections receive new-message.
type EchoMode int

const (
	// EchoDeliver sends new-message to every joined connection; the sender's
	// client drops its own echo by message id.
	EchoDeliver EchoMode = iota
	// EchoExcludeSender skips every connection of the sender.
	EchoExcludeSender
)

// Publisher is handed to mutation handlers. Each method is called after the
// mutation committed to persistent storage and publishes the matching events.
// A failed mutation never reaches the Publisher.
type Publisher struct {
	bus           Bus
	notifications NotificationStore
	echo          EchoMode
	now           func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithEchoMode selects how new-message reaches the sender.
func WithEchoMode(mode EchoMode) Option {
	return func(p *Publisher) { p.echo = mode }
}

// WithClock overrides the notification timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher creates a Publisher delivering through bus.
func NewPublisher(bus Bus, notifications NotificationStore, opts ...Option) *Publisher {
	p := &Publisher{bus: bus, notifications: notifications, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Target narrows a publish to part of a channel.
type Target struct {
	ExceptConn string
	ExceptUser string
}

// Publish encodes env once and delivers it to channel.
func (p *Publisher) Publish(ctx context.Context, channel string, env protocol.Envelope, target Target) error {
	frame, err := env.Encode()
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", env.Kind, channel, err)
	}
	err = p.bus.Deliver(ctx, chat.Delivery{
		Channel:    channel,
		Frame:      frame,
		ExceptConn: target.ExceptConn,
		ExceptUser: target.ExceptUser,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", env.Kind, channel, err)
	}
	logger.Debug("published",
		zap.String("kind", env.Kind.String()), zap.String("channel", channel), zap.String("origin", env.Origin))
	return nil
}

// PresenceChanged publishes user-online or user-offline to the feed. Its
// signature matches presence.Transition.
func (p *Publisher) PresenceChanged(ctx context.Context, userID string, online bool) {
	kind := protocol.KindUserOffline
	if online {
		kind = protocol.KindUserOnline
	}
	env := protocol.Envelope{Kind: kind, Payload: userID, Origin: userID}
	if err := p.Publish(ctx, protocol.FeedChannel, env, Target{}); err != nil {
		logger.Error("presence publish failed", zap.String("user", userID), zap.Error(err))
	}
}

// PostCreated signals that the feed set changed. Only identifiers are sent.
func (p *Publisher) PostCreated(ctx context.Context, post protocol.Post) error {
	return p.Publish(ctx, protocol.FeedChannel, protocol.Envelope{
		Kind:    protocol.KindNewPost,
		Payload: protocol.NewPostPayload{PostID: post.ID, AuthorID: post.Author.ID},
		Origin:  post.Author.ID,
	}, Target{})
}

// PostLiked publishes the new like count after actor toggled a like on post.
// post is the state after the toggle. The owner is notified only when the
// toggle added a like and the actor is someone else.
func (p *Publisher) PostLiked(ctx context.Context, actor protocol.UserRef, post protocol.Post) error {
	liked := post.LikedBy(actor.ID)

	var errs []error
	if liked && actor.ID != post.Author.ID {
		errs = append(errs, p.notify(ctx, protocol.Notification{
			Recipient:     post.Author.ID,
			Type:          protocol.NotificationLike,
			Actor:         actor,
			SubjectPostID: post.ID,
		}, true))
	}

	errs = append(errs, p.Publish(ctx, protocol.FeedChannel, protocol.Envelope{
		Kind: protocol.KindPostLiked,
		Payload: protocol.PostLikedPayload{
			PostID:     post.ID,
			LikesCount: post.LikesCount,
			ActorID:    actor.ID,
			Liked:      liked,
		},
		Origin: actor.ID,
	}, Target{}))
	return errors.Join(errs...)
}

// PostUpdated publishes the full edited post.
func (p *Publisher) PostUpdated(ctx context.Context, actorID string, post protocol.Post) error {
	return p.Publish(ctx, protocol.FeedChannel, protocol.Envelope{
		Kind:    protocol.KindPostUpdated,
		Payload: protocol.PostUpdatedPayload{Post: post, ActorID: actorID},
		Origin:  actorID,
	}, Target{})
}

// PostDeleted publishes the removal of a post.
func (p *Publisher) PostDeleted(ctx context.Context, actorID, postID string) error {
	return p.Publish(ctx, protocol.FeedChannel, protocol.Envelope{
		Kind:    protocol.KindPostDeleted,
		Payload: protocol.PostDeletedPayload{PostID: postID},
		Origin:  actorID,
	}, Target{})
}

// CommentAdded publishes the full comment list of post after actor commented,
// notifying the owner when the actor is someone else.
func (p *Publisher) CommentAdded(ctx context.Context, actor protocol.UserRef, post protocol.Post) error {
	var errs []error
	if actor.ID != post.Author.ID {
		errs = append(errs, p.notify(ctx, protocol.Notification{
			Recipient:     post.Author.ID,
			Type:          protocol.NotificationComment,
			Actor:         actor,
			SubjectPostID: post.ID,
		}, true))
	}

	errs = append(errs, p.Publish(ctx, protocol.FeedChannel, protocol.Envelope{
		Kind:    protocol.KindCommentAdded,
		Payload: protocol.CommentAddedPayload{PostID: post.ID, Comments: post.Comments, ActorID: actor.ID},
		Origin:  actor.ID,
	}, Target{}))
	return errors.Join(errs...)
}

// MessageSent alerts every other participant on their private channel and
// delivers the message to the conversation channel. Message alerts are not persisted.
func (p *Publisher) MessageSent(ctx context.Context, msg protocol.Message, participants []string) error {
	var errs []error
	for _, userID := range participants {
		if userID == msg.Sender.ID {
			continue
		}
		errs = append(errs, p.notify(ctx, protocol.Notification{
			Recipient:      userID,
			Type:           protocol.NotificationMessage,
			Actor:          msg.Sender,
			ConversationID: msg.ConversationID,
		}, false))
	}

	target := Target{}
	if p.echo == EchoExcludeSender {
		target.ExceptUser = msg.Sender.ID
	}
	errs = append(errs, p.Publish(ctx, protocol.ConversationChannel(msg.ConversationID), protocol.Envelope{
		Kind:    protocol.KindNewMessage,
		Payload: msg,
		Origin:  msg.Sender.ID,
	}, target))
	return errors.Join(errs...)
}

// Typing relays a typing state to a conversation, skipping the sending connection.
func (p *Publisher) Typing(ctx context.Context, conversationID, userID, connID string, isTyping bool) error {
	return p.Publish(ctx, protocol.ConversationChannel(conversationID), protocol.Envelope{
		Kind:    protocol.KindUserTyping,
		Payload: protocol.TypingPayload{ConversationID: conversationID, UserID: userID, IsTyping: isTyping},
		Origin:  userID,
	}, Target{ExceptConn: connID})
}

func (p *Publisher) notify(ctx context.Context, n protocol.Notification, persist bool) error {
	if persist {
		created, err := p.notifications.Create(ctx, n)
		if err != nil {
			return fmt.Errorf("create %s notification for %s: %w", n.Type, n.Recipient, err)
		}
		n = created
	} else if n.CreatedAt.IsZero() {
		n.CreatedAt = p.now().UTC()
	}
	return p.Publish(ctx, protocol.UserChannel(n.Recipient), protocol.Envelope{
		Kind:    protocol.KindNotification,
		Payload: n,
		Origin:  n.Actor.ID,
	}, Target{})
}
