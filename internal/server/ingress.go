package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/omochice/socket-feed/internal/logger"
	"github.com/omochice/socket-feed/pkg/protocol"
)

// Mutation names accepted on POST /internal/events/:kind.
const (
	MutationPostCreated  = "post-created"
	MutationPostLiked    = "post-liked"
	MutationPostUpdated  = "post-updated"
	MutationPostDeleted  = "post-deleted"
	MutationCommentAdded = "comment-added"
	MutationMessageSent  = "message-sent"
)

var errMissingField = errors.New("missing field")

// MutationEvent is the body posted by the mutation service after a write
// committed. Each mutation reads only the fields it needs.
type MutationEvent struct {
	Actor        protocol.UserRef `json:"actor"`
	ActorID      string           `json:"actorId"`
	Post         protocol.Post    `json:"post"`
	PostID       string           `json:"postId"`
	Message      protocol.Message `json:"message"`
	Participants []string         `json:"participants"`
}

// requireServiceToken guards the ingress with a static bearer token.
func (s *Server) requireServiceToken(c *gin.Context) {
	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.IngressToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": protocol.UnauthorizedReason})
		return
	}
	c.Next()
}

func (s *Server) handleMutation(c *gin.Context) {
	kind := c.Param("kind")
	var ev MutationEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var err error
	switch kind {
	case MutationPostCreated:
		if err = need(ev.Post.ID, "post.id"); err == nil {
			err = s.publisher.PostCreated(ctx, ev.Post)
		}
	case MutationPostLiked:
		if err = need(ev.Post.ID, "post.id"); err == nil {
			if err = need(ev.Actor.ID, "actor.id"); err == nil {
				err = s.publisher.PostLiked(ctx, ev.Actor, ev.Post)
			}
		}
	case MutationPostUpdated:
		if err = need(ev.Post.ID, "post.id"); err == nil {
			err = s.publisher.PostUpdated(ctx, ev.ActorID, ev.Post)
		}
	case MutationPostDeleted:
		if err = need(ev.PostID, "postId"); err == nil {
			err = s.publisher.PostDeleted(ctx, ev.ActorID, ev.PostID)
		}
	case MutationCommentAdded:
		if err = need(ev.Post.ID, "post.id"); err == nil {
			if err = need(ev.Actor.ID, "actor.id"); err == nil {
				err = s.publisher.CommentAdded(ctx, ev.Actor, ev.Post)
			}
		}
	case MutationMessageSent:
		if err = need(ev.Message.ConversationID, "message.conversationId"); err == nil {
			if err = need(ev.Message.ID, "message.id"); err == nil {
				err = s.publisher.MessageSent(ctx, ev.Message, ev.Participants)
			}
		}
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown mutation " + kind})
		return
	}

	switch {
	case errors.Is(err, errMissingField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		// events already handed to the bus stay delivered
		logger.Warn("mutation publish failed", zap.String("mutation", kind), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"mutation": kind})
	}
}

func need(value, field string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", errMissingField, field)
	}
	return nil
}
