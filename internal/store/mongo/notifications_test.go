package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/omochice/socket-feed/internal/store/mongo"
	"github.com/omochice/socket-feed/pkg/protocol"
)

func TestNotificationStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("create assigns id and timestamp", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		store := mongo.NewNotificationStore(mt.Coll)

		got, err := store.Create(context.Background(), protocol.Notification{
			Recipient:     "bob",
			Type:          protocol.NotificationLike,
			Actor:         protocol.UserRef{ID: "alice", Name: "Alice"},
			SubjectPostID: "p1",
		})
		require.NoError(mt, err)
		assert.Len(mt, got.ID, 24)
		assert.False(mt, got.CreatedAt.IsZero())
		assert.Equal(mt, "alice", got.Actor.ID)
	})

	mt.Run("create surfaces write errors", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))
		store := mongo.NewNotificationStore(mt.Coll)

		_, err := store.Create(context.Background(), protocol.Notification{Recipient: "bob", Type: protocol.NotificationComment})
		assert.Error(mt, err)
	})

	mt.Run("list decodes documents", func(mt *mtest.T) {
		id := primitive.NewObjectID()
		created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
				{Key: "_id", Value: id},
				{Key: "recipient", Value: "bob"},
				{Key: "type", Value: "comment"},
				{Key: "actor_id", Value: "alice"},
				{Key: "subject_post_id", Value: "p1"},
				{Key: "created_at", Value: created},
			}),
		)
		store := mongo.NewNotificationStore(mt.Coll)

		got, err := store.List(context.Background(), "bob", 10)
		require.NoError(mt, err)
		require.Len(mt, got, 1)
		assert.Equal(mt, protocol.Notification{
			ID:            id.Hex(),
			Recipient:     "bob",
			Type:          "comment",
			Actor:         protocol.UserRef{ID: "alice"},
			SubjectPostID: "p1",
			CreatedAt:     created,
		}, got[0])
	})
}

func TestConnect_RequiresURI(t *testing.T) {
	_, _, err := mongo.Connect(context.Background(), mongo.Config{})
	assert.Error(t, err)
}
