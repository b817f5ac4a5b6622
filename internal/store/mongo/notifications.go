// Package mongo persists notifications in MongoDB.
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/omochice/socket-feed/internal/fanout"
	"github.com/omochice/socket-feed/pkg/protocol"
)

// Config represents the MongoDB configuration.
type Config struct {
	URI         string
	Database    string
	Collection  string
	MaxPoolSize uint64
	Timeout     time.Duration
}

type notificationDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	Recipient      string             `bson:"recipient"`
	Type           string             `bson:"type"`
	ActorID        string             `bson:"actor_id"`
	ActorName      string             `bson:"actor_name,omitempty"`
	ActorAvatar    string             `bson:"actor_avatar,omitempty"`
	SubjectPostID  string             `bson:"subject_post_id,omitempty"`
	ConversationID string             `bson:"conversation_id,omitempty"`
	CreatedAt      time.Time          `bson:"created_at"`
}

// NotificationStore implements fanout.NotificationStore on a collection.
type NotificationStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

var _ fanout.NotificationStore = (*NotificationStore)(nil)

// NewNotificationStore wraps an existing collection.
func NewNotificationStore(coll *mongo.Collection) *NotificationStore {
	return &NotificationStore{coll: coll, now: time.Now}
}

// Connect opens a client and returns the store with a close function for the client.
func Connect(ctx context.Context, cfg Config) (*NotificationStore, func(context.Context) error, error) {
	if cfg.URI == "" {
		return nil, nil, errors.New("mongo uri is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := options.Client().ApplyURI(cfg.URI).SetServerSelectionTimeout(cfg.Timeout)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, errors.Wrap(err, "mongo connect")
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, errors.Wrap(err, "mongo ping")
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, errors.Wrap(err, "mongo create index")
	}
	return NewNotificationStore(coll), client.Disconnect, nil
}

func (s *NotificationStore) Create(ctx context.Context, n protocol.Notification) (protocol.Notification, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	doc := toDoc(n)
	doc.ID = primitive.NewObjectID()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return protocol.Notification{}, errors.Wrapf(err, "insert notification for %s", n.Recipient)
	}
	return fromDoc(doc), nil
}

// List returns the newest notifications of recipient first.
func (s *NotificationStore) List(ctx context.Context, recipient string, limit int) ([]protocol.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, bson.M{"recipient": recipient}, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "find notifications for %s", recipient)
	}
	defer cur.Close(ctx)

	var docs []notificationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "decode notifications for %s", recipient)
	}
	out := make([]protocol.Notification, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromDoc(d))
	}
	return out, nil
}

func toDoc(n protocol.Notification) notificationDoc {
	return notificationDoc{
		Recipient:      n.Recipient,
		Type:           n.Type,
		ActorID:        n.Actor.ID,
		ActorName:      n.Actor.Name,
		ActorAvatar:    n.Actor.AvatarURL,
		SubjectPostID:  n.SubjectPostID,
		ConversationID: n.ConversationID,
		CreatedAt:      n.CreatedAt,
	}
}

func fromDoc(d notificationDoc) protocol.Notification {
	return protocol.Notification{
		ID:             d.ID.Hex(),
		Recipient:      d.Recipient,
		Type:           d.Type,
		Actor:          protocol.UserRef{ID: d.ActorID, Name: d.ActorName, AvatarURL: d.ActorAvatar},
		SubjectPostID:  d.SubjectPostID,
		ConversationID: d.ConversationID,
		CreatedAt:      d.CreatedAt,
	}
}
