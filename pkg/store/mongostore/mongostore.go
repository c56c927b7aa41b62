package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mkhaled87/chat-relay/pkg/config"
	"github.com/mkhaled87/chat-relay/pkg/store"
)

// MongoStore implements store.Store on top of the users and messages
// collections.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	logger   *slog.Logger
}

var _ store.Store = (*MongoStore)(nil)

// New connects to MongoDB and ensures the indexes the query paths rely on.
func New(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:   client,
		users:    db.Collection("users"),
		messages: db.Collection("messages"),
		logger:   logger.With(slog.String("component", "mongostore")),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		return nil, err
	}
	s.logger.Info("MongoDB connected", slog.String("database", cfg.Database))
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "isOnline", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "room", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "isPrivate", Value: 1}, {Key: "senderId", Value: 1}, {Key: "recipient", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("messages indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) FindUserByUsername(ctx context.Context, username string) (*store.User, error) {
	var user store.User
	err := s.users.FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (s *MongoStore) UpsertUser(ctx context.Context, username string) (*store.User, error) {
	now := time.Now()
	update := bson.M{
		"$set":         bson.M{"isOnline": true, "lastSeen": now},
		"$setOnInsert": bson.M{"username": username, "joinedAt": now},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var user store.User
	err := s.users.FindOneAndUpdate(ctx, bson.M{"username": username}, update, opts).Decode(&user)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &user, nil
}

func (s *MongoStore) SetUserOnline(ctx context.Context, userID string, online bool) error {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("set user online: %w", err)
	}
	update := bson.M{"$set": bson.M{"isOnline": online, "lastSeen": time.Now()}}
	if _, err := s.users.UpdateByID(ctx, oid, update); err != nil {
		return fmt.Errorf("set user online: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertMessage(ctx context.Context, msg *store.Message) error {
	res, err := s.messages.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid
	}
	return nil
}

func (s *MongoStore) FindRecentMessages(ctx context.Context, room string, limit int) ([]store.Message, error) {
	filter := bson.M{"room": room, "isPrivate": false}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find recent messages: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []store.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode recent messages: %w", err)
	}
	return msgs, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
