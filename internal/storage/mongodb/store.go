// Package mongodb backs the duplicate detection store with MongoDB so
// that a cluster of receivers shares one view of seen message IDs.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds MongoDB connection settings.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// DuplicateStore implements duplicate.Store on a MongoDB collection.
// The unique index on message_id makes CheckAndRecord atomic across
// processes: the first insert wins and every later one comes back as a
// duplicate key error.
type DuplicateStore struct {
	client *mongo.Client
	seen   *mongo.Collection
}

type seenDoc struct {
	MessageID string    `bson:"message_id"`
	SeenAt    time.Time `bson:"seen_at"`
}

// NewDuplicateStore connects to MongoDB and prepares the collection.
func NewDuplicateStore(ctx context.Context, cfg *Config) (*DuplicateStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	collName := cfg.Collection
	if collName == "" {
		collName = "seen_messages"
	}
	coll := client.Database(cfg.Database).Collection(collName)

	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "seen_at", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("creating duplicate indexes: %w", err)
	}

	return &DuplicateStore{client: client, seen: coll}, nil
}

// CheckAndRecord inserts the message ID and reports whether it was
// already present.
func (s *DuplicateStore) CheckAndRecord(ctx context.Context, messageID string, seenAt time.Time) (bool, error) {
	_, err := s.seen.InsertOne(ctx, seenDoc{MessageID: messageID, SeenAt: seenAt})
	if mongo.IsDuplicateKeyError(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("recording message ID: %w", err)
	}
	return false, nil
}

// Contains reports whether the message ID is retained.
func (s *DuplicateStore) Contains(ctx context.Context, messageID string) (bool, error) {
	err := s.seen.FindOne(ctx, bson.M{"message_id": messageID}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Expire removes entries seen before the cutoff.
func (s *DuplicateStore) Expire(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.seen.DeleteMany(ctx, bson.M{"seen_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

// Clear removes all entries.
func (s *DuplicateStore) Clear(ctx context.Context) error {
	_, err := s.seen.DeleteMany(ctx, bson.M{})
	return err
}

// Count returns the number of retained entries.
func (s *DuplicateStore) Count(ctx context.Context) (int, error) {
	n, err := s.seen.CountDocuments(ctx, bson.M{})
	return int(n), err
}

// Ping verifies database connectivity.
func (s *DuplicateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *DuplicateStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
