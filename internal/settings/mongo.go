package settings

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const CollectionName = "backup_settings"

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(CollectionName)}
}

// idFilter matches both ObjectID and plain string ids.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Settings, error) {
	var out Settings
	err := s.collection.FindOne(ctx, idFilter(id)).Decode(&out)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("settings %s: %w", id, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find settings: %w", err)
	}
	return &out, nil
}

func (s *MongoStore) List(ctx context.Context) ([]*Settings, error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*Settings
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return out, nil
}

// Save upserts s under its string id. Records stored with ObjectID keys by
// other writers are readable through Get but are not rewritten here.
func (s *MongoStore) Save(ctx context.Context, in *Settings) error {
	if in.ID != "" && in.CreatedAt.IsZero() {
		if prev, err := s.Get(ctx, in.ID); err == nil {
			in.CreatedAt = prev.CreatedAt
		}
	}
	stamp(in, time.Now().UTC())

	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": in.ID}, in, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
