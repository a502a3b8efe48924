package job

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const CollectionName = "backups"

type MongoStore struct {
	collection *mongo.Collection
	logger     zerolog.Logger
}

// NewMongoStore binds to the backups collection and makes sure the lookup
// indexes exist. Index failures are logged, not fatal.
func NewMongoStore(db *mongo.Database, logger zerolog.Logger) *MongoStore {
	collection := db.Collection(CollectionName)
	logger = logger.With().Str("component", "job-store").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "settings_id", Value: 1}, {Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "correlation_id", Value: 1}}},
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create indexes on backups")
	}

	return &MongoStore{collection: collection, logger: logger}
}

func (s *MongoStore) Insert(ctx context.Context, rec *Record) error {
	if _, err := s.collection.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert backup record: %w", err)
	}
	return nil
}

// exists distinguishes a missing record from one in the wrong state after a
// conditional write matched nothing.
func (s *MongoStore) exists(ctx context.Context, id string) error {
	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to look up backup record: %w", err)
	}
	if n == 0 {
		return errors.ErrNotFound
	}
	return errors.ErrInvalidTransition
}

func (s *MongoStore) Finish(ctx context.Context, rec *Record) error {
	update := bson.M{
		"$set": bson.M{
			"status":        rec.Status,
			"file_path":     rec.FilePath,
			"file_size":     rec.FileSize,
			"storage_url":   rec.StorageURL,
			"duration_ms":   rec.DurationMs,
			"error_message": rec.ErrorMessage,
			"completed_at":  rec.CompletedAt,
			"metadata":      rec.Metadata,
		},
	}

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": rec.ID, "status": StatusRunning}, update)
	if err != nil {
		return fmt.Errorf("failed to update backup record: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.exists(ctx, rec.ID)
	}
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*Record, error) {
	var rec Record
	err := s.collection.FindOne(ctx, filter, opts...).Decode(&rec)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find backup record: %w", err)
	}
	return &rec, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Record, error) {
	filter := bson.M{"$or": bson.A{bson.M{"_id": id}, bson.M{"correlation_id": id}}}
	return s.findOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}}))
}

func (s *MongoStore) Latest(ctx context.Context, settingsID string) (*Record, error) {
	return s.findOne(ctx, bson.M{"settings_id": settingsID},
		options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}}))
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*Record, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup records: %w", err)
	}
	defer cursor.Close(ctx)

	records := []*Record{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode backup records: %w", err)
	}
	return records, nil
}

func (s *MongoStore) Running(ctx context.Context, correlationID string) ([]*Record, error) {
	return s.find(ctx, bson.M{"correlation_id": correlationID, "status": StatusRunning}, options.Find())
}

func (s *MongoStore) List(ctx context.Context, skip, limit int64) ([]*Record, int64, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}

	records, err := s.find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count backup records: %w", err)
	}
	return records, total, nil
}

func statusCount(status Status) bson.M {
	return bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$status", status}}, 1, 0}}}
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":       nil,
			"total":     bson.M{"$sum": 1},
			"completed": statusCount(StatusCompleted),
			"failed":    statusCount(StatusFailed),
			"running":   statusCount(StatusRunning),
			"totalSize": bson.M{"$sum": bson.M{"$ifNull": bson.A{"$file_size", 0}}},
		}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate backup stats: %w", err)
	}
	defer cursor.Close(ctx)

	var stats Stats
	if cursor.Next(ctx) {
		if err := cursor.Decode(&stats); err != nil {
			return Stats{}, fmt.Errorf("failed to decode backup stats: %w", err)
		}
	}
	return stats, cursor.Err()
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": bson.A{StatusCompleted, StatusFailed}},
	}
	res, err := s.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete backup record: %w", err)
	}
	if res.DeletedCount == 0 {
		return s.exists(ctx, id)
	}
	return nil
}
