package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jorgepascosoto/vaultdb/internal/errors"
)

const (
	mongoConnectTimeout = 30 * time.Second
)

// documentSource is the read side of a document store. Page with limit 0
// returns every document from skip onwards.
type documentSource interface {
	Collections(ctx context.Context) ([]string, error)
	Count(ctx context.Context, collection string) (int64, error)
	Page(ctx context.Context, collection string, skip, limit int64) ([]bson.Raw, error)
	Close(ctx context.Context) error
}

type sourceOpener func(ctx context.Context, uri, database string) (documentSource, error)

// ExportMetadata is the top-level summary written next to the export.
type ExportMetadata struct {
	Database       string        `json:"database"`
	ExportDate     time.Time     `json:"exportDate"`
	Collections    []EntityStats `json:"collections"`
	TotalDocuments int64         `json:"totalDocuments"`
	TotalSize      int64         `json:"totalSize"`
	Version        string        `json:"version"`
}

type MongoStrategy struct {
	open   sourceOpener
	logger zerolog.Logger
}

func NewMongoStrategy(logger zerolog.Logger) *MongoStrategy {
	return &MongoStrategy{
		open:   openMongoSource,
		logger: logger.With().Str("component", "mongodb-strategy").Logger(),
	}
}

func (s *MongoStrategy) DatabaseType() string {
	return "mongodb"
}

func (s *MongoStrategy) Execute(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	defer recoverResult(start, &res)

	conn := req.Connection.resolved(req.Kind)
	chunkSize, threshold := chunking(req.Options)

	uri := mongoURI(req.Connection, conn)
	s.logger.Info().Str("uri", RedactConnectionString(uri)).Str("database", conn.Database).Msg("connecting to mongodb")

	src, err := s.open(ctx, uri, conn.Database)
	if err != nil {
		return failure(start, errors.NewBackupError(s.DatabaseType(), conn.Database, err))
	}
	defer func() {
		if err := src.Close(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close mongodb connection")
		}
	}()

	names, err := src.Collections(ctx)
	if err != nil {
		return failure(start, errors.NewBackupError(s.DatabaseType(), conn.Database,
			errors.Kind(errors.ErrConnectionFailed, fmt.Errorf("failed to list collections: %w", err))))
	}

	if err := os.MkdirAll(req.OutputPath, 0o755); err != nil {
		return failure(start, errors.NewBackupError(s.DatabaseType(), conn.Database,
			errors.Kind(errors.ErrIOFailed, fmt.Errorf("failed to create output directory: %w", err))))
	}

	exporter := &chunkedExporter{
		src:       src,
		dir:       req.OutputPath,
		chunkSize: chunkSize,
		threshold: threshold,
		compress:  req.Options.Compress,
		logger:    s.logger,
	}

	entities := make([]EntityStats, 0, len(names))
	for _, name := range names {
		stats, err := exporter.exportCollection(ctx, name)
		if err != nil {
			return failure(start, errors.NewBackupError(s.DatabaseType(), conn.Database, err))
		}
		entities = append(entities, stats)
	}

	stats := newStatistics(entities)

	metadata := ExportMetadata{
		Database:       conn.Database,
		ExportDate:     time.Now().UTC(),
		Collections:    entities,
		TotalDocuments: stats.TotalCount,
		TotalSize:      stats.TotalSize,
		Version:        metadataVersion,
	}
	if _, err := writeJSON(metadataPath(req.OutputPath), metadata); err != nil {
		return failure(start, errors.NewBackupError(s.DatabaseType(), conn.Database, err))
	}

	duration := time.Since(start)
	stats.DurationMs = duration.Milliseconds()

	s.logger.Info().
		Int("collections", stats.TotalEntities).
		Int64("documents", stats.TotalCount).
		Int("chunked", stats.ChunkedEntities()).
		Dur("duration", duration).
		Msg("mongodb export completed")

	return Result{
		Success:  true,
		FilePath: req.OutputPath,
		Size:     stats.TotalSize,
		Duration: duration,
		Stats:    stats,
	}
}

// mongoURI prefers the caller's connection string and otherwise builds one
// from the discrete fields, authenticating against admin.
func mongoURI(orig, conn Connection) string {
	if orig.ConnectionString != "" {
		return orig.ConnectionString
	}

	u := url.URL{
		Scheme:   "mongodb",
		Host:     fmt.Sprintf("%s:%d", conn.Host, conn.Port),
		Path:     "/" + conn.Database,
		RawQuery: "authSource=admin",
	}
	if conn.User != "" {
		if conn.Password != "" {
			u.User = url.UserPassword(conn.User, conn.Password)
		} else {
			u.User = url.User(conn.User)
		}
	}
	return u.String()
}

type mongoSource struct {
	client *mongo.Client
	db     *mongo.Database
}

func openMongoSource(ctx context.Context, uri, database string) (documentSource, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(mongoConnectTimeout).
		SetConnectTimeout(mongoConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Kind(errors.ErrConnectionFailed, fmt.Errorf("failed to connect: %s", RedactConnectionString(err.Error())))
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Kind(errors.ErrConnectionFailed, fmt.Errorf("failed to ping: %s", RedactConnectionString(err.Error())))
	}

	return &mongoSource{client: client, db: client.Database(database)}, nil
}

func (m *mongoSource) Collections(ctx context.Context) ([]string, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{{Key: "type", Value: "collection"}})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (m *mongoSource) Count(ctx context.Context, collection string) (int64, error) {
	return m.db.Collection(collection).CountDocuments(ctx, bson.D{})
}

func (m *mongoSource) Page(ctx context.Context, collection string, skip, limit int64) ([]bson.Raw, error) {
	opts := options.Find()
	if skip > 0 {
		opts.SetSkip(skip)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := m.db.Collection(collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.Raw
	for cursor.Next(ctx) {
		doc := make(bson.Raw, len(cursor.Current))
		copy(doc, cursor.Current)
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *mongoSource) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
