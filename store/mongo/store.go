// Package mongo implements the checkpoint backends on MongoDB. The
// create-if-absent semantics ride on a unique compound index over
// (thread_id, checkpoint_id, ts); blobs live in a separate collection
// keyed by their reference.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/waypoint/checkpoint"
)

// Collection name constants.
const (
	colCheckpoints = "waypoint_checkpoints"
	colBlobs       = "waypoint_blobs"
)

// Ensure Store implements the backend contracts at compile time.
var (
	_ checkpoint.Table = (*Store)(nil)
	_ checkpoint.Blob  = (*Store)(nil)
)

// Store is a MongoDB implementation of the checkpoint backends. The
// caller owns the client lifecycle; Store never closes it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store over the given database. The caller
// owns the client lifecycle — the Store will not close it on Close().
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *mongo.Database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates the indexes the backends depend on. The unique version
// index is load-bearing: without it PutRow cannot detect write conflicts.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}

		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("waypoint/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// isDuplicateKey checks for a unique index violation.
func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// isNoDocuments returns true when err indicates no documents were found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes maps collections to the index models created by
// Migrate.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colCheckpoints: {
			// Unique version index backing PutRow's conflict detection.
			{
				Keys: bson.D{
					{Key: "thread_id", Value: 1},
					{Key: "checkpoint_id", Value: 1},
					{Key: "ts", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			// Latest-version reads per thread.
			{Keys: bson.D{
				{Key: "thread_id", Value: 1},
				{Key: "ts", Value: -1},
			}},
			// Expiry sweeps.
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		colBlobs: {
			{
				Keys:    bson.D{{Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
