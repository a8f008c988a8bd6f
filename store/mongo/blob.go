package mongo

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/waypoint"
)

// blobDoc is the BSON document shape for a blob payload.
type blobDoc struct {
	Key       string    `bson:"key"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

// Put stores data under key. Keys are version-unique in practice, but the
// upsert keeps the operation idempotent for degraded-write replays.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	doc := blobDoc{Key: key, Data: data, CreatedAt: time.Now().UTC()}

	opts := options.UpdateOne().SetUpsert(true)
	_, err := s.db.Collection(colBlobs).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": doc},
		opts,
	)
	if err != nil {
		return fmt.Errorf("waypoint/mongo: put blob: %w", err)
	}
	return nil
}

// Get retrieves the data stored under key. Returns
// waypoint.ErrBlobNotFound when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var doc blobDoc
	err := s.db.Collection(colBlobs).FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if err != nil {
		if isNoDocuments(err) {
			return nil, waypoint.ErrBlobNotFound
		}
		return nil, fmt.Errorf("waypoint/mongo: get blob: %w", err)
	}
	return doc.Data, nil
}

// escapeRegex quotes regex metacharacters in a literal prefix.
func escapeRegex(s string) string {
	return regexp.QuoteMeta(s)
}
