package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/waypoint"
)

// Put stores a blob payload. Blob keys are version-unique, so a plain SET
// is effectively create-only.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, blobKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("waypoint/redis: put blob: %w", err)
	}
	return nil
}

// Get retrieves a blob payload. Returns waypoint.ErrBlobNotFound when the
// key does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, blobKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, waypoint.ErrBlobNotFound
		}
		return nil, fmt.Errorf("waypoint/redis: get blob: %w", err)
	}
	return data, nil
}
