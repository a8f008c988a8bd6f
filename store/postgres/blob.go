package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/waypoint"
)

// Put stores data under key. Keys are version-unique in practice, but the
// upsert keeps the operation idempotent for degraded-write replays.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	m := &blobModel{
		Key:       key,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (key) DO UPDATE").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("waypoint/postgres: put blob: %w", err)
	}
	return nil
}

// Get retrieves the data stored under key. Returns
// waypoint.ErrBlobNotFound when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	m := new(blobModel)
	err := s.db.NewSelect().Model(m).
		Where("key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, waypoint.ErrBlobNotFound
		}
		return nil, fmt.Errorf("waypoint/postgres: get blob: %w", err)
	}
	return m.Data, nil
}
