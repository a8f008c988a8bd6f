package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/waypoint"
)

// Put stores data under key. Keys are version-unique in practice, but the
// upsert keeps the operation idempotent for degraded-write replays.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO waypoint_blobs (key, data) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET data = excluded.data`,
		key, data,
	)
	if err != nil {
		return fmt.Errorf("waypoint/sqlite: put blob: %w", err)
	}
	return nil
}

// Get retrieves the data stored under key. Returns
// waypoint.ErrBlobNotFound when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM waypoint_blobs WHERE key = ?`, key,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, waypoint.ErrBlobNotFound
		}
		return nil, fmt.Errorf("waypoint/sqlite: get blob: %w", err)
	}
	return data, nil
}
