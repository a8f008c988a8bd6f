package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/checkpoint"
)

// PutRow persists a new checkpoint version. The insert rides on the
// composite primary key: a duplicate (thread_id, checkpoint_id, ts)
// surfaces as waypoint.ErrVersionExists and nothing is overwritten.
func (s *Store) PutRow(ctx context.Context, row *checkpoint.Row) error {
	m := toCheckpointModel(row)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return waypoint.ErrVersionExists
		}
		return fmt.Errorf("waypoint/postgres: put row: %w", err)
	}
	return nil
}

// LatestRow returns the newest row for the given slot, or — when slot is
// empty — the newest row for the thread across all slots. Returns
// (nil, nil) when no row exists.
func (s *Store) LatestRow(ctx context.Context, threadID, slot string) (*checkpoint.Row, error) {
	m := new(checkpointModel)
	q := s.db.NewSelect().Model(m).
		Where("thread_id = ?", threadID)
	if slot != "" {
		q = q.Where("checkpoint_id = ?", slot)
	}

	err := q.Order("ts DESC").Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("waypoint/postgres: latest row: %w", err)
	}
	return fromCheckpointModel(m), nil
}

// QueryRows returns all rows for the thread whose slot starts with
// slotPrefix, ordered oldest to newest.
func (s *Store) QueryRows(ctx context.Context, threadID, slotPrefix string) ([]*checkpoint.Row, error) {
	var models []checkpointModel
	q := s.db.NewSelect().Model(&models).
		Where("thread_id = ?", threadID)
	if slotPrefix != "" {
		q = q.Where("checkpoint_id LIKE ?", likePrefix(slotPrefix))
	}

	if err := q.Order("ts ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("waypoint/postgres: query rows: %w", err)
	}

	rows := make([]*checkpoint.Row, 0, len(models))
	for i := range models {
		rows = append(rows, fromCheckpointModel(&models[i]))
	}
	return rows, nil
}

// DeleteExpired removes rows whose expiry is before the given instant,
// along with any blobs they reference, and returns how many rows went.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	// Blobs first, while the referencing rows still exist.
	_, err := s.db.NewDelete().
		Model((*blobModel)(nil)).
		Where("key IN (SELECT blob_ref FROM waypoint_checkpoints WHERE expires_at < ? AND blob_ref <> '')", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("waypoint/postgres: delete expired blobs: %w", err)
	}

	res, err := s.db.NewDelete().
		Model((*checkpointModel)(nil)).
		Where("expires_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("waypoint/postgres: delete expired rows: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}
