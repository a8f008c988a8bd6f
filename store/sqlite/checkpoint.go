package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/checkpoint"
)

// PutRow persists a new checkpoint version. The composite primary key
// turns a losing concurrent write into waypoint.ErrVersionExists; nothing
// is overwritten.
func (s *Store) PutRow(ctx context.Context, row *checkpoint.Row) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO waypoint_checkpoints
			(thread_id, checkpoint_id, ts_nano, state, metadata, blob_ref, size_bytes, expires_nano)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ThreadID, row.Slot, row.Timestamp.UnixNano(),
		row.State, row.Metadata, row.BlobRef, row.SizeBytes,
		row.ExpiresAt.UnixNano(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return waypoint.ErrVersionExists
		}
		return fmt.Errorf("waypoint/sqlite: put row: %w", err)
	}
	return nil
}

// LatestRow returns the newest row for the given slot, or — when slot is
// empty — the newest row for the thread across all slots. Returns
// (nil, nil) when no row exists.
func (s *Store) LatestRow(ctx context.Context, threadID, slot string) (*checkpoint.Row, error) {
	query := `
		SELECT thread_id, checkpoint_id, ts_nano, state, metadata, blob_ref, size_bytes, expires_nano
		FROM waypoint_checkpoints
		WHERE thread_id = ?`
	args := []any{threadID}
	if slot != "" {
		query += ` AND checkpoint_id = ?`
		args = append(args, slot)
	}
	query += ` ORDER BY ts_nano DESC LIMIT 1`

	row, err := scanRow(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("waypoint/sqlite: latest row: %w", err)
	}
	return row, nil
}

// QueryRows returns all rows for the thread whose slot starts with
// slotPrefix, ordered oldest to newest.
func (s *Store) QueryRows(ctx context.Context, threadID, slotPrefix string) ([]*checkpoint.Row, error) {
	query := `
		SELECT thread_id, checkpoint_id, ts_nano, state, metadata, blob_ref, size_bytes, expires_nano
		FROM waypoint_checkpoints
		WHERE thread_id = ?`
	args := []any{threadID}
	if slotPrefix != "" {
		query += ` AND checkpoint_id LIKE ? ESCAPE '\'`
		args = append(args, likePrefix(slotPrefix))
	}
	query += ` ORDER BY ts_nano ASC`

	rs, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("waypoint/sqlite: query rows: %w", err)
	}
	defer rs.Close()

	var rows []*checkpoint.Row
	for rs.Next() {
		row, err := scanRow(rs)
		if err != nil {
			return nil, fmt.Errorf("waypoint/sqlite: scan row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("waypoint/sqlite: query rows: %w", err)
	}
	return rows, nil
}

// DeleteExpired removes rows whose expiry is before the given instant,
// along with any blobs they reference, and returns how many rows went.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	nano := before.UnixNano()

	// Blobs first, while the referencing rows still exist.
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM waypoint_blobs
		WHERE key IN (
			SELECT blob_ref FROM waypoint_checkpoints
			WHERE expires_nano < ? AND blob_ref <> ''
		)`, nano)
	if err != nil {
		return 0, fmt.Errorf("waypoint/sqlite: delete expired blobs: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM waypoint_checkpoints WHERE expires_nano < ?`, nano)
	if err != nil {
		return 0, fmt.Errorf("waypoint/sqlite: delete expired rows: %w", err)
	}
	return res.RowsAffected()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (*checkpoint.Row, error) {
	var (
		row         checkpoint.Row
		tsNano      int64
		expiresNano int64
	)
	err := sc.Scan(
		&row.ThreadID, &row.Slot, &tsNano,
		&row.State, &row.Metadata, &row.BlobRef, &row.SizeBytes,
		&expiresNano,
	)
	if err != nil {
		return nil, err
	}
	row.Timestamp = time.Unix(0, tsNano).UTC()
	row.ExpiresAt = time.Unix(0, expiresNano).UTC()
	return &row, nil
}
