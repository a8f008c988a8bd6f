package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/checkpoint"
)

// rowRecord is the JSON shape a row is stored under its key.
type rowRecord struct {
	ThreadID  string    `json:"thread_id"`
	Slot      string    `json:"checkpoint_id"`
	Timestamp time.Time `json:"ts"`
	State     []byte    `json:"state,omitempty"`
	Metadata  []byte    `json:"metadata"`
	BlobRef   string    `json:"blob_ref,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toRecord(row *checkpoint.Row) *rowRecord {
	return &rowRecord{
		ThreadID:  row.ThreadID,
		Slot:      row.Slot,
		Timestamp: row.Timestamp,
		State:     row.State,
		Metadata:  row.Metadata,
		BlobRef:   row.BlobRef,
		SizeBytes: row.SizeBytes,
		ExpiresAt: row.ExpiresAt,
	}
}

func fromRecord(r *rowRecord) *checkpoint.Row {
	return &checkpoint.Row{
		ThreadID:  r.ThreadID,
		Slot:      r.Slot,
		Timestamp: r.Timestamp,
		State:     r.State,
		Metadata:  r.Metadata,
		BlobRef:   r.BlobRef,
		SizeBytes: r.SizeBytes,
		ExpiresAt: r.ExpiresAt,
	}
}

// PutRow persists a new checkpoint version. SET NX is the create-if-absent
// primitive: a losing writer sees waypoint.ErrVersionExists and nothing is
// overwritten. The row key carries the native Redis TTL.
func (s *Store) PutRow(ctx context.Context, row *checkpoint.Row) error {
	data, err := json.Marshal(toRecord(row))
	if err != nil {
		return fmt.Errorf("waypoint/redis: marshal row: %w", err)
	}

	nano := row.Timestamp.UnixNano()
	key := rowKey(row.ThreadID, row.Slot, nano)

	ok, err := s.client.SetNX(ctx, key, data, time.Until(row.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("waypoint/redis: put row: %w", err)
	}
	if !ok {
		return waypoint.ErrVersionExists
	}

	if err := s.client.ZAdd(ctx, threadIndexKey(row.ThreadID), goredis.Z{
		Score:  float64(nano),
		Member: indexMember(row.Slot, nano),
	}).Err(); err != nil {
		return fmt.Errorf("waypoint/redis: index row: %w", err)
	}
	return nil
}

// LatestRow returns the newest row for the given slot, or — when slot is
// empty — the newest row for the thread. Index members whose rows have
// expired are pruned on the way past. Returns (nil, nil) when no row
// exists.
func (s *Store) LatestRow(ctx context.Context, threadID, slot string) (*checkpoint.Row, error) {
	idx := threadIndexKey(threadID)
	members, err := s.client.ZRevRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("waypoint/redis: latest row index: %w", err)
	}

	for _, member := range members {
		mSlot, nano, ok := splitIndexMember(member)
		if !ok {
			continue
		}
		if slot != "" && mSlot != slot {
			continue
		}

		row, err := s.getRow(ctx, threadID, mSlot, nano)
		if err != nil {
			return nil, err
		}
		if row == nil {
			s.pruneMember(ctx, idx, member)
			continue
		}
		return row, nil
	}
	return nil, nil
}

// QueryRows returns all live rows for the thread whose slot starts with
// slotPrefix, ordered oldest to newest.
func (s *Store) QueryRows(ctx context.Context, threadID, slotPrefix string) ([]*checkpoint.Row, error) {
	idx := threadIndexKey(threadID)
	members, err := s.client.ZRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("waypoint/redis: query rows index: %w", err)
	}

	rows := make([]*checkpoint.Row, 0, len(members))
	for _, member := range members {
		mSlot, nano, ok := splitIndexMember(member)
		if !ok {
			continue
		}
		if slotPrefix != "" && !strings.HasPrefix(mSlot, slotPrefix) {
			continue
		}

		row, err := s.getRow(ctx, threadID, mSlot, nano)
		if err != nil {
			return nil, err
		}
		if row == nil {
			s.pruneMember(ctx, idx, member)
			continue
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, k int) bool {
		return rows[i].Timestamp.Before(rows[k].Timestamp)
	})
	return rows, nil
}

// DeleteExpired prunes index members whose rows Redis already expired and
// returns how many were pruned. The rows themselves are removed by the
// native TTL set at write time.
func (s *Store) DeleteExpired(ctx context.Context, _ time.Time) (int64, error) {
	var pruned int64
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"cp_idx:*", 100).Result()
		if err != nil {
			return pruned, fmt.Errorf("waypoint/redis: scan indexes: %w", err)
		}

		for _, idx := range keys {
			threadID := strings.TrimPrefix(idx, keyPrefix+"cp_idx:")
			members, err := s.client.ZRange(ctx, idx, 0, -1).Result()
			if err != nil {
				return pruned, fmt.Errorf("waypoint/redis: scan index %s: %w", idx, err)
			}
			for _, member := range members {
				mSlot, nano, ok := splitIndexMember(member)
				if !ok {
					continue
				}
				exists, err := s.client.Exists(ctx, rowKey(threadID, mSlot, nano)).Result()
				if err != nil {
					return pruned, fmt.Errorf("waypoint/redis: check row: %w", err)
				}
				if exists == 0 {
					s.pruneMember(ctx, idx, member)
					pruned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return pruned, nil
		}
	}
}

func (s *Store) getRow(ctx context.Context, threadID, slot string, nano int64) (*checkpoint.Row, error) {
	data, err := s.client.Get(ctx, rowKey(threadID, slot, nano)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("waypoint/redis: get row: %w", err)
	}

	var rec rowRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("waypoint/redis: unmarshal row: %w", err)
	}
	return fromRecord(&rec), nil
}

func (s *Store) pruneMember(ctx context.Context, idx, member string) {
	if err := s.client.ZRem(ctx, idx, member).Err(); err != nil {
		s.logger.Warn("could not prune stale index member",
			slog.String("index", idx),
			slog.String("member", member),
			slog.String("error", err.Error()),
		)
	}
}
