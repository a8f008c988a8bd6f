package sqlite_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/checkpoint"
	"github.com/xraph/waypoint/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	s, err := sqlite.New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func row(threadID, slot string, ts time.Time) *checkpoint.Row {
	return &checkpoint.Row{
		ThreadID:  threadID,
		Slot:      slot,
		Timestamp: ts,
		State:     []byte(`{"v":1}`),
		Metadata:  []byte(`{}`),
		ExpiresAt: ts.Add(time.Hour),
	}
}

func TestStore_PutRowRejectsDuplicateVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	if err := s.PutRow(ctx, row("t1", "slot", ts)); err != nil {
		t.Fatalf("PutRow() error = %v", err)
	}
	if err := s.PutRow(ctx, row("t1", "slot", ts)); !errors.Is(err, waypoint.ErrVersionExists) {
		t.Errorf("duplicate PutRow() error = %v, want ErrVersionExists", err)
	}
	if err := s.PutRow(ctx, row("t1", "slot", ts.Add(time.Nanosecond))); err != nil {
		t.Errorf("new version PutRow() error = %v", err)
	}
}

func TestStore_LatestRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, slot := range []string{"a", "b", "a"} {
		if err := s.PutRow(ctx, row("t1", slot, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("PutRow() error = %v", err)
		}
	}

	got, err := s.LatestRow(ctx, "t1", "a")
	if err != nil {
		t.Fatalf("LatestRow() error = %v", err)
	}
	if !got.Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("latest a timestamp = %v, want %v", got.Timestamp, base.Add(2*time.Second))
	}

	got, err = s.LatestRow(ctx, "t1", "")
	if err != nil {
		t.Fatalf("LatestRow() error = %v", err)
	}
	if got.Slot != "a" {
		t.Errorf("thread-wide latest slot = %q, want %q", got.Slot, "a")
	}

	got, err = s.LatestRow(ctx, "no-such-thread", "")
	if err != nil || got != nil {
		t.Errorf("LatestRow(absent) = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestStore_QueryRowsPrefixAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, slot := range []string{"phase1_a", "phase2_a", "phase1_b", "other"} {
		if err := s.PutRow(ctx, row("t1", slot, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("PutRow() error = %v", err)
		}
	}

	rows, err := s.QueryRows(ctx, "t1", "phase1")
	if err != nil {
		t.Fatalf("QueryRows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Slot != "phase1_a" || rows[1].Slot != "phase1_b" {
		t.Errorf("rows out of order: %q, %q", rows[0].Slot, rows[1].Slot)
	}

	all, err := s.QueryRows(ctx, "t1", "")
	if err != nil {
		t.Fatalf("QueryRows() error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("len(all) = %d, want 4", len(all))
	}
}

func TestStore_DeleteExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := row("t1", "old", now.Add(-2*time.Hour))
	old.ExpiresAt = now.Add(-time.Hour)
	old.BlobRef = "checkpoints/t1/old/1.json"
	old.State = nil
	if err := s.PutRow(ctx, old); err != nil {
		t.Fatalf("PutRow() error = %v", err)
	}
	if err := s.Put(ctx, old.BlobRef, []byte("payload")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.PutRow(ctx, row("t1", "fresh", now)); err != nil {
		t.Fatalf("PutRow() error = %v", err)
	}

	deleted, err := s.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if got, _ := s.LatestRow(ctx, "t1", "old"); got != nil {
		t.Error("expired row still present")
	}
	if _, err := s.Get(ctx, old.BlobRef); !errors.Is(err, waypoint.ErrBlobNotFound) {
		t.Errorf("expired blob Get() error = %v, want ErrBlobNotFound", err)
	}
}

func TestStore_BlobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data := []byte("large payload")
	if err := s.Put(ctx, "k", data); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get() = %q, want %q", got, data)
	}

	// Upsert overwrites in place.
	if err := s.Put(ctx, "k", []byte("replaced")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err = s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "replaced" {
		t.Errorf("Get() after upsert = %q", got)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, waypoint.ErrBlobNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrBlobNotFound", err)
	}
}
