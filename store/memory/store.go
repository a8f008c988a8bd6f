// Package memory implements the checkpoint Table and Blob contracts
// entirely in process memory. It backs development mode and unit tests;
// nothing it stores survives a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/waypoint"
	"github.com/xraph/waypoint/checkpoint"
)

// Compile-time interface checks.
var (
	_ checkpoint.Table = (*Store)(nil)
	_ checkpoint.Blob  = (*Store)(nil)
)

// Store is a fully in-memory implementation of both backend contracts.
// Safe for concurrent access. "Latest" is resolved by comparing
// timestamps in memory, mirroring how the durable backends order their
// sort keys.
type Store struct {
	mu sync.RWMutex

	// rows is keyed by threadID#slot#timestamp so the create-if-absent
	// condition falls out of a plain map existence check.
	rows  map[string]*checkpoint.Row
	blobs map[string][]byte
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		rows:  make(map[string]*checkpoint.Row),
		blobs: make(map[string][]byte),
	}
}

// rowKey builds the composite version key.
func rowKey(threadID, slot string, ts time.Time) string {
	return threadID + "#" + slot + "#" + ts.UTC().Format(time.RFC3339Nano)
}

// ──────────────────────────────────────────────────
// Table
// ──────────────────────────────────────────────────

// PutRow persists a new row, failing with waypoint.ErrVersionExists when
// the composite key is already taken.
func (m *Store) PutRow(_ context.Context, row *checkpoint.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rowKey(row.ThreadID, row.Slot, row.Timestamp)
	if _, exists := m.rows[key]; exists {
		return waypoint.ErrVersionExists
	}
	cp := *row
	m.rows[key] = &cp
	return nil
}

// LatestRow returns the newest row for the slot, or for the whole thread
// when slot is empty. Returns (nil, nil) when no row exists.
func (m *Store) LatestRow(_ context.Context, threadID, slot string) (*checkpoint.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var newest *checkpoint.Row
	for _, r := range m.rows {
		if r.ThreadID != threadID {
			continue
		}
		if slot != "" && r.Slot != slot {
			continue
		}
		if newest == nil || r.Timestamp.After(newest.Timestamp) {
			newest = r
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

// QueryRows returns all rows for the thread with the given slot prefix,
// ordered oldest to newest.
func (m *Store) QueryRows(_ context.Context, threadID, slotPrefix string) ([]*checkpoint.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*checkpoint.Row
	for _, r := range m.rows {
		if r.ThreadID != threadID {
			continue
		}
		if slotPrefix != "" && !strings.HasPrefix(r.Slot, slotPrefix) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, k int) bool {
		return result[i].Timestamp.Before(result[k].Timestamp)
	})

	return result, nil
}

// DeleteExpired removes rows whose ExpiresAt has passed, along with any
// blobs they reference.
func (m *Store) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, r := range m.rows {
		if r.ExpiresAt.IsZero() || !r.ExpiresAt.Before(before) {
			continue
		}
		if r.BlobRef != "" {
			delete(m.blobs, r.BlobRef)
		}
		delete(m.rows, key)
		count++
	}
	return count, nil
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Blob
// ──────────────────────────────────────────────────

// Put stores data under key.
func (m *Store) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return nil
}

// Get retrieves the data stored under key.
func (m *Store) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, waypoint.ErrBlobNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}
