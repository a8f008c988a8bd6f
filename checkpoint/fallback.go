package checkpoint

import (
	"sort"
	"strings"
	"sync"
)

// fallbackStore is the in-process store the saver degrades to when the
// durable backends are exhausted. It holds rows and blobs in bare maps
// behind a mutex and is merged into every read so a degraded write stays
// visible for the remainder of the process lifetime.
type fallbackStore struct {
	mu    sync.RWMutex
	rows  map[string][]*Row // key: threadID
	blobs map[string][]byte
}

func newFallbackStore() *fallbackStore {
	return &fallbackStore{
		rows:  make(map[string][]*Row),
		blobs: make(map[string][]byte),
	}
}

// put appends a row. The fallback never rejects: a degraded write must
// always land somewhere.
func (f *fallbackStore) put(row *Row) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *row
	f.rows[row.ThreadID] = append(f.rows[row.ThreadID], &cp)
}

// putBlob stores a blob payload under key.
func (f *fallbackStore) putBlob(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	f.blobs[key] = cp
}

// getBlob retrieves a blob payload, or nil when absent.
func (f *fallbackStore) getBlob(key string) []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.blobs[key]
}

// query returns copies of all rows for the thread whose slot starts with
// slotPrefix, oldest to newest.
func (f *fallbackStore) query(threadID, slotPrefix string) []*Row {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var result []*Row
	for _, r := range f.rows[threadID] {
		if slotPrefix != "" && !strings.HasPrefix(r.Slot, slotPrefix) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, k int) bool {
		return result[i].Timestamp.Before(result[k].Timestamp)
	})

	return result
}

// latest returns the newest row for the slot (or the whole thread when
// slot is empty), or nil.
func (f *fallbackStore) latest(threadID, slot string) *Row {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var newest *Row
	for _, r := range f.rows[threadID] {
		if slot != "" && r.Slot != slot {
			continue
		}
		if newest == nil || r.Timestamp.After(newest.Timestamp) {
			newest = r
		}
	}
	if newest == nil {
		return nil
	}

	cp := *newest
	return &cp
}
