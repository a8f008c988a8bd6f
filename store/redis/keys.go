package redis

import (
	"fmt"
	"strconv"
	"strings"
)

// Redis key naming conventions for waypoint data.
// All keys are prefixed with "waypoint:" to avoid collisions.

const keyPrefix = "waypoint:"

// rowKey returns the key for one checkpoint version:
// waypoint:cp:{thread}:{slot}:{unixnano}
func rowKey(threadID, slot string, tsNano int64) string {
	return fmt.Sprintf("%scp:%s:%s:%d", keyPrefix, threadID, slot, tsNano)
}

// threadIndexKey returns the Sorted Set indexing a thread's versions:
// waypoint:cp_idx:{thread}. Scores are the version timestamps in
// nanoseconds; members carry the slot and timestamp.
func threadIndexKey(threadID string) string {
	return keyPrefix + "cp_idx:" + threadID
}

// blobKey returns the key for a blob payload: waypoint:blob:{ref}
func blobKey(ref string) string { return keyPrefix + "blob:" + ref }

// indexMember encodes (slot, ts) into an index member. The separator is
// safe because slots never contain "|".
func indexMember(slot string, tsNano int64) string {
	return slot + "|" + strconv.FormatInt(tsNano, 10)
}

// splitIndexMember decodes an index member back into (slot, ts).
func splitIndexMember(member string) (slot string, tsNano int64, ok bool) {
	i := strings.LastIndexByte(member, '|')
	if i < 0 {
		return "", 0, false
	}
	nano, err := strconv.ParseInt(member[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return member[:i], nano, true
}
