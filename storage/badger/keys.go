package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/imgmatch/core"
)

// Key prefixes for different data types
const (
	entryPrefix     = "emb:"
	entryTimePrefix = "embt:"
	entryIDSeq      = "embseq"
)

// makeEntryKey generates the primary key for a cache entry.
// Format: prefix fingerprint
func makeEntryKey(fp core.Fingerprint) []byte {
	buf := make([]byte, len(entryPrefix)+len(fp))
	offset := copy(buf, entryPrefix)
	copy(buf[offset:], fp)
	return buf
}

// makeEntryTimeKey generates a composite key for the creation time index.
// Format: prefix timestamp fingerprint
func makeEntryTimeKey(createdAt time.Time, fp core.Fingerprint) []byte {
	buf := make([]byte, len(entryTimePrefix)+8+len(fp))
	offset := copy(buf, entryTimePrefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], fp)
	return buf
}

// makePartialEntryTimeKey generates a partial key for time range scans.
// Format: prefix timestamp
func makePartialEntryTimeKey(ts time.Time) []byte {
	buf := make([]byte, len(entryTimePrefix)+8)
	offset := copy(buf, entryTimePrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(ts.UnixMicro()))
	return buf
}

// parseEntryTimeKey splits a time index key into its timestamp and fingerprint.
func parseEntryTimeKey(key []byte) (int64, core.Fingerprint, bool) {
	if len(key) < len(entryTimePrefix)+8 {
		return 0, "", false
	}
	offset := len(entryTimePrefix)
	micros := int64(binary.BigEndian.Uint64(key[offset : offset+8]))
	return micros, core.Fingerprint(key[offset+8:]), true
}
