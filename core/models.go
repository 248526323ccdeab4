package core

import (
	"time"
)

// Fingerprint identifies file content. It is the lowercase hex encoding of a
// BLAKE2b-256 digest of the file bytes, so two files with identical bytes share
// a fingerprint regardless of their name, path or modification time.
type Fingerprint string

// String returns the hex form of the fingerprint.
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns the first 12 characters, for logging.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// CacheEntry is a previously computed analysis of one piece of image content.
// Entries are keyed by fingerprint only; renaming or moving a file never
// invalidates its entry.
type CacheEntry struct {
	RecordID    uint64
	Fingerprint Fingerprint
	Description string    // Text produced by the analysis service
	Embedding   []float32 // Vector produced by the embedding service
	CreatedAt   time.Time // When the entry was (re)written
}

// Dimensions returns the length of the entry's embedding.
func (e *CacheEntry) Dimensions() int {
	return len(e.Embedding)
}

// Source tells whether an embedding came from the cache or was freshly computed.
type Source int

const (
	// SourceCache means the embedding was served from the cache.
	SourceCache Source = iota + 1
	// SourceComputed means the analysis service was called for the embedding.
	SourceComputed
	// SourceShared means another file with the same content was being analyzed
	// at the same time and its result was reused.
	SourceShared
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceComputed:
		return "computed"
	case SourceShared:
		return "shared"
	default:
		return "unknown"
	}
}

// EmbeddingRecord pairs an identifier (usually a source path) with its embedding.
type EmbeddingRecord struct {
	ID        string
	Embedding []float32
}

// Candidate is a scored pairing seen from one side of a match.
type Candidate struct {
	ID         string
	Similarity float64
}

// MatchGroup collects every join item that ranked a base item within its top-N.
// Joins are ordered by descending similarity.
type MatchGroup struct {
	BaseID string
	Joins  []Candidate
}

// MatchResult is the outcome of one matching run.
type MatchResult struct {
	Groups         []MatchGroup // One group per base item with at least one join, ordered by BaseID
	UnmatchedJoins []string     // Join items with no base candidate above the threshold
	UnmatchedBases []string     // Base items that received no join
}

// Group returns the group for baseID, or nil.
func (r *MatchResult) Group(baseID string) *MatchGroup {
	for i := range r.Groups {
		if r.Groups[i].BaseID == baseID {
			return &r.Groups[i]
		}
	}
	return nil
}

// MatchedJoins returns how many join items were placed in at least one group.
func (r *MatchResult) MatchedJoins() int {
	seen := make(map[string]struct{})
	for _, g := range r.Groups {
		for _, j := range g.Joins {
			seen[j.ID] = struct{}{}
		}
	}
	return len(seen)
}
