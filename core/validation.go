// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"errors"
	"fmt"
	"math"
)

// ValidateFingerprint checks that fp looks like a fingerprint produced by HashBytes.
func ValidateFingerprint(fp Fingerprint) error {
	if len(fp) != fingerprintSize*2 {
		return fmt.Errorf("%w: length %d", ErrInvalidFingerprint, len(fp))
	}
	for _, c := range fp {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidFingerprint, c)
		}
	}
	return nil
}

// ValidateEmbedding checks that an embedding is usable for similarity scoring.
func ValidateEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}
	for _, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrNonFiniteEmbedding
		}
	}
	return nil
}

// ValidateCacheEntry validates a CacheEntry before it is written.
//
// Validation rules:
//   - Fingerprint must be well formed
//   - Description must not be empty
//   - Embedding must be non-empty and finite
//
// NOT validated (assigned by storage):
//   - RecordID
//   - CreatedAt
func ValidateCacheEntry(entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry is nil", ErrInvalidCacheEntry)
	}
	if err := ValidateFingerprint(entry.Fingerprint); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCacheEntry, err)
	}
	if entry.Description == "" {
		return fmt.Errorf("%w: %w", ErrInvalidCacheEntry, ErrEmptyDescription)
	}
	if err := ValidateEmbedding(entry.Embedding); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCacheEntry, err)
	}
	return nil
}

// ErrorKind classifies a per-file failure for reporting.
type ErrorKind string

const (
	KindIO       ErrorKind = "io"
	KindAnalysis ErrorKind = "analysis"
	KindCache    ErrorKind = "cache"
	KindMatch    ErrorKind = "match"
	KindUnknown  ErrorKind = "unknown"
)

// KindOf maps an error onto the reporting taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMatch):
		return KindMatch
	case errors.Is(err, ErrAnalysis):
		return KindAnalysis
	case errors.Is(err, ErrCache):
		return KindCache
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindUnknown
	}
}

// Failure records one file that could not be processed.
type Failure struct {
	Path    string
	Kind    ErrorKind
	Message string
}

// NewFailure builds a Failure for path from err.
func NewFailure(path string, err error) Failure {
	return Failure{
		Path:    path,
		Kind:    KindOf(err),
		Message: err.Error(),
	}
}
