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
)

// Error categories reported per file in a run report.
var (
	// ErrIO indicates a file or storage location was unreachable or corrupt.
	ErrIO = errors.New("io error")

	// ErrAnalysis indicates the external analysis or embedding service failed,
	// timed out, or returned a malformed response.
	ErrAnalysis = errors.New("analysis error")

	// ErrCache indicates a storage-layer failure on a single cache operation.
	ErrCache = errors.New("cache error")

	// ErrMatch indicates the matching run cannot produce trustworthy scores.
	ErrMatch = errors.New("match error")

	// ErrDimensionMismatch indicates two compared embeddings differ in length.
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrMatch)
)

// Domain validation errors
var (
	// ErrInvalidFingerprint indicates a fingerprint is not a 64 character lowercase hex string.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")

	// ErrInvalidCacheEntry indicates a CacheEntry failed validation.
	ErrInvalidCacheEntry = errors.New("invalid cache entry")

	// ErrEmptyEmbedding indicates an embedding has no components.
	ErrEmptyEmbedding = errors.New("embedding cannot be empty")

	// ErrNonFiniteEmbedding indicates an embedding contains NaN or Inf.
	ErrNonFiniteEmbedding = errors.New("embedding contains non-finite values")

	// ErrEmptyDescription indicates the description text is empty.
	ErrEmptyDescription = errors.New("description cannot be empty")
)
