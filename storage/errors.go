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

package storage

import (
	"errors"
	"fmt"

	"github.com/poiesic/imgmatch/core"
)

var (
	// ErrNotFound means no entry exists for the fingerprint.
	ErrNotFound = errors.New("cache entry not found")

	// ErrStorageClosed is returned by any operation on a closed backend.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery rejects malformed keys, batch sizes and limits.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed wraps encode and decode failures of stored entries.
	ErrSerializationFailed = errors.New("entry serialization failed")

	// ErrTruncatedData means a stored entry ended before all fields were read.
	ErrTruncatedData = errors.New("truncated entry data")
)

// CacheFailure tags a storage failure with core.ErrCache. Misses and errors
// already tagged are returned unchanged.
func CacheFailure(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, core.ErrCache) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrCache, err)
}
