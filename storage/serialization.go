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
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/imgmatch/core"
)

// maxDimensions bounds decoded vector lengths so corrupt data cannot trigger
// huge allocations.
const maxDimensions = 1 << 16

// MarshalEmbedding serializes an embedding vector to bytes.
func MarshalEmbedding(embedding []float32) []byte {
	buf := make([]byte, sizeEmbedding(embedding))
	marshalEmbedding(embedding, buf)
	return buf
}

// UnmarshalEmbedding deserializes an embedding vector from bytes.
func UnmarshalEmbedding(data []byte) ([]float32, error) {
	embedding, _, err := unmarshalEmbedding(data)
	return embedding, err
}

// MarshalCacheEntry serializes a CacheEntry to bytes.
func MarshalCacheEntry(entry *core.CacheEntry) []byte {
	fp := string(entry.Fingerprint)
	createdAt := entry.CreatedAt.UnixMicro()

	size := varint.Uint64.Size(entry.RecordID) +
		ord.String.Size(fp) +
		ord.String.Size(entry.Description) +
		varint.Int64.Size(createdAt) +
		sizeEmbedding(entry.Embedding)
	buf := make([]byte, size)

	n := varint.Uint64.Marshal(entry.RecordID, buf)
	n += ord.String.Marshal(fp, buf[n:])
	n += ord.String.Marshal(entry.Description, buf[n:])
	n += varint.Int64.Marshal(createdAt, buf[n:])
	marshalEmbedding(entry.Embedding, buf[n:])
	return buf
}

// UnmarshalCacheEntry deserializes a CacheEntry from bytes.
func UnmarshalCacheEntry(data []byte) (*core.CacheEntry, error) {
	recordID, n, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: record id: %w", ErrSerializationFailed, err)
	}
	offset := n

	fp, n, err := ord.String.Unmarshal(data[offset:])
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprint: %w", ErrSerializationFailed, err)
	}
	offset += n

	description, n, err := ord.String.Unmarshal(data[offset:])
	if err != nil {
		return nil, fmt.Errorf("%w: description: %w", ErrSerializationFailed, err)
	}
	offset += n

	createdAt, n, err := varint.Int64.Unmarshal(data[offset:])
	if err != nil {
		return nil, fmt.Errorf("%w: created at: %w", ErrSerializationFailed, err)
	}
	offset += n

	embedding, _, err := unmarshalEmbedding(data[offset:])
	if err != nil {
		return nil, err
	}

	return &core.CacheEntry{
		RecordID:    recordID,
		Fingerprint: core.Fingerprint(fp),
		Description: description,
		Embedding:   embedding,
		CreatedAt:   time.UnixMicro(createdAt).UTC(),
	}, nil
}

func sizeEmbedding(embedding []float32) int {
	size := varint.Int64.Size(int64(len(embedding)))
	for _, v := range embedding {
		size += raw.Float32.Size(v)
	}
	return size
}

func marshalEmbedding(embedding []float32, buf []byte) int {
	n := varint.Int64.Marshal(int64(len(embedding)), buf)
	for _, v := range embedding {
		n += raw.Float32.Marshal(v, buf[n:])
	}
	return n
}

func unmarshalEmbedding(data []byte) ([]float32, int, error) {
	length, n, err := varint.Int64.Unmarshal(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: embedding length: %w", ErrSerializationFailed, err)
	}
	if length < 0 || length > maxDimensions {
		return nil, 0, fmt.Errorf("%w: embedding length %d", ErrSerializationFailed, length)
	}
	offset := n

	width := raw.Float32.Size(0)
	if int(length)*width > len(data)-offset {
		return nil, 0, fmt.Errorf("%w: embedding of %d components", ErrTruncatedData, length)
	}
	embedding := make([]float32, length)
	for i := range embedding {
		v, n, err := raw.Float32.Unmarshal(data[offset:])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: embedding component %d: %w", ErrTruncatedData, i, err)
		}
		embedding[i] = v
		offset += n
	}
	return embedding, offset, nil
}
