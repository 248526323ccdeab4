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


// Package storage provides the persistent embedding cache abstraction for imgmatch.
//
// The cache maps a content fingerprint to the description and embedding the
// analysis services produced for that content. It is keyed strictly by
// fingerprint: a file that is renamed or moved but not modified stays a cache
// hit, and there is no path-based invalidation.
//
// # Constructor Return Type Pattern
//
// Public backend constructors return the storage.EmbeddingCache interface:
//
//	cache, err := badger.NewCache(backend)  // returns storage.EmbeddingCache
//
// so callers never couple to one backend. Two backends are provided:
//
//   - storage/badger: embedded key-value store (default)
//   - storage/sqlite: single-table relational store
//
// Either can be fronted by NewLRUCache for an in-process read layer.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/cache", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	store, err := badger.NewCache(backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cache := storage.NewLRUCache(store, 4096, time.Hour)
//
// # Thread Safety
//
// All implementations are safe for concurrent use. Each call is an
// independent transaction; eviction runs in short batches so readers and
// writers are never locked out for its whole duration.
package storage
