// Package sqlite provides a SQLite-backed storage.EmbeddingCache.
//
// It uses the pure Go modernc.org/sqlite driver, so the binary keeps building
// without cgo. The database runs in WAL mode with a busy timeout, which lets
// Get and Set proceed while an eviction is running.
package sqlite
