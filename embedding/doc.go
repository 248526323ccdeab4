// Package embedding turns image files into embeddings, using the cache
// whenever the file's content has been analyzed before.
//
// For each file the Provider hashes the content, looks the fingerprint up in
// the cache and, on a miss, runs one analysis task through the concurrency
// limiter: the image is described by the vision model and the description is
// embedded. Fresh results are written back to the cache. Concurrent requests
// for identical content share a single analysis.
//
// EmbedAll processes many files at once and records per-file failures instead
// of aborting, so one unreadable or rejected image does not cost the run.
package embedding
