// Package reembed recomputes the embeddings stored in the cache from their
// saved descriptions.
//
// Switching embedding models makes every cached vector incomparable with new
// ones. Because each entry keeps the description it was embedded from, the
// cache can be brought up to date with the embedding service alone; the
// vision model is never called again.
package reembed
