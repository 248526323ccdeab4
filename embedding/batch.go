package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/poiesic/imgmatch/core"
	"golang.org/x/sync/errgroup"
)

// BatchResult collects the outcome of EmbedAll.
type BatchResult struct {
	// Embeddings maps each successfully processed path to its embedding.
	Embeddings map[string][]float32
	// Sources records how each embedding was obtained.
	Sources   map[string]core.Source
	CacheHits int
	Computed  int
	// Shared counts files whose identical content was analyzed for another
	// path in the same batch.
	Shared int
	// Failures lists paths that could not be embedded, sorted by path.
	Failures []core.Failure

	errs []error
}

// Err joins the per-file errors, or returns nil when every file succeeded.
func (r *BatchResult) Err() error {
	return errors.Join(r.errs...)
}

// EmbedAll resolves every path to an embedding. Per-file failures are
// recorded in the result and do not stop the batch. The returned error is
// non-nil only when ctx ends before the batch completes; the partial result is
// returned alongside it.
func (p *Provider) EmbedAll(ctx context.Context, paths []string) (*BatchResult, error) {
	paths = uniquePaths(paths)
	result := &BatchResult{
		Embeddings: make(map[string][]float32, len(paths)),
		Sources:    make(map[string]core.Source, len(paths)),
	}

	var tracker *ProgressTracker
	if p.progress != nil {
		tracker = NewProgressTracker(p.progress, "Embedding", len(paths), p.progressInterval)
		tracker.Start()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchConcurrency)

	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			entry, source, err := p.GetEmbedding(gctx, path)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if tracker != nil {
					tracker.Fail(1)
				}
				p.logger.Warn("failed to embed image", "path", path, "err", err)
				result.Failures = append(result.Failures, core.NewFailure(path, err))
				result.errs = append(result.errs, fmt.Errorf("%s: %w", path, err))
				return nil
			}

			result.Embeddings[path] = entry.Embedding
			result.Sources[path] = source
			switch source {
			case core.SourceCache:
				result.CacheHits++
			case core.SourceShared:
				result.Shared++
			default:
				result.Computed++
			}
			if tracker != nil {
				tracker.Record(source, 1)
			}
			return nil
		})
	}

	err := g.Wait()
	if tracker != nil {
		tracker.Finish()
	}

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].Path < result.Failures[j].Path
	})

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return result, err
	}

	p.logger.Info("embedded batch",
		"files", len(paths),
		"cacheHits", result.CacheHits,
		"computed", result.Computed,
		"shared", result.Shared,
		"failed", len(result.Failures))
	return result, nil
}

// uniquePaths drops repeated paths, keeping first-seen order.
func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
