// Package imgmatch matches unlabeled product photos against a labeled library.
//
// Each image is described by a vision model, the description is embedded, and
// join images are grouped under the base images they most resemble by cosine
// similarity. Analyses are cached by file content, so re-running over the same
// images costs no service calls.
//
//	m, err := imgmatch.NewMatcher("/var/cache/imgmatch",
//	    imgmatch.WithConcurrency(8),
//	    imgmatch.WithMatchOptions(match.Options{TopN: 1, MinSimilarity: 0.92}),
//	)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	report, err := m.Run(ctx, basePaths, joinPaths)
//
// The same cache backs text search over stored descriptions (Search) and
// re-embedding after an embedding model change (Reembed).
package imgmatch
