package match

import (
	"fmt"
	"sort"

	"github.com/poiesic/imgmatch/core"
)

// Options controls how joins are assigned to bases.
type Options struct {
	// TopN is how many bases each join may be placed under.
	TopN int
	// MinSimilarity is the lowest cosine similarity that still counts as a match.
	MinSimilarity float64
}

// DefaultOptions places each join under its single best base when the two
// are near duplicates.
func DefaultOptions() Options {
	return Options{TopN: 1, MinSimilarity: 0.9}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.TopN < 1 {
		return fmt.Errorf("%w: TopN must be at least 1, got %d", ErrInvalidOptions, o.TopN)
	}
	if o.MinSimilarity < -1 || o.MinSimilarity > 1 {
		return fmt.Errorf("%w: MinSimilarity must be within [-1, 1], got %g", ErrInvalidOptions, o.MinSimilarity)
	}
	return nil
}

// item is an identified embedding with its norm computed once.
type item struct {
	id     string
	vector []float32
	norm   float64
}

// Match scores every join against every base and groups the joins under the
// bases they rank highest.
//
// All embeddings must share one length; a mismatch fails the whole run with
// core.ErrDimensionMismatch rather than producing partial scores.
func Match(base, join map[string][]float32, opts Options) (*core.MatchResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	bases, err := prepare(base, "base", -1)
	if err != nil {
		return nil, err
	}
	dims := -1
	if len(bases) > 0 {
		dims = len(bases[0].vector)
	}
	joins, err := prepare(join, "join", dims)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]core.Candidate)
	result := &core.MatchResult{
		Groups:         []core.MatchGroup{},
		UnmatchedJoins: []string{},
		UnmatchedBases: []string{},
	}

	for _, j := range joins {
		ranked := rank(j, bases)
		kept := 0
		for _, c := range ranked {
			if kept == opts.TopN || c.Similarity < opts.MinSimilarity {
				break
			}
			groups[c.ID] = append(groups[c.ID], core.Candidate{ID: j.id, Similarity: c.Similarity})
			kept++
		}
		if kept == 0 {
			result.UnmatchedJoins = append(result.UnmatchedJoins, j.id)
		}
	}

	for _, b := range bases {
		matched, ok := groups[b.id]
		if !ok {
			result.UnmatchedBases = append(result.UnmatchedBases, b.id)
			continue
		}
		sortCandidates(matched)
		result.Groups = append(result.Groups, core.MatchGroup{BaseID: b.id, Joins: matched})
	}

	return result, nil
}

// Rank returns every base ordered by descending similarity to vector, ties
// broken by base id.
func Rank(vector []float32, base map[string][]float32) ([]core.Candidate, error) {
	bases, err := prepare(base, "base", len(vector))
	if err != nil {
		return nil, err
	}
	if !finite(vector) {
		return nil, ErrNonFiniteScore
	}
	return rank(item{vector: vector, norm: norm(vector)}, bases), nil
}

func rank(query item, bases []item) []core.Candidate {
	candidates := make([]core.Candidate, len(bases))
	for i, b := range bases {
		candidates[i] = core.Candidate{ID: b.id, Similarity: cosine(query.vector, b.vector, query.norm, b.norm)}
	}
	sortCandidates(candidates)
	return candidates
}

// sortCandidates orders by descending similarity, then ascending id.
func sortCandidates(c []core.Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Similarity != c[j].Similarity {
			return c[i].Similarity > c[j].Similarity
		}
		return c[i].ID < c[j].ID
	})
}

// prepare sorts a collection by id, computes norms and checks that every
// vector has dims components. A negative dims adopts the first vector's length.
func prepare(collection map[string][]float32, side string, dims int) ([]item, error) {
	items := make([]item, 0, len(collection))
	for id, vector := range collection {
		items = append(items, item{id: id, vector: vector})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })

	for i := range items {
		it := &items[i]
		if dims < 0 {
			dims = len(it.vector)
		}
		if len(it.vector) != dims {
			return nil, fmt.Errorf("%w: %s %q has %d dimensions, expected %d",
				core.ErrDimensionMismatch, side, it.id, len(it.vector), dims)
		}
		if !finite(it.vector) {
			return nil, fmt.Errorf("%w: %s %q", ErrNonFiniteScore, side, it.id)
		}
		it.norm = norm(it.vector)
	}
	return items, nil
}
