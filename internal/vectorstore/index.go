package vectorstore

import (
	"slices"
	"sort"

	"docqa/internal/domain"
)

// Index is an immutable, exact nearest-neighbour index. Search scans every
// entry, so results do not depend on any recall/precision tuning. An Index
// is safe for concurrent use by any number of readers.
type Index struct {
	metric  Metric
	dim     int
	entries []domain.Entry
	mags    []float64
}

// Build validates entries and constructs an index. All vectors must share
// the dimension of the first one; otherwise a *domain.DimensionMismatchError
// naming the first offending position is returned and nothing is built.
// Entries keep their input order, which breaks ties in Search.
func Build(metric Metric, entries []domain.Entry) (*Index, error) {
	if !metric.valid() {
		return nil, domain.Configf("invalid similarity metric %v", metric)
	}
	if len(entries) == 0 {
		return &Index{metric: metric}, nil
	}
	dim := len(entries[0].Vector)
	if dim == 0 {
		return nil, domain.Configf("entry 0 has an empty vector")
	}
	for i, e := range entries {
		if len(e.Vector) != dim {
			return nil, &domain.DimensionMismatchError{Position: i, Want: dim, Got: len(e.Vector)}
		}
		if j := firstNonFinite(e.Vector); j >= 0 {
			return nil, domain.Configf("entry %d has a non-finite component at %d", i, j)
		}
	}
	owned := make([]domain.Entry, len(entries))
	mags := make([]float64, len(entries))
	for i, e := range entries {
		owned[i] = domain.Entry{Vector: slices.Clone(e.Vector), Chunk: e.Chunk}
		mags[i] = magnitude(e.Vector)
	}
	return &Index{metric: metric, dim: dim, entries: owned, mags: mags}, nil
}

// Len returns the number of entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Dimension returns the vector dimension, 0 for an empty index.
func (ix *Index) Dimension() int { return ix.dim }

// Metric returns the similarity metric fixed at build time.
func (ix *Index) Metric() Metric { return ix.metric }

// Search returns the k highest-scoring entries ordered by descending score,
// ties broken by insertion order. Fewer than k results are returned when the
// index holds fewer entries. k == 0 yields an empty result; k > 0 on an
// empty index fails with domain.ErrEmptyIndex.
func (ix *Index) Search(query domain.Vector, k int) ([]domain.SearchResult, error) {
	if k < 0 {
		return nil, domain.Configf("k must not be negative, got %d", k)
	}
	if k == 0 {
		return []domain.SearchResult{}, nil
	}
	if len(ix.entries) == 0 {
		return nil, domain.ErrEmptyIndex
	}
	if len(query) != ix.dim {
		return nil, &domain.DimensionMismatchError{Position: -1, Want: ix.dim, Got: len(query)}
	}
	if j := firstNonFinite(query); j >= 0 {
		return nil, domain.Configf("query vector has a non-finite component at %d", j)
	}

	qMag := magnitude(query)
	scores := make([]float64, len(ix.entries))
	for i := range ix.entries {
		scores[i] = ix.metric.score(query, ix.entries[i].Vector, qMag, ix.mags[i])
	}
	idxs := make([]int, len(scores))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return scores[idxs[a]] > scores[idxs[b]] })

	if k > len(idxs) {
		k = len(idxs)
	}
	results := make([]domain.SearchResult, 0, k)
	for _, j := range idxs[:k] {
		results = append(results, domain.SearchResult{Chunk: ix.entries[j].Chunk, Score: scores[j]})
	}
	return results, nil
}
