// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"container/heap"
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
)

// FlatStore is an exact, in-process vector index.
//
// Vectors are L2-normalized on insertion and queries are normalized the same
// way, so the inner product is the cosine similarity and scores lie in
// [-1, 1]. Search scans every entry. Ties are broken by insertion order,
// earlier entries first. State lives in memory only; see SaveSnapshot and
// LoadSnapshot for persistence.
type FlatStore struct {
	mu     sync.RWMutex
	dim    int
	logger *slog.Logger

	// vectors holds len(metadata)*dim normalized components, entry i at
	// vectors[i*dim:(i+1)*dim]. Both slices only ever grow, together, under mu.
	vectors  []float32
	metadata []Metadata
}

var _ VectorStore = (*FlatStore)(nil)

// NewFlatStore creates an empty store for vectors of length dim.
func NewFlatStore(dim int, opts ...Option) (*FlatStore, error) {
	if err := validateDim(dim); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &FlatStore{
		dim:    dim,
		logger: o.logger.With("component", "vectorstore", "backend", string(BackendFlat)),
	}, nil
}

func (s *FlatStore) backend() Backend { return BackendFlat }

// Dim returns the vector dimensionality.
func (s *FlatStore) Dim() int { return s.dim }

// Close is a no-op for the in-memory store.
func (s *FlatStore) Close() error { return nil }

// Len returns the number of stored entries.
func (s *FlatStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metadata), nil
}

// Add validates and normalizes the whole batch, then appends it under the
// exclusive lock. A failed or canceled Add leaves the store untouched.
func (s *FlatStore) Add(ctx context.Context, vectors [][]float32, metadata []Metadata) error {
	if err := validateBatch(s.dim, vectors, metadata); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}

	flat := make([]float32, 0, len(vectors)*s.dim)
	metas := make([]Metadata, len(metadata))
	for i, v := range vectors {
		flat = appendNormalized(flat, v)
		metas[i] = metadata[i].withDefaults()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = append(s.vectors, flat...)
	s.metadata = append(s.metadata, metas...)

	s.logger.DebugContext(ctx, "entries added", "count", len(metas), "size", len(s.metadata))
	return nil
}

// Search ranks every entry by inner product with the normalized query and
// returns the topK best, then applies filter to that cut.
func (s *FlatStore) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]Candidate, error) {
	if err := validateQuery(s.dim, query, topK, filter); err != nil {
		return nil, err
	}
	q := appendNormalized(make([]float32, 0, s.dim), query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.metadata)
	if n == 0 {
		return []Candidate{}, nil
	}

	best := make(hitHeap, 0, min(topK, n))
	for i := 0; i < n; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		h := hit{index: i, score: dot(q, s.vectors[i*s.dim:(i+1)*s.dim])}
		if len(best) < topK {
			heap.Push(&best, h)
			continue
		}
		if h.betterThan(best[0]) {
			best[0] = h
			heap.Fix(&best, 0)
		}
	}

	out := make([]Candidate, len(best))
	for i := len(out) - 1; i >= 0; i-- {
		h := heap.Pop(&best).(hit)
		out[i] = Candidate{
			ID:       strconv.Itoa(h.index),
			Metadata: s.metadata[h.index].Clone(),
			Score:    h.score,
		}
	}
	return applyFilter(out, filter), nil
}

// view returns the entries present at call time. The returned slices are
// safe to read without the lock because existing elements are never rewritten.
func (s *FlatStore) view() ([]float32, []Metadata) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.metadata)
	return s.vectors[:n*s.dim:n*s.dim], s.metadata[:n:n]
}

// appendNormalized appends v scaled to unit length. v must be non-zero.
func appendNormalized(dst, v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	inv := 1 / math.Sqrt(sum)
	for _, x := range v {
		dst = append(dst, float32(float64(x)*inv))
	}
	return dst
}

// dot returns the inner product of two unit vectors, clamped to [-1, 1] to
// absorb rounding.
func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(max(-1, min(1, sum)))
}

type hit struct {
	index int
	score float32
}

// betterThan orders by score, then by earlier insertion.
func (h hit) betterThan(o hit) bool {
	if h.score != o.score {
		return h.score > o.score
	}
	return h.index < o.index
}

// hitHeap is a min-heap with the worst retained hit at the root.
type hitHeap []hit

func (t hitHeap) Len() int           { return len(t) }
func (t hitHeap) Less(i, j int) bool { return t[j].betterThan(t[i]) }
func (t hitHeap) Swap(i, j int)      { t[i], t[j] = t[j], t[i] }
func (t *hitHeap) Push(x any)        { *t = append(*t, x.(hit)) }
func (t *hitHeap) Pop() any {
	old := *t
	n := len(old)
	x := old[n-1]
	*t = old[:n-1]
	return x
}
