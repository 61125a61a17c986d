// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

// Package vectorstore stores embedded passages and answers nearest-neighbor
// queries over them.
//
// Two backends exist: FlatStore, an exact in-process inner-product index, and
// RemoteCollectionStore, which delegates to a Qdrant collection. The set is
// closed; Open picks one from configuration. Both backends guard their own
// state, so a single store may be shared by concurrent Add and Search calls.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jllopis/recall/pkg/errors"
)

// Required metadata keys.
const (
	KeyText   = "text"
	KeySource = "source"

	// DefaultSource is stored when a passage arrives without a source.
	DefaultSource = "unknown"
)

// Backend names a VectorStore implementation.
type Backend string

const (
	BackendFlat   Backend = "flat"
	BackendQdrant Backend = "qdrant"
)

// Metadata is the string payload stored alongside a vector.
type Metadata map[string]string

// Clone returns an independent copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Text returns the passage text.
func (m Metadata) Text() string { return m[KeyText] }

// Source returns the originating document identifier.
func (m Metadata) Source() string { return m[KeySource] }

// HasText reports whether the text key is present, even if empty.
func (m Metadata) HasText() bool {
	_, ok := m[KeyText]
	return ok
}

// withDefaults clones m and fills the required keys.
func (m Metadata) withDefaults() Metadata {
	out := m.Clone()
	if out == nil {
		out = make(Metadata, 2)
	}
	if _, ok := out[KeyText]; !ok {
		out[KeyText] = ""
	}
	if _, ok := out[KeySource]; !ok {
		out[KeySource] = DefaultSource
	}
	return out
}

// Candidate is a search hit. Candidates are snapshots: changing one never
// affects the store.
type Candidate struct {
	ID       string   `json:"id"`
	Metadata Metadata `json:"metadata"`
	// Score is the similarity to the query, higher is closer.
	Score float32 `json:"score"`
	// RerankScore is set once a reranker has scored the candidate and then
	// supersedes Score for ordering.
	RerankScore *float32 `json:"rerank_score,omitempty"`
}

// RankScore returns the score the candidate is ordered by.
func (c Candidate) RankScore() float32 {
	if c.RerankScore != nil {
		return *c.RerankScore
	}
	return c.Score
}

// Clone returns a deep copy of c.
func (c Candidate) Clone() Candidate {
	out := c
	out.Metadata = c.Metadata.Clone()
	if c.RerankScore != nil {
		s := *c.RerankScore
		out.RerankScore = &s
	}
	return out
}

// VectorStore is implemented by FlatStore and RemoteCollectionStore only.
type VectorStore interface {
	// Add appends vectors with their metadata. The call is all-or-nothing:
	// on error no entry becomes visible.
	Add(ctx context.Context, vectors [][]float32, metadata []Metadata) error

	// Search returns at most topK candidates by descending similarity.
	// A non-nil filter drops non-matching candidates from the ranked cut, so
	// fewer than topK may come back even when more matches exist.
	Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]Candidate, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)

	// Dim returns the fixed vector dimensionality.
	Dim() int

	// Close releases backend resources.
	Close() error

	backend() Backend
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend Backend
	Dim     int
	Qdrant  QdrantConfig
	Logger  *slog.Logger
}

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (VectorStore, error) {
	switch cfg.Backend {
	case BackendFlat, "":
		return NewFlatStore(cfg.Dim, WithLogger(cfg.Logger))
	case BackendQdrant:
		return NewRemoteCollectionStore(ctx, cfg.Dim, cfg.Qdrant, WithLogger(cfg.Logger))
	default:
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown vector store backend %q", cfg.Backend)
	}
}

// BackendOf reports which backend s is.
func BackendOf(s VectorStore) Backend {
	return s.backend()
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used by the store. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validateDim(dim int) error {
	if dim <= 0 {
		return errors.Newf(errors.CodeInvalidInput, "dimension must be positive, got %d", dim)
	}
	return nil
}

// validateBatch checks the batch shape shared by every backend.
func validateBatch(dim int, vectors [][]float32, metadata []Metadata) error {
	if len(vectors) != len(metadata) {
		return errors.Newf(errors.CodeBatchLengthMismatch, "%d vectors but %d metadata entries", len(vectors), len(metadata)).
			WithContext("vectors", len(vectors)).
			WithContext("metadata", len(metadata))
	}
	for i, v := range vectors {
		if err := checkVector(dim, v); err != nil {
			return fmt.Errorf("vector %d: %w", i, err)
		}
	}
	return nil
}

func validateQuery(dim int, query []float32, topK int, filter *Filter) error {
	if topK < 1 {
		return errors.Newf(errors.CodeInvalidInput, "top_k must be at least 1, got %d", topK)
	}
	if err := filter.validate(); err != nil {
		return err
	}
	if err := checkVector(dim, query); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

// checkVector rejects wrong lengths, non-finite components and zero vectors,
// which have no direction to compare.
func checkVector(dim int, v []float32) error {
	if len(v) != dim {
		return errors.Newf(errors.CodeDimensionMismatch, "expected dimension %d, got %d", dim, len(v)).
			WithContext("expected", dim).
			WithContext("actual", len(v))
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.New(errors.CodeInvalidInput, "vector has non-finite component", nil)
		}
		sum += f * f
	}
	if sum == 0 {
		return errors.New(errors.CodeInvalidInput, "zero vector cannot be normalized", nil)
	}
	return nil
}
