// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

// Package rerank reorders retrieval candidates with a relevance scorer that
// reads the query and passage together.
package rerank

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jllopis/recall/pkg/errors"
	"github.com/jllopis/recall/pkg/resilience"
	"github.com/jllopis/recall/pkg/vectorstore"
)

// Scorer assigns a relevance score to each (query, passage) pair. The result
// has the same length and order as passages; higher is more relevant.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float32, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, query string, passages []string) ([]float32, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	return f(ctx, query, passages)
}

// Reranker scores candidates with a Scorer and keeps the best.
type Reranker struct {
	scorer  Scorer
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithTimeout bounds each scoring call. Zero leaves only the caller's
// deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Reranker) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reranker) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a Reranker backed by scorer.
func New(scorer Scorer, opts ...Option) *Reranker {
	r := &Reranker{scorer: scorer, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reranker")
	return r
}

// Rerank scores every candidate's text against query, orders by descending
// rerank score and returns at most topK. Equal scores keep their input
// (similarity) order. The input slice is not modified.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []vectorstore.Candidate, topK int) ([]vectorstore.Candidate, error) {
	if topK < 1 {
		return nil, errors.Newf(errors.CodeInvalidInput, "top_k must be positive, got %d", topK)
	}
	if len(candidates) == 0 {
		return []vectorstore.Candidate{}, nil
	}

	ctx, span := otel.Tracer("recall/rerank").Start(ctx, "rerank.Rerank")
	defer span.End()
	span.SetAttributes(
		attribute.Int("recall.rerank.candidates", len(candidates)),
		attribute.Int("recall.rerank.top_k", topK),
	)

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Metadata.Text()
	}

	scores, err := resilience.Call(ctx, resilience.TimeoutConfig{Duration: r.timeout, Operation: "rerank score"},
		func(ctx context.Context) ([]float32, error) {
			return r.scorer.Score(ctx, query, passages)
		})
	switch {
	case err == nil:
		err = checkScores(scores, len(passages))
	case errors.CodeOf(err) == errors.CodeInternal && ctx.Err() == nil:
		err = errors.New(errors.CodeBackendUnavailable, "rerank scorer failed", err).WithRecoverable(true)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([]vectorstore.Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = c.Clone()
		score := scores[i]
		out[i].RerankScore = &score
	}
	slices.SortStableFunc(out, func(a, b vectorstore.Candidate) int {
		return cmp.Compare(*b.RerankScore, *a.RerankScore)
	})
	if len(out) > topK {
		out = out[:topK]
	}
	r.logger.DebugContext(ctx, "candidates reranked", "in", len(candidates), "out", len(out))
	return out, nil
}

func checkScores(scores []float32, want int) error {
	if len(scores) != want {
		return errors.Newf(errors.CodeInternal, "scorer returned %d scores for %d passages", len(scores), want)
	}
	for i, s := range scores {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return errors.Newf(errors.CodeInternal, "scorer returned non-finite score at %d", i)
		}
	}
	return nil
}
