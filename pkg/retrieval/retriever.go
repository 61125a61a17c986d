// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

// Package retrieval composes an embedder, a vector store and an optional
// reranker into the two-stage query pipeline.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/recall/pkg/embedding"
	"github.com/jllopis/recall/pkg/errors"
	"github.com/jllopis/recall/pkg/rerank"
	"github.com/jllopis/recall/pkg/resilience"
	"github.com/jllopis/recall/pkg/telemetry"
	"github.com/jllopis/recall/pkg/vectorstore"
)

// Default candidate counts for the two stages.
const (
	DefaultTopKInitial = 10
	DefaultTopKFinal   = 3
)

// RerankPolicy decides what Retrieve does when the reranker fails.
type RerankPolicy string

const (
	// RerankFailClosed returns the reranker error.
	RerankFailClosed RerankPolicy = "fail_closed"
	// RerankFallback logs the error and returns the similarity order.
	RerankFallback RerankPolicy = "fallback"
)

// ParseRerankPolicy validates a policy name. Empty selects RerankFailClosed.
func ParseRerankPolicy(s string) (RerankPolicy, error) {
	switch RerankPolicy(s) {
	case "", RerankFailClosed:
		return RerankFailClosed, nil
	case RerankFallback:
		return RerankFallback, nil
	default:
		return "", errors.Newf(errors.CodeInvalidInput, "unknown rerank failure policy %q", s)
	}
}

// Request parameterizes a single retrieval. Zero counts use the retriever
// defaults.
type Request struct {
	// TopKInitial is how many candidates the vector search returns.
	TopKInitial int
	// TopKFinal is how many candidates the caller gets back. It is expected
	// to be at most TopKInitial.
	TopKFinal int
	Filter    *vectorstore.Filter
}

// Retriever answers text queries against a VectorStore.
type Retriever struct {
	embedder     embedding.Embedder
	store        vectorstore.VectorStore
	reranker     *rerank.Reranker
	policy       RerankPolicy
	topKInitial  int
	topKFinal    int
	embedTimeout time.Duration
	logger       *slog.Logger
	metrics      *telemetry.RetrievalMetrics
	tracer       trace.Tracer
}

// Option configures a Retriever.
type Option func(*Retriever) error

// New creates a Retriever. The embedder must produce vectors of the store's
// dimensionality.
func New(embedder embedding.Embedder, store vectorstore.VectorStore, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New(errors.CodeInvalidInput, "embedder is required", nil)
	}
	if store == nil {
		return nil, errors.New(errors.CodeInvalidInput, "vector store is required", nil)
	}
	r := &Retriever{
		embedder:    embedder,
		store:       store,
		policy:      RerankFailClosed,
		topKInitial: DefaultTopKInitial,
		topKFinal:   DefaultTopKFinal,
		logger:      slog.Default(),
		tracer:      otel.Tracer("recall/retrieval"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retriever")
	return r, nil
}

// WithReranker enables the second stage.
func WithReranker(rr *rerank.Reranker) Option {
	return func(r *Retriever) error {
		r.reranker = rr
		return nil
	}
}

// WithRerankPolicy sets the behavior on reranker failure.
func WithRerankPolicy(p RerankPolicy) Option {
	return func(r *Retriever) error {
		policy, err := ParseRerankPolicy(string(p))
		if err != nil {
			return err
		}
		r.policy = policy
		return nil
	}
}

// WithDefaults sets the counts used when a Request leaves them at zero.
func WithDefaults(topKInitial, topKFinal int) Option {
	return func(r *Retriever) error {
		if topKInitial < 1 || topKFinal < 1 {
			return errors.Newf(errors.CodeInvalidInput, "default top_k must be positive, got %d/%d", topKInitial, topKFinal)
		}
		r.topKInitial, r.topKFinal = topKInitial, topKFinal
		return nil
	}
}

// WithEmbedTimeout bounds query embedding.
func WithEmbedTimeout(d time.Duration) Option {
	return func(r *Retriever) error {
		r.embedTimeout = d
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) error {
		if l != nil {
			r.logger = l
		}
		return nil
	}
}

// WithMetrics records retrieval metrics.
func WithMetrics(m *telemetry.RetrievalMetrics) Option {
	return func(r *Retriever) error {
		r.metrics = m
		return nil
	}
}

// Store returns the underlying vector store.
func (r *Retriever) Store() vectorstore.VectorStore { return r.store }

// Retrieve embeds query, searches the store and, when a reranker is set,
// reorders the candidates by relevance. Candidates without text are dropped
// before reranking. An empty store yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, req Request) (_ []vectorstore.Candidate, err error) {
	if req.TopKInitial == 0 {
		req.TopKInitial = r.topKInitial
	}
	if req.TopKFinal == 0 {
		req.TopKFinal = r.topKFinal
	}
	if req.TopKInitial < 1 || req.TopKFinal < 1 {
		return nil, errors.Newf(errors.CodeInvalidInput, "top_k must be positive, got initial=%d final=%d",
			req.TopKInitial, req.TopKFinal)
	}

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "retrieval.Retrieve",
		trace.WithAttributes(telemetry.RetrieveAttributes(query, req.TopKInitial, req.TopKFinal,
			r.reranker != nil, string(r.policy))...))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.metrics.RecordError(ctx, err, "retriever")
			return
		}
		r.metrics.RecordRetrieve(ctx, time.Since(start), r.reranker != nil)
	}()

	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	backend := string(vectorstore.BackendOf(r.store))
	span.SetAttributes(telemetry.SearchAttributes(req.TopKInitial, req.Filter.String())...)
	candidates, err := r.store.Search(ctx, vec, req.TopKInitial, req.Filter)
	r.metrics.RecordSearch(ctx, backend)
	if err != nil {
		return nil, err
	}

	valid := make([]vectorstore.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Metadata.HasText() {
			valid = append(valid, c)
		}
	}
	dropped := len(candidates) - len(valid)
	if dropped > 0 {
		r.logger.DebugContext(ctx, "dropped candidates without text", "dropped", dropped)
	}

	fellBack := false
	var out []vectorstore.Candidate
	if r.reranker == nil || len(valid) == 0 {
		out = truncate(valid, req.TopKFinal)
	} else {
		out, err = resilience.WithFallback(ctx,
			func(ctx context.Context) ([]vectorstore.Candidate, error) {
				return r.reranker.Rerank(ctx, query, valid, req.TopKFinal)
			},
			r.rerankFallback(valid, req.TopKFinal, &fellBack))
		if err != nil {
			return nil, err
		}
	}

	span.SetAttributes(telemetry.ResultAttributes(len(out), dropped, fellBack)...)
	r.logger.DebugContext(ctx, "retrieval completed",
		"backend", backend,
		"candidates", len(candidates),
		"returned", len(out),
		"duration", time.Since(start))
	return out, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := resilience.Call(ctx, resilience.TimeoutConfig{Duration: r.embedTimeout, Operation: "embed query"},
		func(ctx context.Context) ([]float32, error) {
			return embedding.EmbedOne(ctx, r.embedder, query)
		})
	if err != nil && errors.CodeOf(err) == errors.CodeInternal && ctx.Err() == nil {
		return nil, errors.New(errors.CodeBackendUnavailable, "embed query failed", err)
	}
	return vec, err
}

// rerankFallback returns nil under RerankFailClosed so the reranker error
// propagates. Caller cancellation is never masked.
func (r *Retriever) rerankFallback(valid []vectorstore.Candidate, topK int, fellBack *bool) resilience.FallbackFunc[[]vectorstore.Candidate] {
	if r.policy != RerankFallback {
		return nil
	}
	return func(ctx context.Context, rerankErr error) ([]vectorstore.Candidate, error) {
		if ctx.Err() != nil {
			return nil, rerankErr
		}
		*fellBack = true
		r.metrics.RecordRerankFallback(ctx, rerankErr)
		r.logger.WarnContext(ctx, "rerank failed, returning similarity order",
			"error", rerankErr,
			"error_code", string(errors.CodeOf(rerankErr)))
		return truncate(valid, topK), nil
	}
}

func truncate(c []vectorstore.Candidate, k int) []vectorstore.Candidate {
	if len(c) > k {
		return c[:k]
	}
	return c
}
