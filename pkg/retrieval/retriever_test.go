// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/recall/pkg/embedding"
	"github.com/jllopis/recall/pkg/errors"
	"github.com/jllopis/recall/pkg/rerank"
	"github.com/jllopis/recall/pkg/telemetry"
	"github.com/jllopis/recall/pkg/vectorstore"
)

// lookupEmbedder maps known texts to fixed 3-d vectors.
func lookupEmbedder(vectors map[string][]float32) embedding.Func {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			v, ok := vectors[t]
			if !ok {
				return nil, fmt.Errorf("no vector for %q", t)
			}
			out[i] = v
		}
		return out, nil
	}
}

var corpus = map[string][]float32{
	"cats are mammals":  {1, 0, 0},
	"stocks rose today": {0, 1, 0},
	"dogs are mammals":  {0.9, 0.1, 0},
	"bonds fell":        {0.1, 0.9, 0},
	"what are cats":     {0.95, 0.05, 0},
	"unrelated":         {0, 0, 1},
}

func newStore(t *testing.T, passages ...Passage) vectorstore.VectorStore {
	t.Helper()
	s, err := vectorstore.NewFlatStore(3)
	require.NoError(t, err)
	if len(passages) > 0 {
		n, err := NewIndexer(lookupEmbedder(corpus), s, 0, nil, nil).Index(context.Background(), passages, nil)
		require.NoError(t, err)
		require.Equal(t, len(passages), n)
	}
	return s
}

func p(text, source string) Passage {
	return Passage{Text: text, Metadata: vectorstore.Metadata{vectorstore.KeySource: source}}
}

func texts(cs []vectorstore.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Metadata.Text()
	}
	return out
}

var reversing = rerank.ScorerFunc(func(_ context.Context, _ string, passages []string) ([]float32, error) {
	scores := make([]float32, len(passages))
	for i := range passages {
		scores[i] = float32(i)
	}
	return scores, nil
})

var failing = rerank.ScorerFunc(func(context.Context, string, []string) ([]float32, error) {
	return nil, errors.New(errors.CodeBackendUnavailable, "cross-encoder offline", nil)
})

func newRetriever(t *testing.T, store vectorstore.VectorStore, opts ...Option) *Retriever {
	t.Helper()
	r, err := New(lookupEmbedder(corpus), store, opts...)
	require.NoError(t, err)
	return r
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, newStore(t))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = New(lookupEmbedder(corpus), nil)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = New(lookupEmbedder(corpus), newStore(t), WithRerankPolicy("retry"))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = New(lookupEmbedder(corpus), newStore(t), WithDefaults(0, 3))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestRetrieveSimilarityOrder(t *testing.T) {
	store := newStore(t,
		p("stocks rose today", "b.txt"),
		p("cats are mammals", "a.txt"),
		p("dogs are mammals", "c.txt"),
	)
	r := newRetriever(t, store)

	got, err := r.Retrieve(context.Background(), "what are cats", Request{TopKFinal: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"cats are mammals", "dogs are mammals"}, texts(got))
	assert.Nil(t, got[0].RerankScore)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
}

func TestRetrieveDefaults(t *testing.T) {
	store := newStore(t,
		p("cats are mammals", "a"), p("dogs are mammals", "a"), p("stocks rose today", "b"),
		p("bonds fell", "b"), p("unrelated", "c"),
	)

	got, err := newRetriever(t, store).Retrieve(context.Background(), "what are cats", Request{})
	require.NoError(t, err)
	assert.Len(t, got, DefaultTopKFinal)

	got, err = newRetriever(t, store, WithDefaults(5, 4)).Retrieve(context.Background(), "what are cats", Request{})
	require.NoError(t, err)
	assert.Len(t, got, 4)

	_, err = newRetriever(t, store).Retrieve(context.Background(), "what are cats", Request{TopKFinal: -1})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestRetrieveRerankReorders(t *testing.T) {
	store := newStore(t,
		p("cats are mammals", "a.txt"),
		p("dogs are mammals", "a.txt"),
		p("bonds fell", "b.txt"),
		p("stocks rose today", "b.txt"),
	)
	r := newRetriever(t, store, WithReranker(rerank.New(reversing)))

	got, err := r.Retrieve(context.Background(), "what are cats", Request{TopKInitial: 4, TopKFinal: 2})
	require.NoError(t, err)
	// Similarity order is cats, dogs, bonds, stocks; the reversing scorer
	// favors the last ones.
	assert.Equal(t, []string{"stocks rose today", "bonds fell"}, texts(got))
	require.NotNil(t, got[0].RerankScore)
	assert.Equal(t, float32(3), *got[0].RerankScore)
}

func TestRetrieveRerankTiesKeepSimilarityOrder(t *testing.T) {
	store := newStore(t, p("stocks rose today", "b"), p("dogs are mammals", "a"), p("cats are mammals", "a"))
	same := rerank.ScorerFunc(func(_ context.Context, _ string, passages []string) ([]float32, error) {
		return make([]float32, len(passages)), nil
	})
	r := newRetriever(t, store, WithReranker(rerank.New(same)))

	got, err := r.Retrieve(context.Background(), "what are cats", Request{TopKInitial: 3, TopKFinal: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"cats are mammals", "dogs are mammals", "stocks rose today"}, texts(got))
}

func TestRetrieveRerankFailClosed(t *testing.T) {
	store := newStore(t, p("cats are mammals", "a.txt"))
	r := newRetriever(t, store, WithReranker(rerank.New(failing)))

	_, err := r.Retrieve(context.Background(), "what are cats", Request{})
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
}

func TestRetrieveRerankFailClosedUntypedScorerError(t *testing.T) {
	store := newStore(t, p("cats are mammals", "a.txt"))
	untyped := rerank.ScorerFunc(func(context.Context, string, []string) ([]float32, error) {
		return nil, fmt.Errorf("model not loaded")
	})
	r := newRetriever(t, store, WithReranker(rerank.New(untyped)))

	_, err := r.Retrieve(context.Background(), "what are cats", Request{})
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
}

func TestRetrieveRerankFallback(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()
	metrics, err := telemetry.NewRetrievalMetrics(provider.Meter("test"))
	require.NoError(t, err)

	store := newStore(t, p("dogs are mammals", "a.txt"), p("cats are mammals", "a.txt"), p("bonds fell", "b"))
	r := newRetriever(t, store,
		WithReranker(rerank.New(failing)),
		WithRerankPolicy(RerankFallback),
		WithMetrics(metrics),
	)

	got, err := r.Retrieve(context.Background(), "what are cats", Request{TopKFinal: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"cats are mammals", "dogs are mammals"}, texts(got))
	assert.Nil(t, got[0].RerankScore)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var fallbacks int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "recall.rerank.fallback" {
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					fallbacks += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), fallbacks)
}

func TestRetrieveFallbackDoesNotMaskCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := rerank.ScorerFunc(func(context.Context, string, []string) ([]float32, error) {
		cancel()
		return nil, context.Canceled
	})
	store := newStore(t, p("cats are mammals", "a.txt"))
	r := newRetriever(t, store, WithReranker(rerank.New(cancelling)), WithRerankPolicy(RerankFallback))

	_, err := r.Retrieve(ctx, "what are cats", Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieveEmptyStore(t *testing.T) {
	called := false
	scorer := rerank.ScorerFunc(func(context.Context, string, []string) ([]float32, error) {
		called = true
		return nil, nil
	})
	r := newRetriever(t, newStore(t), WithReranker(rerank.New(scorer)))

	got, err := r.Retrieve(context.Background(), "what are cats", Request{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.False(t, called, "reranker must not run without candidates")
}

func TestRetrieveScenarioWithSourceFilter(t *testing.T) {
	store := newStore(t, p("cats are mammals", "a.txt"), p("stocks rose today", "b.txt"))
	r := newRetriever(t, store)

	got, err := r.Retrieve(context.Background(), "what are cats", Request{TopKFinal: 2, Filter: vectorstore.SourceFilter("b.txt")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stocks rose today", got[0].Metadata.Text())
	assert.Equal(t, "b.txt", got[0].Metadata.Source())

	got, err = r.Retrieve(context.Background(), "what are cats", Request{TopKFinal: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cats are mammals", got[0].Metadata.Text())
}

// rawStore serves canned candidates, as a collection written by another
// client would.
type rawStore struct {
	vectorstore.VectorStore
	hits []vectorstore.Candidate
}

func (s rawStore) Search(context.Context, []float32, int, *vectorstore.Filter) ([]vectorstore.Candidate, error) {
	return s.hits, nil
}

func TestRetrieveDropsCandidatesWithoutText(t *testing.T) {
	var passed []string
	recording := rerank.ScorerFunc(func(_ context.Context, _ string, passages []string) ([]float32, error) {
		passed = passages
		return make([]float32, len(passages)), nil
	})
	store := rawStore{
		VectorStore: newStore(t),
		hits: []vectorstore.Candidate{
			{ID: "1", Metadata: vectorstore.Metadata{vectorstore.KeySource: "legacy"}, Score: 0.9},
			{ID: "2", Metadata: vectorstore.Metadata{vectorstore.KeyText: "cats are mammals"}, Score: 0.8},
			{ID: "3", Metadata: vectorstore.Metadata{vectorstore.KeyText: ""}, Score: 0.7},
		},
	}
	r := newRetriever(t, store, WithReranker(rerank.New(recording)))

	got, err := r.Retrieve(context.Background(), "what are cats", Request{TopKFinal: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, []string{got[0].ID, got[1].ID})
	assert.Equal(t, []string{"cats are mammals", ""}, passed)
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	broken := embedding.Func(func(context.Context, []string) ([][]float32, error) {
		return nil, fmt.Errorf("connection refused")
	})
	r, err := New(broken, newStore(t))
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "q", Request{})
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
}

func TestRetrieveEmbedTimeout(t *testing.T) {
	slow := embedding.Func(func(ctx context.Context, _ []string) ([][]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r, err := New(slow, newStore(t), WithEmbedTimeout(10*time.Millisecond))
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "q", Request{})
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestRetrieveDimensionMismatch(t *testing.T) {
	wide := embedding.Func(func(_ context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0, 0}}, nil
	})
	r, err := New(wide, newStore(t))
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "q", Request{})
	assert.ErrorIs(t, err, errors.ErrDimensionMismatch)
}
