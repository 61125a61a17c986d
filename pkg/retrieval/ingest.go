// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package retrieval

import (
	"context"
	"log/slog"

	"github.com/jllopis/recall/pkg/embedding"
	"github.com/jllopis/recall/pkg/errors"
	"github.com/jllopis/recall/pkg/telemetry"
	"github.com/jllopis/recall/pkg/vectorstore"
)

// DefaultBatchSize is the number of passages embedded per request.
const DefaultBatchSize = 32

// Passage is a unit of text to index, with its metadata. Text is stored
// under the "text" metadata key.
type Passage struct {
	Text     string
	Metadata vectorstore.Metadata
}

// Indexer embeds passages and adds them to a store in batches.
type Indexer struct {
	embedder  embedding.Embedder
	store     vectorstore.VectorStore
	batchSize int
	logger    *slog.Logger
	metrics   *telemetry.RetrievalMetrics
}

// NewIndexer creates an Indexer. batchSize <= 0 uses DefaultBatchSize.
func NewIndexer(embedder embedding.Embedder, store vectorstore.VectorStore, batchSize int, logger *slog.Logger, metrics *telemetry.RetrievalMetrics) *Indexer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		logger:    logger.With("component", "indexer"),
		metrics:   metrics,
	}
}

// Index adds passages and returns how many were stored. Each batch is
// atomic; on error, earlier batches stay stored. progress, if non-nil, is
// called with the size of every stored batch.
func (ix *Indexer) Index(ctx context.Context, passages []Passage, progress func(n int)) (int, error) {
	backend := string(vectorstore.BackendOf(ix.store))
	stored := 0
	for start := 0; start < len(passages); start += ix.batchSize {
		end := min(start+ix.batchSize, len(passages))
		batch := passages[start:end]

		texts := make([]string, len(batch))
		metadata := make([]vectorstore.Metadata, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
			m := p.Metadata.Clone()
			if m == nil {
				m = vectorstore.Metadata{}
			}
			m[vectorstore.KeyText] = p.Text
			metadata[i] = m
		}

		vectors, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			ix.metrics.RecordError(ctx, err, "indexer")
			return stored, err
		}
		if len(vectors) != len(batch) {
			err := errors.Newf(errors.CodeBackendUnavailable, "embedder returned %d vectors for %d passages", len(vectors), len(batch))
			ix.metrics.RecordError(ctx, err, "indexer")
			return stored, err
		}
		if err := ix.store.Add(ctx, vectors, metadata); err != nil {
			ix.metrics.RecordError(ctx, err, "indexer")
			return stored, err
		}

		stored += len(batch)
		ix.metrics.RecordIngest(ctx, backend, len(batch))
		if progress != nil {
			progress(len(batch))
		}
	}
	ix.logger.DebugContext(ctx, "passages indexed", "count", stored, "backend", backend)
	return stored, nil
}
