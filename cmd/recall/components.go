// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/jllopis/recall/pkg/embedding/ollama"
	"github.com/jllopis/recall/pkg/rerank"
	"github.com/jllopis/recall/pkg/retrieval"
	"github.com/jllopis/recall/pkg/vectorstore"
)

// openStore opens the configured backend. A flat store is seeded from its
// snapshot file when one exists.
func (a *app) openStore(ctx context.Context) (vectorstore.VectorStore, error) {
	store, err := vectorstore.Open(ctx, a.cfg.VectorStore(a.logger))
	if err != nil {
		return nil, err
	}

	flat, ok := store.(*vectorstore.FlatStore)
	path := a.cfg.Store.Flat.SnapshotPath
	if !ok || path == "" {
		return store, nil
	}
	err = flat.LoadSnapshot(ctx, a.snapshotDriver(), path)
	if err != nil && !stderrors.Is(err, os.ErrNotExist) {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// persist writes the flat snapshot when one is configured. It reports
// whether anything was written.
func (a *app) persist(ctx context.Context, store vectorstore.VectorStore) (bool, error) {
	flat, ok := store.(*vectorstore.FlatStore)
	path := a.cfg.Store.Flat.SnapshotPath
	if !ok || path == "" {
		return false, nil
	}
	if err := flat.SaveSnapshot(ctx, a.snapshotDriver(), path); err != nil {
		return false, err
	}
	return true, nil
}

func (a *app) snapshotDriver() vectorstore.SnapshotDriver {
	if d := a.cfg.Store.Flat.SnapshotDriver; d != "" {
		return vectorstore.SnapshotDriver(d)
	}
	return vectorstore.SnapshotSQLite
}

func (a *app) embedder() *ollama.Embedder {
	e := a.cfg.Embedder
	return ollama.NewEmbedder(e.BaseURL, e.Model,
		ollama.WithTimeout(e.Timeout),
		ollama.WithLogger(a.logger),
	)
}

func (a *app) newRetriever(store vectorstore.VectorStore) (*retrieval.Retriever, error) {
	opts := []retrieval.Option{
		retrieval.WithDefaults(a.cfg.Retrieval.TopKInitial, a.cfg.Retrieval.TopKFinal),
		retrieval.WithEmbedTimeout(a.cfg.Embedder.Timeout),
		retrieval.WithLogger(a.logger),
		retrieval.WithMetrics(a.metrics),
	}

	if rc := a.cfg.Reranker; rc.Enabled {
		policy, err := retrieval.ParseRerankPolicy(rc.OnFailure)
		if err != nil {
			return nil, err
		}
		scorer := rerank.NewHTTPScorer(rc.BaseURL, rc.Model, nil)
		opts = append(opts,
			retrieval.WithReranker(rerank.New(scorer, rerank.WithTimeout(rc.Timeout), rerank.WithLogger(a.logger))),
			retrieval.WithRerankPolicy(policy),
		)
	}
	return retrieval.New(a.embedder(), store, opts...)
}
