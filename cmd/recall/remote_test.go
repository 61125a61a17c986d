// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/recall/pkg/embedding"
	recallmcp "github.com/jllopis/recall/pkg/mcp"
	"github.com/jllopis/recall/pkg/retrieval"
	"github.com/jllopis/recall/pkg/vectorstore"
)

func TestQueryRemote(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	store, err := vectorstore.NewFlatStore(3)
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx,
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		[]vectorstore.Metadata{
			{vectorstore.KeyText: "cats are mammals", vectorstore.KeySource: "a.txt"},
			{vectorstore.KeyText: "stocks rose today", vectorstore.KeySource: "b.txt"},
		},
	))
	emb := embedding.Func(func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0, 1, 0}
		}
		return out, nil
	})
	r, err := retrieval.New(emb, store)
	require.NoError(t, err)

	srv := recallmcp.NewServer("recall-test", "test", nil)
	srv.RegisterRetrieveTool(r, nil)
	ts := httptest.NewServer(srv.HTTPHandler())
	t.Cleanup(ts.Close)

	out, _, err := env.run(t, "", "query", "markets", "--remote", ts.URL, "-k", "1", "-o", "json")
	require.NoError(t, err)
	q := decodeQuery(t, out)
	require.Len(t, q.Results, 1)
	assert.Equal(t, "stocks rose today", q.Results[0].Text)
	assert.Equal(t, "b.txt", q.Results[0].Source)

	out, _, err = env.run(t, "", "query", "markets", "--remote", ts.URL, "--source", "a.txt", "-o", "json")
	require.NoError(t, err)
	q = decodeQuery(t, out)
	require.Len(t, q.Results, 1)
	assert.Equal(t, "cats are mammals", q.Results[0].Text)
}
