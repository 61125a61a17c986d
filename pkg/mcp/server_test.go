// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/recall/pkg/errors"
	"github.com/jllopis/recall/pkg/retrieval"
	"github.com/jllopis/recall/pkg/vectorstore"
)

type fakeRetriever struct {
	mu      sync.Mutex
	query   string
	req     retrieval.Request
	results []vectorstore.Candidate
	err     error
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, req retrieval.Request) ([]vectorstore.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = query
	f.req = req
	return f.results, f.err
}

func (f *fakeRetriever) last() (string, retrieval.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query, f.req
}

func defaultsFunc() retrieval.Request {
	return retrieval.Request{TopKInitial: 10, TopKFinal: 3}
}

func startTestServer(t *testing.T, r Retriever) *Client {
	t.Helper()
	s := NewServer("recall-test", "1.0.0", nil)
	s.RegisterRetrieveTool(r, defaultsFunc)

	httpServer := mcpserver.NewTestStreamableHTTPServer(s.mcpServer)
	t.Cleanup(httpServer.Close)

	client, err := NewHTTPClient(context.Background(), httpServer.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRetrieveTool_RoundTrip(t *testing.T) {
	score := float32(4.5)
	r := &fakeRetriever{results: []vectorstore.Candidate{
		{
			ID:          "0",
			Metadata:    vectorstore.Metadata{vectorstore.KeyText: "cats are mammals", vectorstore.KeySource: "a.txt", "page": "2"},
			Score:       0.9,
			RerankScore: &score,
		},
		{
			ID:       "2",
			Metadata: vectorstore.Metadata{vectorstore.KeyText: "dogs are mammals", vectorstore.KeySource: "c.txt"},
			Score:    0.7,
		},
	}}
	client := startTestServer(t, r)

	results, err := client.Retrieve(context.Background(), RetrieveArgs{Query: "what are cats", TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "cats are mammals", results[0].Text)
	assert.Equal(t, "a.txt", results[0].Source)
	assert.Equal(t, vectorstore.Metadata{"page": "2"}, results[0].Metadata)
	require.NotNil(t, results[0].RerankScore)
	assert.Equal(t, score, *results[0].RerankScore)
	assert.Nil(t, results[1].RerankScore)
	assert.Nil(t, results[1].Metadata)

	query, req := r.last()
	assert.Equal(t, "what are cats", query)
	assert.Equal(t, 2, req.TopKFinal)
	assert.Equal(t, 10, req.TopKInitial, "defaults fill missing counts")
	assert.Nil(t, req.Filter)
}

func TestRetrieveTool_Filter(t *testing.T) {
	r := &fakeRetriever{}
	client := startTestServer(t, r)

	results, err := client.Retrieve(context.Background(), RetrieveArgs{
		Query:  "finance",
		Filter: vectorstore.SourceFilter("b.txt"),
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, req := r.last()
	assert.Equal(t, vectorstore.SourceFilter("b.txt"), req.Filter)
	assert.Equal(t, 3, req.TopKFinal)
}

func TestRetrieveTool_ErrorCodeSurvives(t *testing.T) {
	r := &fakeRetriever{err: errors.New(errors.CodeBackendUnavailable, "embedding server unreachable", nil)}
	client := startTestServer(t, r)

	_, err := client.Retrieve(context.Background(), RetrieveArgs{Query: "anything"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "embedding server unreachable")
}

func callHandler(t *testing.T, r Retriever, args map[string]any) *mcpgo.CallToolResult {
	t.Helper()
	s := NewServer("recall-test", "1.0.0", nil)
	req := mcpgo.CallToolRequest{}
	req.Params.Name = ToolRetrieve
	req.Params.Arguments = args
	res, err := s.retrieveHandler(r, nil)(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestRetrieveHandler_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "missing query", args: map[string]any{}},
		{name: "source and filter", args: map[string]any{"query": "q", "source": "a", "filter": map[string]any{"lang": "en"}}},
		{name: "two filter fields", args: map[string]any{"query": "q", "filter": map[string]any{"lang": "en", "source": "a"}}},
		{name: "non-string filter value", args: map[string]any{"query": "q", "filter": map[string]any{"page": 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRetriever{}
			res := callHandler(t, r, tt.args)
			assert.True(t, res.IsError)
			assert.ErrorIs(t, parseToolError(resultText(res)), errors.ErrInvalidInput)
			query, _ := r.last()
			assert.Empty(t, query, "retriever must not be called")
		})
	}
}

func TestRetrieveHandler_SourceArgument(t *testing.T) {
	r := &fakeRetriever{results: []vectorstore.Candidate{}}
	res := callHandler(t, r, map[string]any{"query": "q", "source": "doc.pdf", "top_k_initial": float64(20)})
	require.False(t, res.IsError)

	var out retrieveOutput
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &out))
	assert.Empty(t, out.Results)

	_, req := r.last()
	assert.Equal(t, vectorstore.SourceFilter("doc.pdf"), req.Filter)
	assert.Equal(t, 20, req.TopKInitial)
	assert.Zero(t, req.TopKFinal, "no defaults provider means the retriever applies its own")
}

func TestParseToolError(t *testing.T) {
	assert.ErrorIs(t, parseToolError("TIMEOUT: embed timed out"), errors.ErrTimeout)
	err := parseToolError("something odd")
	assert.Equal(t, errors.CodeInternal, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "something odd")
}

func TestToolErrorWrapsUntypedErrors(t *testing.T) {
	res := toolError(context.Canceled)
	assert.True(t, res.IsError)
	assert.Equal(t, "INTERNAL_ERROR: context canceled", resultText(res))

	res = toolError(errors.New(errors.CodeTimeout, "search timed out", context.DeadlineExceeded))
	assert.Equal(t, "TIMEOUT: search timed out: context deadline exceeded", resultText(res))
}
