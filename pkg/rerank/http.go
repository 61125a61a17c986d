// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jllopis/recall/pkg/errors"
)

// HTTPScorer calls a cross-encoder served behind a text-embeddings-inference
// style /rerank endpoint.
type HTTPScorer struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ Scorer = (*HTTPScorer)(nil)

// NewHTTPScorer creates a scorer for the server at baseURL. model is sent
// along for servers that host several rerankers and may be empty.
func NewHTTPScorer(baseURL, model string, client *http.Client) *HTTPScorer {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPScorer{baseURL: baseURL, model: model, client: client}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	Model     string   `json:"model,omitempty"`
	RawScores bool     `json:"raw_scores"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score implements Scorer. The server answers in relevance order; results are
// mapped back to passage order.
func (s *HTTPScorer) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return []float32{}, nil
	}
	scores, err := s.score(ctx, query, passages)
	if err != nil && errors.CodeOf(err) == errors.CodeInternal && ctx.Err() == nil {
		return nil, errors.New(errors.CodeBackendUnavailable, "rerank request failed", err).
			WithContext("base_url", s.baseURL)
	}
	return scores, err
}

func (s *HTTPScorer) score(ctx context.Context, query string, passages []string) ([]float32, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Texts: passages, Model: s.model, RawScores: true})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var results []rerankResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}
	if len(results) != len(passages) {
		return nil, fmt.Errorf("rerank server returned %d results for %d passages", len(results), len(passages))
	}

	scores := make([]float32, len(passages))
	seen := make([]bool, len(passages))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(passages) || seen[r.Index] {
			return nil, fmt.Errorf("rerank server returned invalid index %d", r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = float32(r.Score)
	}
	return scores, nil
}
