// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

// Package embedding defines the text-to-vector boundary used by ingest and
// retrieval.
package embedding

import (
	"context"

	"github.com/jllopis/recall/pkg/errors"
)

// Embedder maps texts to dense vectors. The result has one vector per input
// text, in input order, each of the embedder's dimensionality.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Func adapts a function to the Embedder interface.
type Func func(ctx context.Context, texts []string) ([][]float32, error)

// Embed calls f.
func (f Func) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, errors.Newf(errors.CodeBackendUnavailable, "embedder returned %d vectors for 1 text", len(vectors))
	}
	return vectors[0], nil
}
