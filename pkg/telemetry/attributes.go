// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires OpenTelemetry tracing, metrics and slog for the
// retrieval core.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span and metric attribute keys.
const (
	// Store attributes
	AttrStoreBackend    = "recall.store.backend"
	AttrStoreDim        = "recall.store.dim"
	AttrStoreCollection = "recall.store.collection"

	// Search attributes
	AttrSearchTopK    = "recall.search.top_k"
	AttrSearchFilter  = "recall.search.filter"
	AttrSearchDropped = "recall.search.dropped"

	// Retrieval attributes
	AttrRetrieveTopKInitial = "recall.retrieve.top_k_initial"
	AttrRetrieveTopKFinal   = "recall.retrieve.top_k_final"
	AttrRetrieveQueryLen    = "recall.retrieve.query_length"
	AttrRetrieveReturned    = "recall.retrieve.returned"

	// Rerank attributes
	AttrRerankEnabled  = "recall.rerank.enabled"
	AttrRerankPolicy   = "recall.rerank.on_failure"
	AttrRerankFallback = "recall.rerank.fallback"

	// Ingest attributes
	AttrIngestBatch = "recall.ingest.batch"
	AttrIngestFiles = "recall.ingest.files"

	AttrComponent = "component"
	AttrErrorCode = "error.code"
)

// StoreAttributes describes the backing store of a span.
func StoreAttributes(backend string, dim int, collection string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrStoreBackend, backend),
		attribute.Int(AttrStoreDim, dim),
	}
	if collection != "" {
		attrs = append(attrs, attribute.String(AttrStoreCollection, collection))
	}
	return attrs
}

// SearchAttributes describes a nearest-neighbor search.
func SearchAttributes(topK int, filter string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrSearchTopK, topK),
	}
	if filter != "" {
		attrs = append(attrs, attribute.String(AttrSearchFilter, filter))
	}
	return attrs
}

// RetrieveAttributes describes a retrieval request. The query text itself is
// never recorded, only its length.
func RetrieveAttributes(query string, topKInitial, topKFinal int, rerank bool, policy string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrRetrieveQueryLen, len(query)),
		attribute.Int(AttrRetrieveTopKInitial, topKInitial),
		attribute.Int(AttrRetrieveTopKFinal, topKFinal),
		attribute.Bool(AttrRerankEnabled, rerank),
	}
	if rerank && policy != "" {
		attrs = append(attrs, attribute.String(AttrRerankPolicy, policy))
	}
	return attrs
}

// ResultAttributes describes what a retrieval returned.
func ResultAttributes(returned, dropped int, fallback bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrRetrieveReturned, returned),
	}
	if dropped > 0 {
		attrs = append(attrs, attribute.Int(AttrSearchDropped, dropped))
	}
	if fallback {
		attrs = append(attrs, attribute.Bool(AttrRerankFallback, true))
	}
	return attrs
}
