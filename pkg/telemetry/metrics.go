// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/recall/pkg/errors"
)

// RetrievalMetrics counts searches, ingests, rerank fallbacks and errors of
// the retrieval core. A nil *RetrievalMetrics records nothing.
type RetrievalMetrics struct {
	searches          metric.Int64Counter
	ingested          metric.Int64Counter
	rerankFallbacks   metric.Int64Counter
	errorCounter      metric.Int64Counter
	retrieveDurations metric.Float64Histogram
}

// NewRetrievalMetrics creates the instruments on meter. A nil meter uses the
// global meter provider.
func NewRetrievalMetrics(meter metric.Meter) (*RetrievalMetrics, error) {
	if meter == nil {
		meter = otel.Meter("recall/retrieval")
	}

	searches, err := meter.Int64Counter(
		"recall.search.total",
		metric.WithDescription("Vector store searches by backend"),
	)
	if err != nil {
		return nil, err
	}

	ingested, err := meter.Int64Counter(
		"recall.ingest.entries",
		metric.WithDescription("Entries added to the vector store by backend"),
	)
	if err != nil {
		return nil, err
	}

	rerankFallbacks, err := meter.Int64Counter(
		"recall.rerank.fallback",
		metric.WithDescription("Retrievals that returned similarity order after a rerank failure"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"recall.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	retrieveDurations, err := meter.Float64Histogram(
		"recall.retrieve.duration",
		metric.WithDescription("End-to-end retrieval latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &RetrievalMetrics{
		searches:          searches,
		ingested:          ingested,
		rerankFallbacks:   rerankFallbacks,
		errorCounter:      errorCounter,
		retrieveDurations: retrieveDurations,
	}, nil
}

// RecordSearch counts one store search.
func (m *RetrievalMetrics) RecordSearch(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.searches.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStoreBackend, backend)))
}

// RecordIngest counts n entries added to the store.
func (m *RetrievalMetrics) RecordIngest(ctx context.Context, backend string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingested.Add(ctx, int64(n), metric.WithAttributes(attribute.String(AttrStoreBackend, backend)))
}

// RecordRetrieve records the latency of a completed retrieval.
func (m *RetrievalMetrics) RecordRetrieve(ctx context.Context, elapsed time.Duration, rerank bool) {
	if m == nil {
		return
	}
	m.retrieveDurations.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(attribute.Bool(AttrRerankEnabled, rerank)))
}

// RecordRerankFallback counts a retrieval that degraded to similarity order.
func (m *RetrievalMetrics) RecordRerankFallback(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.rerankFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String(AttrErrorCode, string(errors.CodeOf(err)))))
}

// RecordError increments the error counter for err's code and component.
func (m *RetrievalMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	e := errors.As(err)
	m.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrErrorCode, string(e.Code)),
			attribute.String(AttrComponent, component),
			attribute.String("recoverable", e.RecoverableString()),
		),
	)
}
