// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import "context"

// FallbackFunc produces a substitute result after the primary operation failed.
type FallbackFunc[T any] func(ctx context.Context, primaryErr error) (T, error)

// WithFallback runs primary and, if it fails, hands the error to fallback.
// A nil fallback propagates the primary error unchanged.
func WithFallback[T any](ctx context.Context, primary func(context.Context) (T, error), fallback FallbackFunc[T]) (T, error) {
	value, err := primary(ctx)
	if err == nil || fallback == nil {
		return value, err
	}
	return fallback(ctx, err)
}
