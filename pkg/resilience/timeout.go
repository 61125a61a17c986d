// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience bounds calls to external collaborators (remote store,
// embedder, reranker) with deadlines.
package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/recall/pkg/errors"
)

// TimeoutConfig controls timeout behavior.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the operation. Zero means the
	// call is bounded only by the parent context.
	Duration time.Duration

	// Operation names the call in the resulting timeout error.
	Operation string
}

// Call executes fn with a timeout boundary derived from ctx.
// fn receives the bounded context and must pass it to any network call so the
// in-flight request is aborted on expiry. Call returns as soon as the
// deadline fires, even if fn has not yet returned.
// Returns an errors.CodeTimeout error if the deadline is exceeded and the
// parent context's error if the parent was canceled.
func Call[T any](ctx context.Context, config TimeoutConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if config.Duration > 0 {
		callCtx, cancel = context.WithTimeout(ctx, config.Duration)
	}
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(callCtx)
		done <- result{value, err}
	}()

	select {
	case <-callCtx.Done():
		return zero, timeoutError(ctx, callCtx, config)
	case res := <-done:
		if res.err != nil && callCtx.Err() != nil {
			return zero, timeoutError(ctx, callCtx, config)
		}
		return res.value, res.err
	}
}

// Do is Call for functions without a result value.
func Do(ctx context.Context, config TimeoutConfig, fn func(context.Context) error) error {
	_, err := Call(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func timeoutError(parent, callCtx context.Context, config TimeoutConfig) error {
	if err := parent.Err(); err != nil && !stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	op := config.Operation
	if op == "" {
		op = "operation"
	}
	return errors.New(errors.CodeTimeout, op+" exceeded timeout", callCtx.Err()).
		WithContext("timeout", config.Duration.String())
}
