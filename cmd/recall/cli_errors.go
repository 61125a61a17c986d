// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/recall/pkg/errors"
)

// CLIError wraps a typed error with a hint for the user.
type CLIError struct {
	Cause *errors.Error
	Hint  string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Cause: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Cause == nil {
		return "unknown error"
	}
	msg := e.Cause.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error to errors.Is.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// PrintError writes the error to w, as a JSON object when asJSON is set.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		payload := map[string]any{"error": map[string]any{
			"code":    e.Cause.Code,
			"message": e.detail(),
			"hint":    e.Hint,
		}}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", e.Cause.Code, e.detail())
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

func (e *CLIError) detail() string {
	if e.Cause.Err != nil {
		return e.Cause.Message + ": " + e.Cause.Err.Error()
	}
	return e.Cause.Message
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg)
	return NewCLIError(e, "run 'recall help' for usage information")
}

// wrapError attaches a hint matching the error code of err.
func wrapError(err error) *CLIError {
	var ce *CLIError
	if stderrors.As(err, &ce) {
		return ce
	}
	var e *errors.Error
	if !stderrors.As(err, &e) {
		e = errors.New(errors.CodeInternal, "command failed", err)
	}
	return NewCLIError(e, hintFor(e.Code))
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeBackendUnavailable:
		return "check that the embedding server, reranker and vector store are reachable"
	case errors.CodeTimeout:
		return "raise the matching timeout in the config or check backend health"
	case errors.CodeDimensionMismatch:
		return "store.dim must match the embedding model output size"
	case errors.CodeInvalidInput:
		return "run 'recall help' for usage information"
	default:
		return ""
	}
}
