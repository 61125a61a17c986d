// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for Recall.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Recall errors for monitoring and caller policy.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid (bad top-k, zero vector, bad filter).
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeDimensionMismatch indicates a vector length differs from the store dimension.
	CodeDimensionMismatch ErrorCode = "DIMENSION_MISMATCH"

	// CodeBatchLengthMismatch indicates vectors and metadata batches differ in length.
	CodeBatchLengthMismatch ErrorCode = "BATCH_LENGTH_MISMATCH"

	// CodeBackendUnavailable indicates a remote store or external model call failed.
	CodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"
)

// Sentinels usable with errors.Is. Any *Error with the same code matches.
var (
	ErrInvalidInput        = &Error{Code: CodeInvalidInput}
	ErrDimensionMismatch   = &Error{Code: CodeDimensionMismatch}
	ErrBatchLengthMismatch = &Error{Code: CodeBatchLengthMismatch}
	ErrBackendUnavailable  = &Error{Code: CodeBackendUnavailable}
	ErrTimeout             = &Error{Code: CodeTimeout}
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new Error with the given code, message, and cause.
// Backend and timeout failures start out recoverable.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Recoverable: code == CodeBackendUnavailable || code == CodeTimeout,
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As attempts to convert an error to an *Error.
// Returns the error as *Error if it is one, or wraps it as internal otherwise.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if asError(err, &re) {
		return re
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var re *Error
	if asError(err, &re) {
		return re.Code
	}
	return CodeInternal
}

// IsRecoverable reports whether err carries a recoverable *Error.
func IsRecoverable(err error) bool {
	var re *Error
	if asError(err, &re) {
		return re.Recoverable
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

func asError(err error, target **Error) bool {
	return stderrors.As(err, target)
}
