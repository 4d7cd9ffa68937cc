//
// Copyright (C) 2026 Kianax.  All rights reserved.
//
// kianax-engine is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"fmt"
	"strings"

	"github.com/kianax/engine/routine"
)

// Code classifies engine errors.
type Code string

// Dispatch-time error codes.
const (
	CodePluginNotFound         Code = "PLUGIN_NOT_FOUND"
	CodeInputValidationFailed  Code = "INPUT_VALIDATION_FAILED"
	CodeOutputValidationFailed Code = "OUTPUT_VALIDATION_FAILED"
	CodeCredentialLoadFailed   Code = "CREDENTIAL_LOAD_FAILED"

	// Input gathering soft-skips absent upstream outputs and unemitted
	// source handles, so the engine never raises these two itself. They
	// stay reserved for strict-mode gathering and for callers classifying
	// wiring gaps on their own.
	CodeMissingUpstreamOutput Code = "MISSING_UPSTREAM_OUTPUT"
	CodeUnknownSourceHandle   Code = "UNKNOWN_SOURCE_HANDLE"


	CodeInputKeyConflict Code = "INPUT_KEY_CONFLICT"
	CodeUnroutedBranch   Code = "UNROUTED_BRANCH"
)

// Runtime error codes.
const (
	CodePluginExecutionFailed Code = "PLUGIN_EXECUTION_FAILED"
	CodeCancelled             Code = "CANCELLED"
	CodeTimeout               Code = "TIMEOUT"
	CodeBudgetExceeded        Code = "BUDGET_EXCEEDED"
)

// Error is a coded engine error tied to a node execution where applicable.
type Error struct {
	Code    Code   `json:"code"`
	NodeID  string `json:"nodeId,omitempty"`
	Message string `json:"message"`

	// Stack is the captured stack for plugin-raised panics.
	Stack string `json:"stack,omitempty"`

	// Err is the wrapped cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, nodeID, format string, args ...any) *Error {
	return &Error{Code: code, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, nodeID string, err error) *Error {
	return &Error{Code: code, NodeID: nodeID, Message: err.Error(), Err: err}
}

// ValidationError aggregates the validator's findings when a routine is
// rejected before any dispatch.
type ValidationError struct {
	Result *routine.ValidationResult
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Errors))
	for _, issue := range e.Result.Errors {
		msgs = append(msgs, issue.String())
	}
	return fmt.Sprintf("routine validation failed: %s", strings.Join(msgs, "; "))
}
