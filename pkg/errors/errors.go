// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Semant.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Semant errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeValidation indicates a malformed triple, identifier, or query.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// CodeDuplicateID indicates an agent id already holds a live registration.
	CodeDuplicateID ErrorCode = "DUPLICATE_ID"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeVersionNotFound indicates a rollback target predates the retained history.
	CodeVersionNotFound ErrorCode = "VERSION_NOT_FOUND"

	// CodeCyclicDependency indicates a workflow step graph contains a cycle.
	CodeCyclicDependency ErrorCode = "CYCLIC_DEPENDENCY"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCapabilityUnavailable indicates no live agent holds a required capability.
	CodeCapabilityUnavailable ErrorCode = "CAPABILITY_UNAVAILABLE"

	// CodeInitializationFailure indicates agent initialization did not complete.
	CodeInitializationFailure ErrorCode = "INITIALIZATION_FAILURE"

	// CodeAgentError indicates an agent failed while processing a message.
	CodeAgentError ErrorCode = "AGENT_ERROR"
)

// SemantError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type SemantError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *SemantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *SemantError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *SemantError) MarshalJSON() ([]byte, error) {
	type Alias SemantError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new SemantError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *SemantError {
	return &SemantError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Recoverable: recoverableByDefault(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *SemantError) WithContext(key string, value interface{}) *SemantError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *SemantError) WithRecoverable(recoverable bool) *SemantError {
	e.Recoverable = recoverable
	return e
}

// AsSemantError attempts to convert an error to a SemantError.
// Returns the error as SemantError if it is one, or wraps it otherwise.
func AsSemantError(err error) *SemantError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*SemantError); ok {
		return se
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the error code of err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if se, ok := err.(*SemantError); ok {
		return se.Code
	}
	return CodeInternal
}

// IsCode reports whether err is a SemantError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	se, ok := err.(*SemantError)
	return ok && se.Code == code
}

// recoverableByDefault marks transient codes as retryable. Validation and
// structural errors are never retried automatically.
func recoverableByDefault(code ErrorCode) bool {
	switch code {
	case CodeTimeout, CodeCapabilityUnavailable:
		return true
	default:
		return false
	}
}
