package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrSelfDependency  = errors.New("source cannot depend on itself")
	ErrAlreadyTerminal = errors.New("extraction already in terminal state")
	ErrNotFailed       = errors.New("extraction is not in failed state")
	ErrShuttingDown    = errors.New("orchestrator is shutting down")
)

// ValidationError indicates a malformed request. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// DependencyBlockedError reports that a submission cannot proceed because
// one or more required dependencies are unsatisfied. It is a caller-visible
// negative result, not an internal failure.
type DependencyBlockedError struct {
	SourceID    string
	Unsatisfied []string // dependency ids
}

func (e *DependencyBlockedError) Error() string {
	return fmt.Sprintf("source %s blocked by %d unsatisfied required dependencies",
		e.SourceID, len(e.Unsatisfied))
}

// CycleDetectedError reports that an EXECUTION-type cycle prevents a total
// ordering of the requested sources.
type CycleDetectedError struct {
	Cycles [][]string
}

func (e *CycleDetectedError) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		parts[i] = strings.Join(c, " -> ")
	}
	return fmt.Sprintf("execution order impossible, cycles detected: %s",
		strings.Join(parts, "; "))
}

// TransientError wraps a connector failure that is worth retrying in-process
// (network, timeout, rate-limit class). Implements IsRetryable so the retry
// package honors the classification without re-parsing the message.
type TransientError struct {
	Kind string // e.g. "network", "timeout", "rate_limit"
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient extraction error (%s): %v", e.Kind, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) IsRetryable() bool { return true }

// FatalError wraps a connector failure that must not be blindly retried
// (schema, permission, validation class). Requires explicit healing.
type FatalError struct {
	Kind string // e.g. "schema", "permission", "validation"
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal extraction error (%s): %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) IsRetryable() bool { return false }

// TimeoutError is returned by WaitForCompletion when the caller's deadline
// elapses. The underlying extraction keeps running; cancellation is a
// separate, explicit call.
type TimeoutError struct {
	ExtractionID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for extraction %s", e.ExtractionID)
}
