package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a single rule execution failed.
type ErrorKind string

const (
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindSchema      ErrorKind = "schema_error"
	ErrorKindUnreachable ErrorKind = "unreachable"
	ErrorKindMalformed   ErrorKind = "malformed"
	ErrorKindCanceled    ErrorKind = "canceled"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindInternal    ErrorKind = "internal"
)

// ExecutionError is a per-rule failure. It never aborts a batch.
type ExecutionError struct {
	Kind   ErrorKind
	RuleID string
	Err    error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.RuleID != "" {
		b.WriteString(" (rule ")
		b.WriteString(e.RuleID)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call could succeed.
func (e *ExecutionError) Retryable() bool {
	return e.Kind == ErrorKindUnreachable
}

// NewExecutionError wraps err with a kind.
func NewExecutionError(kind ErrorKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Err: err}
}

// Execution error constructors used by backend connectors.
func TimeoutError(err error) error     { return NewExecutionError(ErrorKindTimeout, err) }
func SchemaError(err error) error      { return NewExecutionError(ErrorKindSchema, err) }
func UnreachableError(err error) error { return NewExecutionError(ErrorKindUnreachable, err) }
func MalformedError(err error) error   { return NewExecutionError(ErrorKindMalformed, err) }

// KindOf extracts the failure kind of err. Context errors that were never
// classified map to timeout or canceled; anything else is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	default:
		return ErrorKindInternal
	}
}

// IsRetryable reports whether err is an ExecutionError worth retrying.
func IsRetryable(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.Retryable()
}

// ValidationError describes one reason a rule definition was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// TransformWarning marks a semantic field that had no mapping entry. The query
// still runs with the field unchanged.
type TransformWarning struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Reason string `json:"reason"`
}

func (w TransformWarning) String() string {
	return fmt.Sprintf("%s at offset %d: %s", w.Path, w.Offset, w.Reason)
}

// StoreError is returned when the alert store cannot record an alert.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("alert store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// RejectionReason flattens a validation error into one line, joining the
// parts of a joined error with "; ".
func RejectionReason(err error) string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		parts := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			parts = append(parts, e.Error())
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}
