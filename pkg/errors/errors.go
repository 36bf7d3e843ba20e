package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard errors
var (
	// ErrNotFound is returned when a requested record is not found
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned when a record or query violates an invariant
	ErrInvalidInput = errors.New("invalid input")

	// ErrCollaboratorUnavailable is returned when a persistence or semantic
	// collaborator call fails or times out
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrLuaExecution is returned when there's an error executing a Lua script
	ErrLuaExecution = errors.New("lua script execution error")

	// ErrClosed is returned when an operation is attempted on a closed engine
	ErrClosed = errors.New("engine closed")
)

// FieldViolation describes a single violated field invariant.
type FieldViolation struct {
	Field  string
	Reason string
}

// ValidationError lists every field that failed validation on a write.
type ValidationError struct {
	Violations []FieldViolation
}

// Add appends a violation for field.
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// HasViolations reports whether any violation was recorded.
func (e *ValidationError) HasViolations() bool {
	return e != nil && len(e.Violations) > 0
}

// Fields returns the names of the violated fields in the order they were recorded.
func (e *ValidationError) Fields() []string {
	fields := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match validation errors.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// OrNil returns e as an error if it holds violations, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e.HasViolations() {
		return e
	}
	return nil
}

// CollaboratorError records a failed call to an external collaborator.
type CollaboratorError struct {
	// Collaborator names the collaborator ("persistence", "semantic")
	Collaborator string

	// Op is the collaborator operation that failed
	Op string

	// Err is the underlying failure
	Err error
}

// NewCollaboratorError wraps err as a failure of collaborator.op.
func NewCollaboratorError(collaborator, op string, err error) *CollaboratorError {
	return &CollaboratorError{Collaborator: collaborator, Op: op, Err: err}
}

// Error implements the error interface.
func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Collaborator, e.Op, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *CollaboratorError) Unwrap() []error {
	return []error{ErrCollaboratorUnavailable, e.Err}
}

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Join returns an error wrapping every non-nil error in errs.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
