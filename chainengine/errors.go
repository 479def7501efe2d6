package chainengine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a local step ID or chain does not exist.
	ErrNotFound = errors.New("chainengine: not found")
	// ErrChainBusy is returned when an execution is already in flight for a
	// chain session. Callers must not retry automatically.
	ErrChainBusy = errors.New("chainengine: execution already in flight")
	// ErrTemplateNotFound is returned when a referenced template cannot be
	// resolved from the template store.
	ErrTemplateNotFound = errors.New("chainengine: template not found")
	// ErrUnknownParameter is returned when a caller addresses a parameter key
	// absent from the task type's schema.
	ErrUnknownParameter = errors.New("chainengine: unknown parameter")
	// ErrInvalidParameterValue is returned when a raw value cannot be coerced
	// to its schema type.
	ErrInvalidParameterValue = errors.New("chainengine: invalid parameter value")
	// ErrInvalidOverrideJSON is returned when a user-entered LLM override or
	// constraints field is not valid JSON.
	ErrInvalidOverrideJSON = errors.New("chainengine: invalid override json")
	// ErrInvalidStepKind is returned when an operation targets a step of the
	// wrong kind, such as updating a template reference as a private step.
	ErrInvalidStepKind = errors.New("chainengine: invalid step kind")
	// ErrStepIndexOutOfRange is returned by reorder when an index does not
	// address an element of a non-empty list.
	ErrStepIndexOutOfRange = errors.New("chainengine: step index out of range")
)

// ValidationError marks chain input that can never succeed without user
// correction, such as a missing chain name or malformed override JSON.
// It is surfaced immediately and never retried.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("chainengine: validation failed on %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("chainengine: validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError for field with an optional
// underlying cause.
func NewValidationError(field, reason string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}
