// Package form describes expert input fields and validates raw input
// against them.
package form

import (
	"errors"
	"fmt"
)

// Type is the kind of value a field accepts.
type Type string

const (
	TypeString  Type = "string"
	TypeText    Type = "text"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeDate    Type = "date" // YYYY-MM-DD
	TypeTime    Type = "time" // HH:MM
)

// Field describes one input of an expert form.
type Field struct {
	ID       string `json:"id"`
	Type     Type   `json:"type"`
	Optional bool   `json:"optional,omitempty"`
	// Constraint is a CEL expression over `value` (the field) and `input`
	// (the whole form) that must evaluate to true.
	Constraint string `json:"constraint,omitempty"`
	// Choices restricts a string field to an enumeration.
	Choices []string `json:"choices,omitempty"`
	Tip     string   `json:"tip,omitempty"`
}

var ErrValidation = errors.New("validation failed")

// ValidationError is a user-correctable input problem.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
