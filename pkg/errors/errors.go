// Package errors classifies compose-farm failures
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Per-unit failures reported by orchestration
	ErrorTypeTransport    ErrorType = "transport"
	ErrorTypeCommand      ErrorType = "command"
	ErrorTypePrecondition ErrorType = "precondition"
	ErrorTypePartial      ErrorType = "partial"
	ErrorTypeInterrupted  ErrorType = "interrupted"

	// Loading and persistence failures
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeIO         ErrorType = "io"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewTransportError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTransport, message, cause)
}

func NewCommandError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCommand, message, cause)
}

func NewPreconditionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePrecondition, message, cause)
}

func NewPartialError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePartial, message, cause)
}

func NewInterruptedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInterrupted, message, cause)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

// isType reports whether the first DomainError on each branch of err's tree has type t
func isType(err error, t ErrorType) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *DomainError:
		return e != nil && e.Type == t
	case interface{ Unwrap() []error }:
		for _, member := range e.Unwrap() {
			if isType(member, t) {
				return true
			}
		}
		return false
	}
	return isType(errors.Unwrap(err), t)
}

func IsTransportError(err error) bool    { return isType(err, ErrorTypeTransport) }
func IsCommandError(err error) bool      { return isType(err, ErrorTypeCommand) }
func IsPreconditionError(err error) bool { return isType(err, ErrorTypePrecondition) }
func IsPartialError(err error) bool      { return isType(err, ErrorTypePartial) }
func IsInterruptedError(err error) bool  { return isType(err, ErrorTypeInterrupted) }
func IsValidationError(err error) bool   { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool     { return isType(err, ErrorTypeNotFound) }
func IsIOError(err error) bool           { return isType(err, ErrorTypeIO) }

// ErrorCollection aggregates errors from bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d errors occurred: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Add appends a non-nil error
func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors reports whether any error was collected
func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorOrNil returns the collection as an error, or nil when empty
func (e *ErrorCollection) ErrorOrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}
