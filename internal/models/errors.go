package models

import (
	"errors"
	"fmt"
)

// Common error types
var (
	ErrNotFound          = errors.New("resource not found")
	ErrConflict          = errors.New("operation conflicts with current state")
	ErrInvalidTransition = errors.New("invalid campaign state transition")
)

// AppError represents an application-level error with context
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrInvalidInput creates a validation error
func ErrInvalidInput(message string) error {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
	}
}

// ErrNotFoundWithMsg creates a not found error with custom message
func ErrNotFoundWithMsg(message string) error {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: message,
		Err:     ErrNotFound,
	}
}

// ErrConflictWithMsg creates a conflict error with custom message
func ErrConflictWithMsg(message string) error {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Err:     ErrConflict,
	}
}

// ErrTransition creates an error for a rejected state-machine move,
// e.g. start on a completed campaign. Callers get an explicit refusal
// instead of a silent no-op.
func ErrTransition(action, status string) error {
	return &AppError{
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("action '%s' is not allowed while campaign is '%s'", action, status),
		Err:     ErrInvalidTransition,
	}
}
