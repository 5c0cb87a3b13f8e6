package utils

import (
	"errors"
	"fmt"
)

// Error kinds shared across packages. Match them with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrEmbedding     = errors.New("embedding failed")
	ErrStoreQuery    = errors.New("incident store query failed")
	ErrReasoning     = errors.New("reasoning failed")
	ErrNotFound      = errors.New("not found")
	ErrNotConfigured = errors.New("not configured")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// KindError constructs an AppError whose chain matches kind and, when non-nil, cause.
func KindError(kind error, op, msg string, cause error) error {
	if cause == nil {
		return &AppError{Op: op, Msg: msg, Err: kind}
	}
	return &AppError{Op: op, Msg: msg, Err: fmt.Errorf("%w: %w", kind, cause)}
}
