package errors

import (
	"errors"
	"fmt"
)

// NewNotConnectedError reports an operation on a backend that has not been connected
func NewNotConnectedError(backend string) *AppError {
	return NewStorageError(CodeNotConnected, fmt.Sprintf("%s not connected", backend))
}

// NewRecordNotFoundError reports a missing record
func NewRecordNotFoundError(kind, id string) *AppError {
	appErr := NewStorageError(CodeDataNotFound, fmt.Sprintf("%s %s not found", kind, id))
	appErr.Cause = ErrDataNotFound
	return appErr
}

// IsNotFound reports whether err is a missing-record error
func IsNotFound(err error) bool {
	return Is(err, ErrDataNotFound)
}

// Is mirrors the standard library so callers need a single errors import
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As mirrors the standard library so callers need a single errors import
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// NewDuplicateRecordError reports an attempt to overwrite an immutable record
func NewDuplicateRecordError(kind, id string) *AppError {
	return NewStorageError(CodeDuplicateRecord, fmt.Sprintf("%s %s already exists", kind, id))
}

// NewRunFinalizedError reports a write to a training run whose spend is frozen
func NewRunFinalizedError(id string) *AppError {
	return NewStorageError(CodeRunFinalized, fmt.Sprintf("training run %s is finalized", id))
}

// IsRunFinalized reports whether err rejects a write to a finalized run
func IsRunFinalized(err error) bool {
	return Is(err, &AppError{Type: ErrorTypeStorage, Code: CodeRunFinalized})
}

// IsDuplicateRecord reports whether err rejects overwriting an immutable record
func IsDuplicateRecord(err error) bool {
	return Is(err, &AppError{Type: ErrorTypeStorage, Code: CodeDuplicateRecord})
}
