package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Configuration errors
	ErrInvalidConfiguration    = errors.New("invalid configuration")
	ErrInfeasibleConfiguration = errors.New("infeasible privacy configuration")

	// Privacy errors
	ErrPrivacyBudgetExceeded = errors.New("privacy budget exceeded")
	ErrInvalidTrainingStep   = errors.New("invalid training step")
	ErrBudgetFinalized       = errors.New("privacy budget already finalized")

	// Evaluation errors
	ErrInsufficientData = errors.New("insufficient data")
	ErrEvaluationFailed = errors.New("evaluation failed")
	ErrColumnNotFound   = errors.New("column not found")

	// Storage errors
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrStorageTimeout          = errors.New("storage operation timeout")
	ErrDataNotFound            = errors.New("data not found")

	ErrUnavailable = errors.New("service unavailable")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypePrivacy       ErrorType = "privacy"
	ErrorTypeEvaluation    ErrorType = "evaluation"
	ErrorTypeStorage       ErrorType = "storage"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Retryable bool                   `json:"retryable"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errType,
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: isRetryable(err),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message)
}

// NewPrivacyError creates a privacy error
func NewPrivacyError(code, message string) *AppError {
	return NewAppError(ErrorTypePrivacy, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrStorageTimeout):
		return true
	case errors.Is(err, ErrStorageConnectionFailed):
		return true
	case errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeInvalidInput = "INVALID_INPUT"
	CodeMissingField = "MISSING_FIELD"
	CodeOutOfRange   = "OUT_OF_RANGE"

	// Configuration error codes
	CodeInvalidConfiguration    = "INVALID_CONFIGURATION"
	CodeInfeasibleConfiguration = "INFEASIBLE_CONFIGURATION"

	// Privacy error codes
	CodePrivacyBudgetExceeded = "PRIVACY_BUDGET_EXCEEDED"
	CodeInvalidTrainingStep   = "INVALID_TRAINING_STEP"
	CodeBudgetFinalized       = "BUDGET_FINALIZED"

	// Evaluation error codes
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeEvaluationFailed = "EVALUATION_FAILED"
	CodeColumnNotFound   = "COLUMN_NOT_FOUND"

	// Storage error codes
	CodeInvalidStorageConfig = "INVALID_CONFIG"
	CodeConnectionFailed     = "CONNECTION_FAILED"
	CodeNotConnected         = "NOT_CONNECTED"
	CodeDataNotFound         = "DATA_NOT_FOUND"
	CodeWriteFailed          = "WRITE_FAILED"
	CodeReadFailed           = "READ_FAILED"
	CodeSerializationFailed  = "SERIALIZATION_FAILED"
	CodeDuplicateRecord      = "DUPLICATE_RECORD"
	CodeRunFinalized         = "RUN_FINALIZED"
	CodeUnsupportedStorage   = "UNSUPPORTED_TYPE"
)
