package errors

import (
	"fmt"
	"strings"
)

// ValidationErrorDetail represents detailed validation error information
type ValidationErrorDetail struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
}

// ValidationErrors collects field-level problems found while checking a record
type ValidationErrors struct {
	Message string                  `json:"message"`
	Errors  []ValidationErrorDetail `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return ve.Message
	}
	parts := make([]string, 0, len(ve.Errors))
	for _, detail := range ve.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", detail.Field, detail.Message))
	}
	return fmt.Sprintf("%s: %s", ve.Message, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrInvalidConfiguration
func (ve *ValidationErrors) Unwrap() error {
	return ErrInvalidConfiguration
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, code, message string, value interface{}) {
	ve.Errors = append(ve.Errors, ValidationErrorDetail{
		Field:   field,
		Value:   value,
		Message: message,
		Code:    code,
	})
}

// HasErrors checks if there are any validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ErrOrNil returns the collection as an error, or nil when it is empty
func (ve *ValidationErrors) ErrOrNil() error {
	if !ve.HasErrors() {
		return nil
	}
	return ve
}

// NewValidationErrors creates a new ValidationErrors instance
func NewValidationErrors(message string) *ValidationErrors {
	if message == "" {
		message = "Validation failed"
	}
	return &ValidationErrors{
		Message: message,
		Errors:  make([]ValidationErrorDetail, 0),
	}
}
