package errors

import "fmt"

// InsufficientDataError reports a sub-test that cannot run on the data it was
// given. Callers degrade the sub-test to a skipped status.
type InsufficientDataError struct {
	*AppError
	Test     string `json:"test"`
	Required int    `json:"required"`
	Actual   int    `json:"actual"`
}

// NewInsufficientDataError creates an insufficient data error
func NewInsufficientDataError(test string, required, actual int, what string) *InsufficientDataError {
	appErr := NewAppError(ErrorTypeEvaluation, CodeInsufficientData,
		fmt.Sprintf("%s requires at least %d %s, got %d", test, required, what, actual))
	appErr.Cause = ErrInsufficientData
	return &InsufficientDataError{
		AppError: appErr,
		Test:     test,
		Required: required,
		Actual:   actual,
	}
}

// EvaluationFailure wraps an error or panic raised inside a single sub-test.
type EvaluationFailure struct {
	*AppError
	Test string `json:"test"`
}

// NewEvaluationFailure wraps cause as a failure of the named sub-test
func NewEvaluationFailure(test string, cause error) *EvaluationFailure {
	appErr := WrapError(cause, ErrorTypeEvaluation, CodeEvaluationFailed, fmt.Sprintf("%s failed", test))
	if cause != nil {
		appErr.Details = cause.Error()
	}
	return &EvaluationFailure{
		AppError: appErr,
		Test:     test,
	}
}

// Is reports whether target is ErrEvaluationFailed or matches the wrapped AppError
func (e *EvaluationFailure) Is(target error) bool {
	if target == ErrEvaluationFailed {
		return true
	}
	return e.AppError.Is(target)
}

// NewColumnNotFoundError reports a column missing from a dataset
func NewColumnNotFoundError(column, dataset string) *AppError {
	appErr := NewValidationError(CodeColumnNotFound, fmt.Sprintf("column %q not found in %s data", column, dataset))
	appErr.Cause = ErrColumnNotFound
	return appErr
}
