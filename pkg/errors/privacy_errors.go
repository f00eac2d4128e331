package errors

import (
	"fmt"
	"strings"
)

// ParameterSet is a concrete training configuration offered as an alternative
// when a requested one cannot deliver its privacy guarantee.
type ParameterSet struct {
	Lever           string  `json:"lever"`
	Epochs          int     `json:"epochs,omitempty"`
	BatchSize       int     `json:"batch_size,omitempty"`
	Steps           int     `json:"steps"`
	TargetEpsilon   float64 `json:"target_epsilon"`
	TargetDelta     float64 `json:"target_delta"`
	NoiseMultiplier float64 `json:"noise_multiplier"`
	Description     string  `json:"description"`
}

// String renders the parameter set as a one-line remediation.
func (p ParameterSet) String() string {
	return p.Description
}

// ConfigurationError is a user-correctable configuration problem. It always
// carries at least one concrete remediation.
type ConfigurationError struct {
	*AppError
	Suggestions []string `json:"suggestions"`
}

// NewConfigurationError creates a configuration error with remediation suggestions
func NewConfigurationError(message string, suggestions ...string) *ConfigurationError {
	appErr := NewAppError(ErrorTypeConfiguration, CodeInvalidConfiguration, message)
	appErr.Cause = ErrInvalidConfiguration
	if len(suggestions) > 0 {
		appErr.Details = strings.Join(suggestions, "; ")
	}
	return &ConfigurationError{
		AppError:    appErr,
		Suggestions: suggestions,
	}
}

// InfeasibleConfigurationError signals that a configuration cannot
// mathematically deliver the requested guarantee. Training must not proceed.
type InfeasibleConfigurationError struct {
	*AppError
	Alternatives []ParameterSet `json:"alternatives"`
}

// NewInfeasibleConfigurationError creates an infeasibility error with alternative parameter sets
func NewInfeasibleConfigurationError(message string, alternatives []ParameterSet) *InfeasibleConfigurationError {
	appErr := NewAppError(ErrorTypeConfiguration, CodeInfeasibleConfiguration, message)
	appErr.Cause = ErrInfeasibleConfiguration

	descriptions := make([]string, 0, len(alternatives))
	for _, alt := range alternatives {
		descriptions = append(descriptions, alt.Description)
	}
	if len(descriptions) > 0 {
		appErr.Details = "alternatives: " + strings.Join(descriptions, "; ")
	}

	return &InfeasibleConfigurationError{
		AppError:     appErr,
		Alternatives: alternatives,
	}
}

// PrivacyBudgetViolation is raised when the spent epsilon overshoots the
// target by more than the tolerated factor and no override was supplied.
type PrivacyBudgetViolation struct {
	*AppError
	Epsilon       float64 `json:"epsilon"`
	TargetEpsilon float64 `json:"target_epsilon"`
	Factor        float64 `json:"factor"`
}

// NewPrivacyBudgetViolation creates a budget violation error
func NewPrivacyBudgetViolation(epsilon, targetEpsilon, factor float64) *PrivacyBudgetViolation {
	appErr := NewPrivacyError(CodePrivacyBudgetExceeded,
		fmt.Sprintf("spent epsilon %.4f exceeds target %.4f by more than %.0fx", epsilon, targetEpsilon, factor))
	appErr.Cause = ErrPrivacyBudgetExceeded
	appErr.WithContext("epsilon", epsilon).WithContext("target_epsilon", targetEpsilon)

	return &PrivacyBudgetViolation{
		AppError:      appErr,
		Epsilon:       epsilon,
		TargetEpsilon: targetEpsilon,
		Factor:        factor,
	}
}

// NewInvalidStepError reports a training step the ledger refuses to ingest
func NewInvalidStepError(noiseMultiplier, samplingRate float64, reason string) *AppError {
	appErr := NewPrivacyError(CodeInvalidTrainingStep, "invalid training step")
	appErr.Cause = ErrInvalidTrainingStep
	appErr.Details = reason
	return appErr.WithContext("noise_multiplier", noiseMultiplier).WithContext("sampling_rate", samplingRate)
}

// NewBudgetFinalizedError reports a step recorded after the run's spend was frozen
func NewBudgetFinalizedError(runID string) *AppError {
	appErr := NewPrivacyError(CodeBudgetFinalized,
		fmt.Sprintf("run %s is finalized; no further steps are accepted", runID))
	appErr.Cause = ErrBudgetFinalized
	return appErr.WithContext("run_id", runID)
}
