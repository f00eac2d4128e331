package privacy

import (
	"fmt"
	"math"
	"strings"

	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// IssueCategory groups validator findings
type IssueCategory string

const (
	CategoryInput        IssueCategory = "input"
	CategorySamplingRate IssueCategory = "sampling_rate"
	CategoryStepCount    IssueCategory = "step_count"
	CategoryEpsilon      IssueCategory = "epsilon"
	CategoryFeasibility  IssueCategory = "feasibility"
	CategoryScale        IssueCategory = "scale"
	CategoryOverride     IssueCategory = "override"
)

// Severity of a validator finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ConfigRequest is the input of ValidateConfig. TargetDelta defaults to
// 1/DatasetSize when zero. Override lets errors pass, and must carry a reason.
type ConfigRequest struct {
	DatasetSize    int     `json:"dataset_size"`
	Epochs         int     `json:"epochs"`
	BatchSize      int     `json:"batch_size"`
	TargetEpsilon  float64 `json:"target_epsilon"`
	TargetDelta    float64 `json:"target_delta,omitempty"`
	Override       bool    `json:"override"`
	OverrideReason string  `json:"override_reason,omitempty"`
}

// RequestFromConfig builds a validator request from a privacy configuration
func RequestFromConfig(cfg models.PrivacyConfig) ConfigRequest {
	return ConfigRequest{
		DatasetSize:   cfg.DatasetSize,
		Epochs:        cfg.Epochs,
		BatchSize:     cfg.BatchSize,
		TargetEpsilon: cfg.TargetEpsilon,
		TargetDelta:   cfg.TargetDelta,
	}
}

// ValidatorLimits are the thresholds the validator applies. The caller passes
// them explicitly; DefaultValidatorLimits returns the standard set.
type ValidatorLimits struct {
	SamplingRateError   float64 `json:"sampling_rate_error" mapstructure:"sampling_rate_error"`
	SamplingRateWarning float64 `json:"sampling_rate_warning" mapstructure:"sampling_rate_warning"`
	StepCountError      int     `json:"step_count_error" mapstructure:"step_count_error"`
	StepCountWarning    int     `json:"step_count_warning" mapstructure:"step_count_warning"`
	EpsilonHigh         float64 `json:"epsilon_high" mapstructure:"epsilon_high"`
	EpsilonLow          float64 `json:"epsilon_low" mapstructure:"epsilon_low"`
	LowNoise            float64 `json:"low_noise" mapstructure:"low_noise"`
	MinDatasetSize      int     `json:"min_dataset_size" mapstructure:"min_dataset_size"`
	MinBatchSize        int     `json:"min_batch_size" mapstructure:"min_batch_size"`
}

// DefaultValidatorLimits returns the standard validator thresholds
func DefaultValidatorLimits() ValidatorLimits {
	return ValidatorLimits{
		SamplingRateError:   constants.SamplingRateErrorThreshold,
		SamplingRateWarning: constants.SamplingRateWarningThreshold,
		StepCountError:      constants.StepCountErrorThreshold,
		StepCountWarning:    constants.StepCountWarningThreshold,
		EpsilonHigh:         constants.EpsilonHighWarning,
		EpsilonLow:          constants.EpsilonLowWarning,
		LowNoise:            constants.LowNoiseWarningThreshold,
		MinDatasetSize:      constants.MinRecommendedDatasetSize,
		MinBatchSize:        constants.MinRecommendedBatchSize,
	}
}

// ConfigIssue is one categorized finding with a concrete remediation
type ConfigIssue struct {
	Category   IssueCategory `json:"category"`
	Severity   Severity      `json:"severity"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion"`
}

func (i ConfigIssue) String() string {
	return fmt.Sprintf("[%s] %s Suggestion: %s", i.Category, i.Message, i.Suggestion)
}

// ConfigValidation is the validator verdict
type ConfigValidation struct {
	IsValid        bool                  `json:"is_valid"`
	Errors         []string              `json:"errors"`
	Warnings       []string              `json:"warnings"`
	Issues         []ConfigIssue         `json:"issues"`
	SamplingRate   float64               `json:"sampling_rate"`
	Steps          int                   `json:"steps"`
	TargetDelta    float64               `json:"target_delta"`
	EstimatedNoise *float64              `json:"estimated_noise_multiplier,omitempty"`
	Alternatives   []errors.ParameterSet `json:"alternatives,omitempty"`
	Overridden     bool                  `json:"overridden"`
	OverrideReason string                `json:"override_reason,omitempty"`
}

// Err returns a ConfigurationError describing every blocking finding, or nil
// when the configuration is valid or overridden
func (v *ConfigValidation) Err() error {
	if v.IsValid {
		return nil
	}
	suggestions := make([]string, 0, len(v.Issues))
	for _, issue := range v.Issues {
		if issue.Severity == SeverityError {
			suggestions = append(suggestions, issue.Suggestion)
		}
	}
	cfgErr := errors.NewConfigurationError(
		fmt.Sprintf("privacy configuration rejected: %s", strings.Join(v.Errors, "; ")),
		suggestions...)
	return cfgErr
}

func (v *ConfigValidation) add(category IssueCategory, severity Severity, message, suggestion string) {
	issue := ConfigIssue{
		Category:   category,
		Severity:   severity,
		Message:    message,
		Suggestion: suggestion,
	}
	v.Issues = append(v.Issues, issue)
	if severity == SeverityError {
		v.Errors = append(v.Errors, issue.String())
	} else {
		v.Warnings = append(v.Warnings, issue.String())
	}
}

// ValidateConfig decides whether a requested DP configuration can deliver its
// guarantee. Warnings never block; errors block unless req.Override is set
// with a reason, in which case the override is recorded in the result.
func ValidateConfig(req ConfigRequest, limits ValidatorLimits) *ConfigValidation {
	v := &ConfigValidation{
		Errors:   []string{},
		Warnings: []string{},
		Issues:   []ConfigIssue{},
	}

	if !checkInputs(req, v) {
		v.IsValid = false
		return v
	}

	delta := req.TargetDelta
	if delta == 0 {
		delta = 1.0 / float64(req.DatasetSize)
	}
	v.TargetDelta = delta
	v.SamplingRate = float64(req.BatchSize) / float64(req.DatasetSize)
	stepsPerEpoch := req.DatasetSize / req.BatchSize
	v.Steps = req.Epochs * stepsPerEpoch

	checkSamplingRate(req, limits, v)
	checkStepCount(req, limits, v)
	checkEpsilon(req, limits, v)
	checkFeasibility(req, delta, limits, v)
	checkScale(req, limits, v)

	v.IsValid = len(v.Errors) == 0
	if !v.IsValid && req.Override {
		if strings.TrimSpace(req.OverrideReason) == "" {
			v.add(CategoryOverride, SeverityWarning,
				"Override requested without a reason and was ignored.",
				"supply an override reason so the decision can be audited")
		} else {
			v.IsValid = true
			v.Overridden = true
			v.OverrideReason = req.OverrideReason
		}
	}

	return v
}

func checkInputs(req ConfigRequest, v *ConfigValidation) bool {
	ok := true
	if req.DatasetSize <= 0 {
		v.add(CategoryInput, SeverityError,
			fmt.Sprintf("dataset_size must be positive, got %d.", req.DatasetSize),
			"provide the number of training rows")
		ok = false
	}
	if req.Epochs <= 0 {
		v.add(CategoryInput, SeverityError,
			fmt.Sprintf("epochs must be positive, got %d.", req.Epochs),
			"use at least 1 epoch")
		ok = false
	}
	if req.BatchSize <= 0 {
		v.add(CategoryInput, SeverityError,
			fmt.Sprintf("batch_size must be positive, got %d.", req.BatchSize),
			fmt.Sprintf("use a batch_size of at least %d", constants.MinRecommendedBatchSize))
		ok = false
	}
	if !(req.TargetEpsilon > 0) || math.IsInf(req.TargetEpsilon, 0) {
		v.add(CategoryInput, SeverityError,
			fmt.Sprintf("target_epsilon must be a positive finite number, got %g.", req.TargetEpsilon),
			fmt.Sprintf("use a target_epsilon such as %.1f", constants.DefaultEpsilon))
		ok = false
	}
	if req.TargetDelta < 0 || req.TargetDelta > 1 || math.IsNaN(req.TargetDelta) {
		v.add(CategoryInput, SeverityError,
			fmt.Sprintf("target_delta must be in (0, 1], got %g.", req.TargetDelta),
			"omit target_delta to default to 1/dataset_size")
		ok = false
	}
	return ok
}

func checkSamplingRate(req ConfigRequest, limits ValidatorLimits, v *ConfigValidation) {
	q := v.SamplingRate
	switch {
	case q >= limits.SamplingRateError:
		maxBatch := int(math.Ceil(float64(req.DatasetSize)*limits.SamplingRateError)) - 1
		if maxBatch < 1 {
			maxBatch = 1
		}
		v.add(CategorySamplingRate, SeverityError,
			fmt.Sprintf("Sampling rate %.3f (batch_size %d / dataset_size %d) is at or above %.2f; subsampling gives no privacy amplification.",
				q, req.BatchSize, req.DatasetSize, limits.SamplingRateError),
			fmt.Sprintf("reduce batch_size to at most %d", maxBatch))
	case q > limits.SamplingRateWarning:
		v.add(CategorySamplingRate, SeverityWarning,
			fmt.Sprintf("Sampling rate %.3f is above %.2f; privacy amplification by subsampling is weak.",
				q, limits.SamplingRateWarning),
			fmt.Sprintf("reduce batch_size to at most %d", int(math.Floor(float64(req.DatasetSize)*limits.SamplingRateWarning))))
	}
}

// checkStepCount treats a long schedule as blocking only when the sampling
// rate is too high for amplification to offset the extra compositions.
func checkStepCount(req ConfigRequest, limits ValidatorLimits, v *ConfigValidation) {
	steps := v.Steps
	if steps <= limits.StepCountWarning {
		return
	}

	reducedEpochs := req.Epochs / 4
	if reducedEpochs < 1 {
		reducedEpochs = 1
	}
	doubledBatch := req.BatchSize * 2
	reducedSteps := reducedEpochs * (req.DatasetSize / req.BatchSize)
	doubledSteps := req.Epochs * (req.DatasetSize / doubledBatch)
	suggestion := fmt.Sprintf("reduce epochs to %d (%d steps) or increase batch_size to %d (%d steps)",
		reducedEpochs, reducedSteps, doubledBatch, doubledSteps)

	if steps > limits.StepCountError && v.SamplingRate > limits.SamplingRateWarning {
		v.add(CategoryStepCount, SeverityError,
			fmt.Sprintf("%d optimizer steps at sampling rate %.3f compose to a large privacy loss.", steps, v.SamplingRate),
			suggestion)
		return
	}

	message := fmt.Sprintf("%d optimizer steps is a long schedule; privacy loss grows with every step.", steps)
	if steps > limits.StepCountError {
		message = fmt.Sprintf("%d optimizer steps is a long schedule; sampling rate %.3f keeps it within budget through amplification.",
			steps, v.SamplingRate)
	}
	v.add(CategoryStepCount, SeverityWarning, message, suggestion)
}

func checkEpsilon(req ConfigRequest, limits ValidatorLimits, v *ConfigValidation) {
	switch {
	case req.TargetEpsilon > limits.EpsilonHigh:
		v.add(CategoryEpsilon, SeverityWarning,
			fmt.Sprintf("Target epsilon %.4g is above %.0f; the privacy guarantee is nearly void.", req.TargetEpsilon, limits.EpsilonHigh),
			"use a target_epsilon of 10 or less for meaningful protection")
	case req.TargetEpsilon < limits.EpsilonLow:
		v.add(CategoryEpsilon, SeverityWarning,
			fmt.Sprintf("Target epsilon %.4g is below %.1f; utility of the synthetic data will likely collapse.", req.TargetEpsilon, limits.EpsilonLow),
			fmt.Sprintf("raise target_epsilon to at least %.1f or increase dataset_size", limits.EpsilonLow))
	}
}

func checkFeasibility(req ConfigRequest, delta float64, limits ValidatorLimits, v *ConfigValidation) {
	if v.Steps <= 0 {
		v.add(CategoryFeasibility, SeverityError,
			fmt.Sprintf("batch_size %d exceeds dataset_size %d so no optimizer step runs.", req.BatchSize, req.DatasetSize),
			fmt.Sprintf("reduce batch_size to at most %d", req.DatasetSize))
		return
	}

	s := schedule{
		steps:         v.Steps,
		epochs:        req.Epochs,
		batchSize:     req.BatchSize,
		datasetSize:   req.DatasetSize,
		targetEpsilon: req.TargetEpsilon,
		targetDelta:   delta,
	}
	logTerm := math.Log(1 / delta)
	if logTerm <= 0 {
		// delta = 1 is a valid bound but leaves nothing for noise to protect
		v.add(CategoryFeasibility, SeverityError,
			fmt.Sprintf("target_delta %g allows total failure; no noise multiplier is derived from it.", delta),
			fmt.Sprintf("set target_delta to at most %g (1/dataset_size)", 1.0/float64(req.DatasetSize)))
		return
	}
	product := 2 * float64(v.Steps) * logTerm

	if product > constants.MaxNoiseProduct {
		v.Alternatives = feasibleAlternatives(s)
		v.add(CategoryFeasibility, SeverityError,
			fmt.Sprintf("2*steps*ln(1/delta) = %.3g exceeds %.0e; no finite noise multiplier exists for this schedule.",
				product, constants.MaxNoiseProduct),
			describeAlternatives(v.Alternatives))
		return
	}

	noise := math.Sqrt(product) / req.TargetEpsilon
	switch {
	case noise < constants.MinNoiseMultiplier:
		v.Alternatives = feasibleAlternatives(s)
		v.add(CategoryFeasibility, SeverityError,
			fmt.Sprintf("Estimated noise multiplier %.3f is below %.1f; the target cannot be reached at any reasonable noise level.",
				noise, constants.MinNoiseMultiplier),
			describeAlternatives(v.Alternatives))
	case noise < limits.LowNoise:
		estimated := noise
		v.EstimatedNoise = &estimated
		v.add(CategoryFeasibility, SeverityWarning,
			fmt.Sprintf("Estimated noise multiplier %.3f is below %.1f; training will be close to the privacy limit.",
				noise, limits.LowNoise),
			fmt.Sprintf("lower target_epsilon to %.2f for a noise multiplier of at least %.1f",
				math.Sqrt(product)/limits.LowNoise, limits.LowNoise))
	default:
		estimated := clampNoise(noise)
		v.EstimatedNoise = &estimated
	}
}

func checkScale(req ConfigRequest, limits ValidatorLimits, v *ConfigValidation) {
	if req.DatasetSize < limits.MinDatasetSize {
		v.add(CategoryScale, SeverityWarning,
			fmt.Sprintf("Dataset of %d rows is small; DP noise will dominate the signal.", req.DatasetSize),
			fmt.Sprintf("collect at least %d rows", limits.MinDatasetSize))
	}
	if req.BatchSize < limits.MinBatchSize {
		v.add(CategoryScale, SeverityWarning,
			fmt.Sprintf("Batch size %d is small; noisy gradients will make training unstable.", req.BatchSize),
			fmt.Sprintf("increase batch_size to at least %d", limits.MinBatchSize))
	}
}

func describeAlternatives(alternatives []errors.ParameterSet) string {
	parts := make([]string, 0, len(alternatives))
	for _, alt := range alternatives {
		parts = append(parts, alt.Description)
	}
	return strings.Join(parts, "; or ")
}
