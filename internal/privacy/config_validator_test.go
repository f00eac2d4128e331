package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/pkg/errors"
)

func issueCategories(v *ConfigValidation, severity Severity) []IssueCategory {
	var cats []IssueCategory
	for _, issue := range v.Issues {
		if issue.Severity == severity {
			cats = append(cats, issue.Category)
		}
	}
	return cats
}

func TestValidateConfigTypicalSchedule(t *testing.T) {
	v := ValidateConfig(ConfigRequest{
		DatasetSize:   10000,
		Epochs:        300,
		BatchSize:     500,
		TargetEpsilon: 10,
		TargetDelta:   1e-5,
	}, DefaultValidatorLimits())

	assert.True(t, v.IsValid)
	assert.Empty(t, v.Errors)
	require.Len(t, v.Warnings, 1)
	assert.Equal(t, []IssueCategory{CategoryStepCount}, issueCategories(v, SeverityWarning))
	assert.Equal(t, 6000, v.Steps)
	assert.InDelta(t, 0.05, v.SamplingRate, 1e-12)
	require.NotNil(t, v.EstimatedNoise)
	assert.InDelta(t, 37.17, *v.EstimatedNoise, 0.01)
	assert.NoError(t, v.Err())
}

func TestValidateConfigFullBatch(t *testing.T) {
	v := ValidateConfig(ConfigRequest{
		DatasetSize:   500,
		Epochs:        300,
		BatchSize:     500,
		TargetEpsilon: 10,
	}, DefaultValidatorLimits())

	assert.False(t, v.IsValid)
	assert.Contains(t, issueCategories(v, SeverityError), CategorySamplingRate)
	assert.InDelta(t, 1.0/500, v.TargetDelta, 1e-15)
	assert.Contains(t, v.Errors[0], "reduce batch_size to at most 249")
}

func TestValidateConfigSamplingRateBoundary(t *testing.T) {
	tests := []struct {
		name      string
		batchSize int
		valid     bool
		severity  Severity
	}{
		{"just below boundary", 490, true, SeverityWarning},
		{"at boundary", 500, false, SeverityError},
		{"above boundary", 510, false, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ValidateConfig(ConfigRequest{
				DatasetSize:   1000,
				Epochs:        5,
				BatchSize:     tt.batchSize,
				TargetEpsilon: 10,
			}, DefaultValidatorLimits())

			assert.Equal(t, tt.valid, v.IsValid)
			assert.Contains(t, issueCategories(v, tt.severity), CategorySamplingRate)
		})
	}
}

func TestValidateConfigLongScheduleWithoutAmplification(t *testing.T) {
	v := ValidateConfig(ConfigRequest{
		DatasetSize:   1000,
		Epochs:        600,
		BatchSize:     250,
		TargetEpsilon: 10,
	}, DefaultValidatorLimits())

	assert.Equal(t, 2400, v.Steps)
	assert.False(t, v.IsValid)
	assert.Contains(t, issueCategories(v, SeverityError), CategoryStepCount)
	assert.Contains(t, issueCategories(v, SeverityWarning), CategorySamplingRate)
}

func TestValidateConfigEpsilonWarnings(t *testing.T) {
	high := ValidateConfig(ConfigRequest{DatasetSize: 10000, Epochs: 50, BatchSize: 100, TargetEpsilon: 60}, DefaultValidatorLimits())
	assert.Contains(t, issueCategories(high, SeverityWarning), CategoryEpsilon)

	low := ValidateConfig(ConfigRequest{DatasetSize: 10000, Epochs: 5, BatchSize: 100, TargetEpsilon: 0.05}, DefaultValidatorLimits())
	assert.Contains(t, issueCategories(low, SeverityWarning), CategoryEpsilon)
	assert.True(t, low.IsValid)
}

func TestValidateConfigInfeasibleNoise(t *testing.T) {
	v := ValidateConfig(ConfigRequest{
		DatasetSize:   10000,
		Epochs:        1,
		BatchSize:     100,
		TargetEpsilon: 100,
		TargetDelta:   1e-5,
	}, DefaultValidatorLimits())

	assert.False(t, v.IsValid)
	assert.Contains(t, issueCategories(v, SeverityError), CategoryFeasibility)
	assert.NotEmpty(t, v.Alternatives)
	assert.Nil(t, v.EstimatedNoise)
}

func TestValidateConfigSmallScale(t *testing.T) {
	v := ValidateConfig(ConfigRequest{
		DatasetSize:   80,
		Epochs:        10,
		BatchSize:     8,
		TargetEpsilon: 8,
	}, DefaultValidatorLimits())

	warnings := issueCategories(v, SeverityWarning)
	assert.Contains(t, warnings, CategoryScale)
	count := 0
	for _, c := range warnings {
		if c == CategoryScale {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestValidateConfigOverride(t *testing.T) {
	req := ConfigRequest{
		DatasetSize:    1000,
		Epochs:         5,
		BatchSize:      500,
		TargetEpsilon:  10,
		Override:       true,
		OverrideReason: "approved by privacy review",
	}

	v := ValidateConfig(req, DefaultValidatorLimits())
	assert.True(t, v.IsValid)
	assert.True(t, v.Overridden)
	assert.Equal(t, "approved by privacy review", v.OverrideReason)
	assert.NotEmpty(t, v.Errors)
	assert.NoError(t, v.Err())

	req.OverrideReason = "  "
	v = ValidateConfig(req, DefaultValidatorLimits())
	assert.False(t, v.IsValid)
	assert.False(t, v.Overridden)
	assert.Contains(t, issueCategories(v, SeverityWarning), CategoryOverride)
}

func TestValidateConfigInvalidInputs(t *testing.T) {
	v := ValidateConfig(ConfigRequest{DatasetSize: 1000, Epochs: 0, BatchSize: 100, TargetEpsilon: 1}, DefaultValidatorLimits())
	assert.False(t, v.IsValid)
	assert.Equal(t, 0, v.Steps)
	assert.Equal(t, []IssueCategory{CategoryInput}, issueCategories(v, SeverityError))

	err := v.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration))

	var cfgErr *errors.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.NotEmpty(t, cfgErr.Suggestions)
}

func TestValidateConfigDeltaRange(t *testing.T) {
	base := ConfigRequest{DatasetSize: 10000, Epochs: 10, BatchSize: 100, TargetEpsilon: 3}

	req := base
	req.TargetDelta = 1
	v := ValidateConfig(req, DefaultValidatorLimits())
	assert.NotContains(t, issueCategories(v, SeverityError), CategoryInput)
	assert.Equal(t, []IssueCategory{CategoryFeasibility}, issueCategories(v, SeverityError))
	assert.Equal(t, 1.0, v.TargetDelta)
	assert.Nil(t, v.EstimatedNoise)
	assert.Empty(t, v.Alternatives)
	assert.False(t, v.IsValid)

	req = base
	req.TargetDelta = 1.5
	v = ValidateConfig(req, DefaultValidatorLimits())
	assert.Equal(t, []IssueCategory{CategoryInput}, issueCategories(v, SeverityError))
	assert.Contains(t, v.Errors[0], "(0, 1]")
}

func TestValidateConfigCustomLimits(t *testing.T) {
	limits := DefaultValidatorLimits()
	limits.SamplingRateError = 0.9

	v := ValidateConfig(ConfigRequest{DatasetSize: 1000, Epochs: 5, BatchSize: 500, TargetEpsilon: 10}, limits)
	assert.True(t, v.IsValid)
	assert.Contains(t, issueCategories(v, SeverityWarning), CategorySamplingRate)
}

func TestConfigIssueMessagesCarryRemediation(t *testing.T) {
	v := ValidateConfig(ConfigRequest{DatasetSize: 50, Epochs: 2000, BatchSize: 30, TargetEpsilon: 0.01}, DefaultValidatorLimits())
	for _, issue := range v.Issues {
		assert.NotEmpty(t, issue.Suggestion, issue.Message)
		assert.Contains(t, issue.String(), "Suggestion:")
	}
}
