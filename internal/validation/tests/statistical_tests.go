// Package tests implements the two-sample hypothesis tests used to compare a
// real column against its synthetic counterpart.
package tests

import (
	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/models"
)

// StatisticalTestResult represents the result of a statistical test
type StatisticalTestResult struct {
	TestName         string  `json:"test_name"`
	Statistic        float64 `json:"statistic"`
	PValue           float64 `json:"p_value"`
	DegreesOfFreedom int     `json:"degrees_of_freedom,omitempty"`
	IsSignificant    bool    `json:"is_significant"`
	AlphaLevel       float64 `json:"alpha_level"`
	SampleSize1      int     `json:"sample_size_1"`
	SampleSize2      int     `json:"sample_size_2"`
}

// Thresholds are the p-value bands of a comparison. A p-value above
// Significance passes, above Moderate is moderate, anything else fails.
type Thresholds struct {
	Significance float64 `mapstructure:"significance" json:"significance"`
	Moderate     float64 `mapstructure:"moderate" json:"moderate"`
}

// DefaultThresholds returns the 0.05 / 0.01 bands
func DefaultThresholds() Thresholds {
	return Thresholds{
		Significance: constants.DefaultSignificanceLevel,
		Moderate:     constants.ModerateSignificanceLevel,
	}
}

// Classify maps a p-value to passed, moderate or failed
func (t Thresholds) Classify(pValue float64) string {
	switch {
	case pValue > t.Significance:
		return constants.TestPassed
	case pValue > t.Moderate:
		return constants.TestModerate
	default:
		return constants.TestFailed
	}
}

// Hypothesis converts the result into the persisted report shape
func (r *StatisticalTestResult) Hypothesis(t Thresholds) *models.HypothesisTest {
	result := t.Classify(r.PValue)
	return &models.HypothesisTest{
		Statistic: r.Statistic,
		PValue:    r.PValue,
		Result:    result,
		Passed:    result == constants.TestPassed,
	}
}

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
