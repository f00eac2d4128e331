package privacy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/pkg/models"
)

func TestAssessEpsilon(t *testing.T) {
	tests := []struct {
		epsilon float64
		level   string
		score   int
	}{
		{0.05, "Exceptional", 10},
		{0.1, "Very Strong", 9},
		{0.99, "Very Strong", 9},
		{2.6, "Strong", 8},
		{4.9, "Good", 7},
		{9.99, "Moderate", 6},
		{10, "Fair", 5},
		{19, "Weak", 4},
		{49.9, "Very Weak", 3},
		{50, "Insufficient", 1},
		{1e6, "Insufficient", 1},
	}

	for _, tt := range tests {
		got := AssessEpsilon(tt.epsilon)
		assert.Equal(t, tt.level, got.Level, "epsilon %g", tt.epsilon)
		assert.Equal(t, tt.score, got.Score, "epsilon %g", tt.epsilon)
		assert.NotEmpty(t, got.Interpretation)
	}
}

func TestAssessEpsilonMonotone(t *testing.T) {
	prev := 11
	for eps := 0.0; eps < 80; eps += 0.25 {
		score := AssessEpsilon(eps).Score
		assert.LessOrEqual(t, score, prev)
		prev = score
	}
}

func TestComplianceForSensitiveDataThreshold(t *testing.T) {
	below := ComplianceFor(9.99)
	assert.True(t, below.SuitableForSensitiveData)
	assert.False(t, below.SuitableForPublicRelease)

	at := ComplianceFor(10)
	assert.False(t, at.SuitableForSensitiveData)
	assert.NotEmpty(t, at.Notes)

	strict := ComplianceFor(0.5)
	assert.True(t, strict.SuitableForPublicRelease)
	assert.NotEmpty(t, strict.GDPR)
	assert.NotEmpty(t, strict.HIPAA)
	assert.NotEmpty(t, strict.CCPA)
}

func testSpend(eps, target float64) *models.PrivacySpend {
	return &models.PrivacySpend{
		Epsilon:       eps,
		Delta:         1e-5,
		TargetEpsilon: target,
		TargetDelta:   1e-5,
		Steps:         1000,
		ComputedAt:    time.Now(),
	}
}

func testConfig() models.PrivacyConfig {
	noise := 1.1
	return models.PrivacyConfig{
		Epochs:          10,
		BatchSize:       100,
		DatasetSize:     10000,
		TargetEpsilon:   10,
		TargetDelta:     1e-5,
		MaxGradNorm:     1,
		NoiseMultiplier: &noise,
	}
}

func TestBuildPrivacyReportOverspend(t *testing.T) {
	report := BuildPrivacyReport(testSpend(12, 10), testConfig(), nil)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, BudgetExceeded, report.Tradeoff.BudgetStatus)
	assert.InDelta(t, 120, report.Tradeoff.BudgetUtilization, 1e-9)
	assert.InDelta(t, 20, report.Tradeoff.OverspendPercent, 1e-9)
	assert.Equal(t, "Fair", report.Assessment.Level)
	assert.False(t, report.Compliance.SuitableForSensitiveData)
	assert.NotEmpty(t, report.Tradeoff.TuningSuggestions)
	assert.Contains(t, report.Recommendations[0], "Do not release")
}

func TestBuildPrivacyReportWithinBudget(t *testing.T) {
	metadata := map[string]interface{}{"model": "ctgan", "noise_multiplier": 1.1}
	report := BuildPrivacyReport(testSpend(2.1, 3), testConfig(), metadata)

	assert.Equal(t, BudgetWithin, report.Tradeoff.BudgetStatus)
	assert.Zero(t, report.Tradeoff.OverspendPercent)
	assert.Equal(t, "Strong", report.Assessment.Level)
	assert.True(t, report.Compliance.SuitableForSensitiveData)
	assert.Equal(t, "ctgan", report.TrainingMetadata["model"])
	assert.InDelta(t, 0.01, report.Tradeoff.SamplingRate, 1e-12)

	metadata["model"] = "changed"
	assert.Equal(t, "ctgan", report.TrainingMetadata["model"])
}

func TestBuildPrivacyReportCappedSteps(t *testing.T) {
	spend := testSpend(2, 3)
	spend.StepsCapped = true

	report := BuildPrivacyReport(spend, testConfig(), nil)
	assert.True(t, report.PrivacyBudget.StepsCapped)
	assert.Contains(t, report.Compliance.Notes[len(report.Compliance.Notes)-1], "lower bound")
}

func TestPrivacyReportJSONFieldNames(t *testing.T) {
	report := BuildPrivacyReport(testSpend(2.1, 3), testConfig(), nil)
	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"privacy_budget", "privacy_assessment", "compliance", "privacy_utility_tradeoff", "recommendations"} {
		assert.Contains(t, decoded, key)
	}

	tradeoff := decoded["privacy_utility_tradeoff"].(map[string]interface{})
	assert.Contains(t, tradeoff, "budget_utilization")
	compliance := decoded["compliance"].(map[string]interface{})
	assert.Contains(t, compliance, "suitable_for_sensitive_data")
}
