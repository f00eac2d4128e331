package risk

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/interfaces"
	"github.com/inferloop/synthcert/pkg/models"
)

func f64(v float64) *float64 { return &v }

func labelReport(privacyLevel, quality string) *models.EvaluationReport {
	return &models.EvaluationReport{
		ID: "report-1",
		StatisticalSimilarity: &models.StatisticalReport{
			TestStatus: models.Completed(),
			Summary:    models.StatisticalSummary{OverallQuality: quality},
		},
		Privacy: &models.PrivacyEvaluation{
			TestStatus: models.Completed(),
			Summary:    models.PrivacySummary{OverallPrivacyLevel: privacyLevel},
		},
	}
}

func detailedReport(rng *rand.Rand) *models.EvaluationReport {
	completeness := []string{
		constants.CompletenessComplete, constants.CompletenessMostly,
		constants.CompletenessPartial, constants.CompletenessIncomplete, "",
	}

	report := &models.EvaluationReport{
		StatisticalSimilarity: &models.StatisticalReport{
			TestStatus: models.Completed(),
			OverallTests: models.OverallTests{Correlation: &models.CorrelationTest{
				TestStatus:             models.Completed(),
				MeanAbsoluteDifference: rng.Float64() * 2,
			}},
			Summary: models.StatisticalSummary{
				TotalTests:   rng.Intn(20),
				PassRate:     rng.Float64() * 100,
				Completeness: completeness[rng.Intn(len(completeness))],
			},
		},
		MLUtility: &models.MLUtilityReport{
			TestStatus: models.Completed(),
			Models: models.MLModels{
				Baseline:  &models.ModelScore{TestStatus: models.Completed(), F1Score: f64(rng.Float64())},
				Synthetic: &models.ModelScore{TestStatus: models.Completed(), F1Score: f64(rng.Float64())},
			},
			Summary: models.MLUtilitySummary{ScoreDifference: rng.Float64()*2 - 1},
		},
		Privacy: &models.PrivacyEvaluation{
			TestStatus: models.Completed(),
			Tests: models.PrivacyTests{
				DistanceToClosestRecord: &models.DCRResult{
					TestStatus:    models.Completed(),
					DistanceRatio: rng.Float64() * 3,
					ExactMatches:  rng.Intn(3),
				},
				MembershipInference: &models.MembershipInferenceResult{
					TestStatus:     models.Completed(),
					AttackAccuracy: rng.Float64(),
				},
			},
		},
	}
	if rng.Intn(2) == 0 {
		report.DifferentialPrivacy = &models.PrivacySpend{Epsilon: rng.Float64() * 20, Delta: 1e-5}
	}
	return report
}

func TestAssessRiskBoundsOnRandomReports(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		w := rng.Float64()
		a, err := AssessRisk(detailedReport(rng), w)
		require.NoError(t, err)

		p, q := a.PrivacyRisk.Breakdown, a.QualityRisk.Breakdown
		assert.True(t, p.DPEpsilonRisk >= 0 && p.DPEpsilonRisk <= 30)
		assert.True(t, p.ReidentificationRisk >= 0 && p.ReidentificationRisk <= 40)
		assert.True(t, p.MembershipInferenceRisk >= 0 && p.MembershipInferenceRisk <= 30)
		assert.True(t, q.StatisticalFidelityRisk >= 0 && q.StatisticalFidelityRisk <= 40)
		assert.True(t, q.MLUtilityRisk >= 0 && q.MLUtilityRisk <= 40)
		assert.True(t, q.CompletenessRisk >= 0 && q.CompletenessRisk <= 20)

		assert.True(t, a.PrivacyRisk.Score >= 0 && a.PrivacyRisk.Score <= 100)
		assert.True(t, a.QualityRisk.Score >= 0 && a.QualityRisk.Score <= 100)
		assert.True(t, a.OverallScore >= 0 && a.OverallScore <= 100)
		assert.InDelta(t, a.PrivacyRisk.Score*w+a.QualityRisk.Score*(1-w), a.OverallScore, 1e-9)
		assert.Equal(t, a.OverallScore < 30, a.SafeForRelease)
		assert.Equal(t, Level(a.OverallScore), a.RiskLevel)
		assert.Len(t, a.Recommendations, 7)
	}
}

func TestAssessRiskGoodPrivacyExcellentQualityIsSafe(t *testing.T) {
	a, err := AssessRisk(labelReport(constants.QualityGood, constants.QualityExcellent), constants.DefaultPrivacyWeight)
	require.NoError(t, err)

	assert.Equal(t, 30.0, a.PrivacyRisk.Breakdown.DPEpsilonRisk)
	assert.Equal(t, 40.0, a.PrivacyRisk.Score)
	assert.Equal(t, 10.0, a.QualityRisk.Score)
	assert.InDelta(t, 28.0, a.OverallScore, 1e-9)
	assert.Equal(t, constants.RiskLevelLow, a.RiskLevel)
	assert.True(t, a.SafeForRelease)
	assert.Equal(t, "report-1", a.ReportID)
}

func TestAssessRiskEmptyReportFailsSafe(t *testing.T) {
	a, err := AssessRisk(&models.EvaluationReport{}, 0.6)
	require.NoError(t, err)

	assert.Equal(t, 100.0, a.PrivacyRisk.Score)
	assert.Equal(t, 100.0, a.QualityRisk.Score)
	assert.Equal(t, 100.0, a.OverallScore)
	assert.Equal(t, constants.RiskLevelHigh, a.RiskLevel)
	assert.False(t, a.SafeForRelease)
}

func TestAssessRiskRejectsBadInput(t *testing.T) {
	_, err := AssessRisk(nil, 0.6)
	assert.Error(t, err)

	for _, w := range []float64{-0.1, 1.1} {
		_, err = AssessRisk(&models.EvaluationReport{}, w)
		assert.Error(t, err, w)
	}
}

func TestAssessRiskWeightExtremes(t *testing.T) {
	report := labelReport(constants.QualityPoor, constants.QualityExcellent)

	privacyOnly, err := AssessRisk(report, 1)
	require.NoError(t, err)
	assert.Equal(t, privacyOnly.PrivacyRisk.Score, privacyOnly.OverallScore)

	qualityOnly, err := AssessRisk(report, 0)
	require.NoError(t, err)
	assert.Equal(t, qualityOnly.QualityRisk.Score, qualityOnly.OverallScore)
}

func TestDPEpsilonBands(t *testing.T) {
	cases := map[float64]float64{0.5: 5, 1: 10, 2.9: 10, 3: 15, 4.99: 15, 5: 25, 9.9: 25, 10: 30, 50: 30}
	for eps, want := range cases {
		assert.Equal(t, want, dpEpsilonRisk(&models.PrivacySpend{Epsilon: eps}), eps)
	}
	assert.Equal(t, MaxDPEpsilonRisk, dpEpsilonRisk(nil))
}

func TestReidentificationRisk(t *testing.T) {
	dcr := func(ratio float64, exact int) *models.PrivacyEvaluation {
		return &models.PrivacyEvaluation{Tests: models.PrivacyTests{DistanceToClosestRecord: &models.DCRResult{
			TestStatus: models.Completed(), DistanceRatio: ratio, ExactMatches: exact,
		}}}
	}
	assert.Equal(t, 40.0, reidentificationRisk(dcr(0.1, 0)))
	assert.Equal(t, 30.0, reidentificationRisk(dcr(0.3, 0)))
	assert.Equal(t, 20.0, reidentificationRisk(dcr(0.6, 0)))
	assert.Equal(t, 10.0, reidentificationRisk(dcr(0.9, 0)))
	assert.Equal(t, 5.0, reidentificationRisk(dcr(1.5, 0)))
	assert.Equal(t, 30.0, reidentificationRisk(dcr(1.5, 2)))

	skipped := &models.PrivacyEvaluation{
		Tests:   models.PrivacyTests{DistanceToClosestRecord: &models.DCRResult{TestStatus: models.Skipped("small")}},
		Summary: models.PrivacySummary{OverallPrivacyLevel: constants.QualityFair},
	}
	assert.Equal(t, 20.0, reidentificationRisk(skipped))
	assert.Equal(t, MaxReidentificationRisk, reidentificationRisk(nil))
}

func TestMembershipInferenceRisk(t *testing.T) {
	mia := func(acc float64) *models.PrivacyEvaluation {
		return &models.PrivacyEvaluation{Tests: models.PrivacyTests{MembershipInference: &models.MembershipInferenceResult{
			TestStatus: models.Completed(), AttackAccuracy: acc,
		}}}
	}
	assert.Equal(t, 5.0, membershipInferenceRisk(mia(0.5)))
	assert.Equal(t, 10.0, membershipInferenceRisk(mia(0.58)))
	assert.Equal(t, 20.0, membershipInferenceRisk(mia(0.65)))
	assert.Equal(t, 30.0, membershipInferenceRisk(mia(0.9)))
}

func TestStatisticalFidelityAveragesBands(t *testing.T) {
	s := &models.StatisticalReport{
		Summary: models.StatisticalSummary{TotalTests: 4, PassRate: 100},
		OverallTests: models.OverallTests{Correlation: &models.CorrelationTest{
			TestStatus: models.Completed(), MeanAbsoluteDifference: 0.25,
		}},
	}
	assert.Equal(t, 15.0, statisticalFidelityRisk(s))

	s.OverallTests.Correlation.TestStatus = models.Skipped("one column")
	assert.Equal(t, 5.0, statisticalFidelityRisk(s))

	s.Summary = models.StatisticalSummary{OverallQuality: constants.QualityFair}
	assert.Equal(t, 25.0, statisticalFidelityRisk(s))
}

func TestMLUtilityRisk(t *testing.T) {
	m := &models.MLUtilityReport{
		Models: models.MLModels{
			Baseline:  &models.ModelScore{TestStatus: models.Completed(), F1Score: f64(0.9)},
			Synthetic: &models.ModelScore{TestStatus: models.Completed(), F1Score: f64(0.6)},
		},
		Summary: models.MLUtilitySummary{ScoreDifference: 0.3},
	}
	assert.Equal(t, 40.0, mlUtilityRisk(m, ""))

	m.Summary.ScoreDifference = -0.03
	assert.Equal(t, 5.0, mlUtilityRisk(m, ""))

	skipped := &models.MLUtilityReport{TestStatus: models.Skipped("no target"), Summary: models.MLUtilitySummary{QualityLevel: constants.LevelUnknown}}
	assert.Equal(t, 10.0, mlUtilityRisk(skipped, constants.QualityGood))
	assert.Equal(t, MaxMLUtilityRisk, mlUtilityRisk(skipped, ""))
}

func TestRecommendationsAreDeterministic(t *testing.T) {
	report := labelReport(constants.QualityGood, constants.QualityExcellent)

	first, err := AssessRisk(report, 0.6)
	require.NoError(t, err)
	second, err := AssessRisk(report, 0.6)
	require.NoError(t, err)
	assert.Equal(t, first.Recommendations, second.Recommendations)

	assert.Equal(t, noDPRecommendation, first.Recommendations[0])
	assert.Contains(t, first.Recommendations, "ML utility is preserved; no action needed.")
	assert.Equal(t, releaseRecommendation[constants.RiskLevelLow], first.Recommendations[len(first.Recommendations)-1])

	report.DifferentialPrivacy = &models.PrivacySpend{Epsilon: 0.5, Delta: 1e-5}
	withDP, err := AssessRisk(report, 0.6)
	require.NoError(t, err)
	assert.Equal(t, recommendationTable["dp_epsilon"][TierLow], withDP.Recommendations[0])
}

func TestTierOf(t *testing.T) {
	assert.Equal(t, TierLow, TierOf(10, 30))
	assert.Equal(t, TierMedium, TierOf(15, 30))
	assert.Equal(t, TierMedium, TierOf(20, 30))
	assert.Equal(t, TierHigh, TierOf(25, 30))
}

type riskRecorder struct {
	interfaces.NopRecorder
	mu     sync.Mutex
	levels []string
}

func (r *riskRecorder) RecordRiskAssessment(level string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
}

func TestAssessorStampsAndRecords(t *testing.T) {
	recorder := &riskRecorder{}
	assessor := NewAssessor(constants.DefaultPrivacyWeight, logrus.New(), recorder)

	a, err := assessor.Assess(labelReport(constants.QualityGood, constants.QualityExcellent))
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.WithinDuration(t, time.Now(), a.AssessedAt, time.Minute)
	assert.Equal(t, []string{constants.RiskLevelLow}, recorder.levels)

	b, err := assessor.Assess(&models.EvaluationReport{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = NewAssessor(2, nil, nil).Assess(&models.EvaluationReport{})
	assert.Error(t, err)
}
