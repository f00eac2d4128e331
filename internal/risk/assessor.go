// Package risk reduces an evaluation report to a single release decision.
// Every component is banded on a fixed table, so the same report always
// produces the same scores and recommendations.
package risk

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/interfaces"
	"github.com/inferloop/synthcert/pkg/models"
)

// Component ceilings
const (
	MaxDPEpsilonRisk           = 30.0
	MaxReidentificationRisk    = 40.0
	MaxMembershipInferenceRisk = 30.0
	MaxStatisticalFidelityRisk = 40.0
	MaxMLUtilityRisk           = 40.0
	MaxCompletenessRisk        = 20.0
)

// Overall score cut-offs
const (
	LowRiskThreshold    = 30.0
	MediumRiskThreshold = 60.0
)

// band maps values below Limit to Score; the last band catches the rest
type band struct {
	Limit float64
	Score float64
}

func banded(value float64, bands []band, otherwise float64) float64 {
	for _, b := range bands {
		if value < b.Limit {
			return b.Score
		}
	}
	return otherwise
}

var (
	epsilonBands = []band{{1, 5}, {3, 10}, {5, 15}, {10, 25}}

	// distance ratio is banded inversely: close copies are risky
	distanceRatioBands = []band{{0.2, 40}, {0.5, 30}, {0.8, 20}, {1.0, 10}}

	attackAccuracyBands = []band{{0.55, 5}, {0.6, 10}, {0.7, 20}}

	passRateBands = []band{{60, 40}, {75, 25}, {90, 15}}

	correlationBands = []band{{0.1, 5}, {0.2, 15}, {0.3, 25}}

	utilityGapBands = []band{{0.05, 5}, {0.1, 15}, {0.2, 25}}
)

var (
	privacyLevelReidentification = map[string]float64{
		constants.QualityGood: 5,
		constants.QualityFair: 20,
		constants.QualityPoor: 40,
	}
	privacyLevelMembership = map[string]float64{
		constants.QualityGood: 5,
		constants.QualityFair: 15,
		constants.QualityPoor: 30,
	}
	qualityLevelRisk = map[string]float64{
		constants.QualityExcellent: 5,
		constants.QualityGood:      10,
		constants.QualityFair:      25,
		constants.QualityPoor:      40,
	}
	completenessRisk = map[string]float64{
		constants.CompletenessComplete:   0,
		constants.CompletenessMostly:     5,
		constants.CompletenessPartial:    10,
		constants.CompletenessIncomplete: 20,
	}
	qualityLevelCompleteness = map[string]float64{
		constants.QualityExcellent: 0,
		constants.QualityGood:      5,
		constants.QualityFair:      10,
		constants.QualityPoor:      20,
	}
)

// fromLabel looks a label up in table, returning ceiling for unknown labels
func fromLabel(table map[string]float64, label string, ceiling float64) float64 {
	if v, ok := table[label]; ok {
		return v
	}
	return ceiling
}

// AssessRisk scores an evaluation report. privacyWeight must lie in [0, 1];
// the overall score is privacy×w + quality×(1−w). The returned assessment
// has no ID; Assessor.Assess stamps one.
func AssessRisk(report *models.EvaluationReport, privacyWeight float64) (*models.RiskAssessment, error) {
	if report == nil {
		return nil, errors.NewValidationError(errors.CodeMissingField, "an evaluation report is required")
	}
	if math.IsNaN(privacyWeight) || privacyWeight < 0 || privacyWeight > 1 {
		return nil, errors.NewValidationError(errors.CodeOutOfRange, "privacy weight must be between 0 and 1")
	}

	a := &models.RiskAssessment{
		ReportID:      report.ID,
		PrivacyWeight: privacyWeight,
	}

	a.PrivacyRisk.Breakdown = models.PrivacyRiskBreakdown{
		DPEpsilonRisk:           dpEpsilonRisk(report.DifferentialPrivacy),
		ReidentificationRisk:    reidentificationRisk(report.Privacy),
		MembershipInferenceRisk: membershipInferenceRisk(report.Privacy),
	}
	p := a.PrivacyRisk.Breakdown
	a.PrivacyRisk.Score = clamp(p.DPEpsilonRisk+p.ReidentificationRisk+p.MembershipInferenceRisk, 0, 100)

	overallQuality := ""
	if s := report.StatisticalSimilarity; s != nil {
		overallQuality = s.Summary.OverallQuality
	}
	a.QualityRisk.Breakdown = models.QualityRiskBreakdown{
		StatisticalFidelityRisk: statisticalFidelityRisk(report.StatisticalSimilarity),
		MLUtilityRisk:           mlUtilityRisk(report.MLUtility, overallQuality),
		CompletenessRisk:        completenessRiskOf(report.StatisticalSimilarity),
	}
	q := a.QualityRisk.Breakdown
	a.QualityRisk.Score = clamp(q.StatisticalFidelityRisk+q.MLUtilityRisk+q.CompletenessRisk, 0, 100)

	a.OverallScore = clamp(a.PrivacyRisk.Score*privacyWeight+a.QualityRisk.Score*(1-privacyWeight), 0, 100)
	a.RiskLevel = Level(a.OverallScore)
	a.SafeForRelease = a.OverallScore < LowRiskThreshold
	a.Recommendations = Recommend(a, report.DifferentialPrivacy != nil)

	return a, nil
}

// Level maps an overall score to low, medium or high
func Level(score float64) string {
	switch {
	case score < LowRiskThreshold:
		return constants.RiskLevelLow
	case score < MediumRiskThreshold:
		return constants.RiskLevelMedium
	default:
		return constants.RiskLevelHigh
	}
}

// dpEpsilonRisk is maximal when the data was produced without differential
// privacy
func dpEpsilonRisk(spend *models.PrivacySpend) float64 {
	if spend == nil || math.IsNaN(spend.Epsilon) {
		return MaxDPEpsilonRisk
	}
	return banded(spend.Epsilon, epsilonBands, MaxDPEpsilonRisk)
}

func privacyLevel(p *models.PrivacyEvaluation) string {
	if p == nil {
		return ""
	}
	return p.Summary.OverallPrivacyLevel
}

func reidentificationRisk(p *models.PrivacyEvaluation) float64 {
	if p != nil {
		if d := p.Tests.DistanceToClosestRecord; d != nil && d.IsCompleted() {
			risk := banded(d.DistanceRatio, distanceRatioBands, 5)
			// verbatim copies are never below medium risk
			if d.ExactMatches > 0 {
				risk = math.Max(risk, 30)
			}
			return risk
		}
	}
	return fromLabel(privacyLevelReidentification, privacyLevel(p), MaxReidentificationRisk)
}

func membershipInferenceRisk(p *models.PrivacyEvaluation) float64 {
	if p != nil {
		if m := p.Tests.MembershipInference; m != nil && m.IsCompleted() {
			return banded(m.AttackAccuracy, attackAccuracyBands, MaxMembershipInferenceRisk)
		}
	}
	return fromLabel(privacyLevelMembership, privacyLevel(p), MaxMembershipInferenceRisk)
}

// statisticalFidelityRisk averages the pass-rate band and the correlation
// band, using whichever of the two is available
func statisticalFidelityRisk(s *models.StatisticalReport) float64 {
	if s == nil {
		return MaxStatisticalFidelityRisk
	}

	var parts []float64
	if s.Summary.TotalTests > 0 {
		parts = append(parts, banded(s.Summary.PassRate, passRateBands, 5))
	}
	if c := s.OverallTests.Correlation; c != nil && c.IsCompleted() {
		parts = append(parts, banded(c.MeanAbsoluteDifference, correlationBands, MaxStatisticalFidelityRisk))
	}
	if len(parts) == 0 {
		return fromLabel(qualityLevelRisk, s.Summary.OverallQuality, MaxStatisticalFidelityRisk)
	}

	sum := 0.0
	for _, v := range parts {
		sum += v
	}
	return sum / float64(len(parts))
}

func mlUtilityRisk(m *models.MLUtilityReport, overallQuality string) float64 {
	if m != nil {
		_, okBase := m.Models.Baseline.PrimaryScore()
		_, okSynth := m.Models.Synthetic.PrimaryScore()
		if okBase && okSynth {
			return banded(math.Abs(m.Summary.ScoreDifference), utilityGapBands, MaxMLUtilityRisk)
		}
		if v, ok := qualityLevelRisk[m.Summary.QualityLevel]; ok {
			return v
		}
	}
	return fromLabel(qualityLevelRisk, overallQuality, MaxMLUtilityRisk)
}

func completenessRiskOf(s *models.StatisticalReport) float64 {
	if s == nil {
		return MaxCompletenessRisk
	}
	if v, ok := completenessRisk[s.Summary.Completeness]; ok {
		return v
	}
	return fromLabel(qualityLevelCompleteness, s.Summary.OverallQuality, MaxCompletenessRisk)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Assessor stamps, logs and records risk assessments
type Assessor struct {
	weight  float64
	logger  *logrus.Logger
	metrics interfaces.MetricsRecorder
}

// NewAssessor creates an assessor using privacyWeight for every report. A
// nil recorder discards metrics.
func NewAssessor(privacyWeight float64, logger *logrus.Logger, recorder interfaces.MetricsRecorder) *Assessor {
	if logger == nil {
		logger = logrus.New()
	}
	if recorder == nil {
		recorder = interfaces.NopRecorder{}
	}
	return &Assessor{weight: privacyWeight, logger: logger, metrics: recorder}
}

// Assess scores report and assigns the assessment a new ID
func (a *Assessor) Assess(report *models.EvaluationReport) (*models.RiskAssessment, error) {
	assessment, err := AssessRisk(report, a.weight)
	if err != nil {
		return nil, err
	}
	assessment.ID = uuid.New().String()
	assessment.AssessedAt = time.Now().UTC()

	a.metrics.RecordRiskAssessment(assessment.RiskLevel, assessment.OverallScore)

	fields := logrus.Fields{
		"assessment_id":    assessment.ID,
		"report_id":        assessment.ReportID,
		"privacy_risk":     assessment.PrivacyRisk.Score,
		"quality_risk":     assessment.QualityRisk.Score,
		"overall_score":    assessment.OverallScore,
		"risk_level":       assessment.RiskLevel,
		"safe_for_release": assessment.SafeForRelease,
	}
	if assessment.SafeForRelease {
		a.logger.WithFields(fields).Info("Risk assessment completed")
	} else {
		a.logger.WithFields(fields).Warn("Synthetic data not safe for release")
	}
	return assessment, nil
}
