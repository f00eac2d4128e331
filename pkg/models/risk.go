package models

import "time"

// PrivacyRiskBreakdown components are clamped to 0..30, 0..40 and 0..30.
type PrivacyRiskBreakdown struct {
	DPEpsilonRisk           float64 `json:"dp_epsilon_risk"`
	ReidentificationRisk    float64 `json:"reidentification_risk"`
	MembershipInferenceRisk float64 `json:"membership_inference_risk"`
}

// PrivacyRisk is the privacy half of a risk assessment (0..100).
type PrivacyRisk struct {
	Score     float64              `json:"score"`
	Breakdown PrivacyRiskBreakdown `json:"breakdown"`
}

// QualityRiskBreakdown components are clamped to 0..40, 0..40 and 0..20.
type QualityRiskBreakdown struct {
	StatisticalFidelityRisk float64 `json:"statistical_fidelity_risk"`
	MLUtilityRisk           float64 `json:"ml_utility_risk"`
	CompletenessRisk        float64 `json:"completeness_risk"`
}

// QualityRisk is the quality half of a risk assessment (0..100).
type QualityRisk struct {
	Score     float64              `json:"score"`
	Breakdown QualityRiskBreakdown `json:"breakdown"`
}

// RiskAssessment is the single release decision derived from an evaluation report.
type RiskAssessment struct {
	ID              string      `json:"id"`
	ReportID        string      `json:"report_id,omitempty"`
	AssessedAt      time.Time   `json:"assessed_at"`
	PrivacyRisk     PrivacyRisk `json:"privacy_risk"`
	QualityRisk     QualityRisk `json:"quality_risk"`
	PrivacyWeight   float64     `json:"privacy_weight"`
	OverallScore    float64     `json:"overall_score"`
	RiskLevel       string      `json:"risk_level"`
	SafeForRelease  bool        `json:"safe_for_release"`
	Recommendations []string    `json:"recommendations"`
}
