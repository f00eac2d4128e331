package models

import (
	"time"

	"github.com/inferloop/synthcert/pkg/constants"
)

// TestStatus is embedded in every sub-test slot so a skipped or failed test
// still renders with the same shape.
type TestStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Completed returns a completed status
func Completed() TestStatus {
	return TestStatus{Status: constants.StatusCompleted}
}

// Skipped returns a skipped status with the given reason
func Skipped(reason string) TestStatus {
	return TestStatus{Status: constants.StatusSkipped, Reason: reason}
}

// Errored returns an error status for err
func Errored(err error) TestStatus {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return TestStatus{Status: constants.StatusError, Error: msg}
}

// IsCompleted reports whether the test ran to completion
func (s TestStatus) IsCompleted() bool {
	return s.Status == constants.StatusCompleted
}

// EvaluationReport bundles the three evaluator sections. Reports are never
// patched; re-running produces a new report with a new ID.
type EvaluationReport struct {
	ID                    string             `json:"id"`
	CreatedAt             time.Time          `json:"created_at"`
	DurationMS            int64              `json:"duration_ms"`
	RealRows              int                `json:"real_rows"`
	SyntheticRows         int                `json:"synthetic_rows"`
	StatisticalSimilarity *StatisticalReport `json:"statistical_similarity"`
	MLUtility             *MLUtilityReport   `json:"ml_utility"`
	Privacy               *PrivacyEvaluation `json:"privacy"`
	DifferentialPrivacy   *PrivacySpend      `json:"differential_privacy,omitempty"`
}

// HypothesisTest is the outcome of a two-sample test on one column.
type HypothesisTest struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	Result    string  `json:"result"`
	Passed    bool    `json:"passed"`
}

// DistanceMetric is a distance between the real and synthetic distributions.
type DistanceMetric struct {
	Value      float64 `json:"value"`
	Similarity string  `json:"similarity"`
}

// ColumnTest holds all comparisons run for one shared column.
type ColumnTest struct {
	TestStatus
	ColumnType       string          `json:"column_type"`
	KSTest           *HypothesisTest `json:"ks_test,omitempty"`
	ChiSquareTest    *HypothesisTest `json:"chi_square_test,omitempty"`
	Wasserstein      *DistanceMetric `json:"wasserstein_distance,omitempty"`
	JensenShannon    *DistanceMetric `json:"jensen_shannon_distance,omitempty"`
	RealMissing      float64         `json:"real_missing_rate"`
	SyntheticMissing float64         `json:"synthetic_missing_rate"`
}

// Hypothesis returns the column's hypothesis test, whichever kind it is
func (c *ColumnTest) Hypothesis() *HypothesisTest {
	if c.KSTest != nil {
		return c.KSTest
	}
	return c.ChiSquareTest
}

// CorrelationTest compares the correlation structure of the numeric columns.
type CorrelationTest struct {
	TestStatus
	Columns                []string `json:"columns,omitempty"`
	MeanAbsoluteDifference float64  `json:"mean_absolute_difference"`
	MaxAbsoluteDifference  float64  `json:"max_absolute_difference"`
	Similarity             string   `json:"similarity,omitempty"`
}

// OverallTests are dataset-level comparisons.
type OverallTests struct {
	Correlation *CorrelationTest `json:"correlation"`
}

// StatisticalSummary aggregates the per-column hypothesis tests.
type StatisticalSummary struct {
	TotalTests      int      `json:"total_tests"`
	TestsPassed     int      `json:"tests_passed"`
	PassRate        float64  `json:"pass_rate"`
	OverallQuality  string   `json:"overall_quality"`
	Completeness    string   `json:"completeness"`
	ColumnsCompared int      `json:"columns_compared"`
	MissingColumns  []string `json:"missing_columns,omitempty"`
}

// StatisticalReport is the statistical_similarity section.
type StatisticalReport struct {
	TestStatus
	ColumnTests  map[string]*ColumnTest `json:"column_tests"`
	OverallTests OverallTests           `json:"overall_tests"`
	Summary      StatisticalSummary     `json:"summary"`
}

// ModelScore holds the held-out metrics of one proxy model. Only the metrics
// of the detected task type are set.
type ModelScore struct {
	TestStatus
	TrainRows int      `json:"train_rows"`
	TestRows  int      `json:"test_rows"`
	MixRatio  float64  `json:"mix_ratio,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Precision *float64 `json:"precision,omitempty"`
	Recall    *float64 `json:"recall,omitempty"`
	F1Score   *float64 `json:"f1_score,omitempty"`
	R2Score   *float64 `json:"r2_score,omitempty"`
	MSE       *float64 `json:"mse,omitempty"`
	RMSE      *float64 `json:"rmse,omitempty"`
	MAE       *float64 `json:"mae,omitempty"`
}

// PrimaryScore returns F1 for classification or R² for regression
func (m *ModelScore) PrimaryScore() (float64, bool) {
	if m == nil || !m.IsCompleted() {
		return 0, false
	}
	if m.F1Score != nil {
		return *m.F1Score, true
	}
	if m.R2Score != nil {
		return *m.R2Score, true
	}
	return 0, false
}

// MLModels are the three proxy models trained by the utility evaluator.
type MLModels struct {
	Baseline  *ModelScore `json:"baseline"`
	Synthetic *ModelScore `json:"synthetic"`
	Mixed     *ModelScore `json:"mixed"`
}

// MLUtilitySummary compares synthetic-trained and real-trained performance.
type MLUtilitySummary struct {
	ComparisonMetric string   `json:"comparison_metric"`
	BaselineScore    float64  `json:"baseline_score"`
	SyntheticScore   float64  `json:"synthetic_score"`
	MixedScore       *float64 `json:"mixed_score,omitempty"`
	ScoreDifference  float64  `json:"score_difference"`
	UtilityRatio     float64  `json:"utility_ratio"`
	QualityLevel     string   `json:"quality_level"`
	Notes            []string `json:"notes,omitempty"`
}

// MLUtilityReport is the ml_utility section.
type MLUtilityReport struct {
	TestStatus
	TaskType     string           `json:"task_type"`
	TargetColumn string           `json:"target_column"`
	Models       MLModels         `json:"models"`
	Summary      MLUtilitySummary `json:"summary"`
}

// DCRResult is the distance-to-closest-record sub-test.
type DCRResult struct {
	TestStatus
	RecordsEvaluated     int     `json:"records_evaluated"`
	MinDistance          float64 `json:"min_distance"`
	MeanDistance         float64 `json:"mean_distance"`
	MedianDistance       float64 `json:"median_distance"`
	Percentile5Distance  float64 `json:"percentile_5_distance"`
	MaxDistance          float64 `json:"max_distance"`
	RealBaselineDistance float64 `json:"real_baseline_distance"`
	DistanceRatio        float64 `json:"distance_ratio"`
	ExactMatches         int     `json:"exact_matches"`
	HighRiskRecords      int     `json:"high_risk_records"`
	MediumRiskRecords    int     `json:"medium_risk_records"`
	HighRiskPercentage   float64 `json:"high_risk_percentage"`
	MediumRiskPercentage float64 `json:"medium_risk_percentage"`
	RiskLevel            string  `json:"risk_level"`
}

// MembershipInferenceResult is the real-vs-synthetic discriminator attack.
type MembershipInferenceResult struct {
	TestStatus
	AttackAccuracy float64 `json:"attack_accuracy"`
	Advantage      float64 `json:"advantage"`
	Vulnerability  string  `json:"vulnerability"`
	TrainRows      int     `json:"train_rows"`
	TestRows       int     `json:"test_rows"`
}

// AttributeRisk is the attribute inference outcome for one sensitive column.
type AttributeRisk struct {
	TestStatus
	Accuracy         float64 `json:"accuracy"`
	BaselineAccuracy float64 `json:"baseline_accuracy"`
	Vulnerability    string  `json:"vulnerability"`
	Binned           bool    `json:"binned"`
}

// AttributeInferenceResult covers every declared sensitive column.
type AttributeInferenceResult struct {
	TestStatus
	Attributes    map[string]*AttributeRisk `json:"attributes"`
	MaxAccuracy   float64                   `json:"max_accuracy"`
	Vulnerability string                    `json:"vulnerability"`
}

// PrivacyTests are the three attack simulations.
type PrivacyTests struct {
	DistanceToClosestRecord *DCRResult                 `json:"distance_to_closest_record"`
	MembershipInference     *MembershipInferenceResult `json:"membership_inference"`
	AttributeInference      *AttributeInferenceResult  `json:"attribute_inference,omitempty"`
}

// PrivacySummary reduces the attack results to one label.
type PrivacySummary struct {
	OverallPrivacyLevel string   `json:"overall_privacy_level"`
	CompletedTests      int      `json:"completed_tests"`
	HighRiskTests       []string `json:"high_risk_tests,omitempty"`
	MediumRiskTests     []string `json:"medium_risk_tests,omitempty"`
}

// PrivacyEvaluation is the privacy section.
type PrivacyEvaluation struct {
	TestStatus
	Tests   PrivacyTests   `json:"tests"`
	Summary PrivacySummary `json:"summary"`
}
