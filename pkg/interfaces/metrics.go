package interfaces

import "time"

// MetricsRecorder receives operational measurements from the engine and the
// privacy budget. A nil recorder is never passed; use NopRecorder instead.
type MetricsRecorder interface {
	RecordConfigValidation(valid bool, overridden bool)
	RecordEvaluation(section, status string, duration time.Duration)
	RecordPrivacySpend(epsilon float64, exceeded bool)
	RecordBudgetViolation()
	RecordRiskAssessment(level string, score float64)
}

// NopRecorder discards all measurements
type NopRecorder struct{}

func (NopRecorder) RecordConfigValidation(bool, bool) {}
func (NopRecorder) RecordEvaluation(string, string, time.Duration) {}
func (NopRecorder) RecordPrivacySpend(float64, bool) {}
func (NopRecorder) RecordBudgetViolation() {}
func (NopRecorder) RecordRiskAssessment(string, float64) {}
