package models

import (
	"math"
	"time"

	"github.com/inferloop/synthcert/pkg/errors"
)

// PrivacyConfig holds the differential privacy hyperparameters of one training
// run. It is immutable once training starts.
type PrivacyConfig struct {
	Epochs          int      `json:"epochs"`
	BatchSize       int      `json:"batch_size"`
	DatasetSize     int      `json:"dataset_size"`
	TargetEpsilon   float64  `json:"target_epsilon"`
	TargetDelta     float64  `json:"target_delta,omitempty"`
	MaxGradNorm     float64  `json:"max_grad_norm"`
	NoiseMultiplier *float64 `json:"noise_multiplier"`
}

// SamplingRate returns batch_size/dataset_size
func (c *PrivacyConfig) SamplingRate() float64 {
	if c.DatasetSize <= 0 {
		return 0
	}
	return float64(c.BatchSize) / float64(c.DatasetSize)
}

// StepsPerEpoch returns floor(dataset_size/batch_size)
func (c *PrivacyConfig) StepsPerEpoch() int {
	if c.BatchSize <= 0 {
		return 0
	}
	return c.DatasetSize / c.BatchSize
}

// TotalSteps returns the number of optimizer steps the run will take
func (c *PrivacyConfig) TotalSteps() int {
	return c.Epochs * c.StepsPerEpoch()
}

// EffectiveDelta returns the target delta, defaulting to 1/dataset_size
func (c *PrivacyConfig) EffectiveDelta() float64 {
	if c.TargetDelta > 0 {
		return c.TargetDelta
	}
	if c.DatasetSize > 0 {
		return 1.0 / float64(c.DatasetSize)
	}
	return 0
}

// Check validates the structural constraints of the configuration. It does
// not judge whether the configuration is advisable; that is the validator's job.
func (c *PrivacyConfig) Check() error {
	verrs := errors.NewValidationErrors("invalid privacy configuration")

	if c.Epochs <= 0 {
		verrs.Add("epochs", errors.CodeOutOfRange, "must be positive", c.Epochs)
	}
	if c.BatchSize <= 0 {
		verrs.Add("batch_size", errors.CodeOutOfRange, "must be positive", c.BatchSize)
	}
	if c.DatasetSize <= 0 {
		verrs.Add("dataset_size", errors.CodeOutOfRange, "must be positive", c.DatasetSize)
	}
	if !(c.TargetEpsilon > 0) || math.IsInf(c.TargetEpsilon, 0) {
		verrs.Add("target_epsilon", errors.CodeOutOfRange, "must be a positive finite number", c.TargetEpsilon)
	}
	if c.TargetDelta < 0 || c.TargetDelta > 1 || math.IsNaN(c.TargetDelta) {
		verrs.Add("target_delta", errors.CodeOutOfRange, "must be in (0, 1]", c.TargetDelta)
	}
	if !(c.MaxGradNorm > 0) || math.IsInf(c.MaxGradNorm, 0) {
		verrs.Add("max_grad_norm", errors.CodeOutOfRange, "must be a positive finite number", c.MaxGradNorm)
	}
	if c.NoiseMultiplier != nil {
		nm := *c.NoiseMultiplier
		if !(nm > 0) || math.IsInf(nm, 0) {
			verrs.Add("noise_multiplier", errors.CodeOutOfRange, "must be a positive finite number", nm)
		}
	}
	if c.BatchSize > 0 && c.DatasetSize > 0 && c.BatchSize > c.DatasetSize {
		verrs.Add("batch_size", errors.CodeOutOfRange, "must not exceed dataset_size", c.BatchSize)
	}

	return verrs.ErrOrNil()
}

// TrainingStep is one optimizer step as seen by the accountant.
type TrainingStep struct {
	NoiseMultiplier float64 `json:"noise_multiplier"`
	SamplingRate    float64 `json:"sampling_rate"`
}

// PrivacySpend is the (epsilon, delta) actually incurred by a run, always
// reported with the target it was measured against.
type PrivacySpend struct {
	Epsilon       float64   `json:"epsilon"`
	Delta         float64   `json:"delta"`
	TargetEpsilon float64   `json:"target_epsilon"`
	TargetDelta   float64   `json:"target_delta"`
	Steps         int       `json:"steps"`
	StepsCapped   bool      `json:"steps_capped"`
	OptimalOrder  float64   `json:"optimal_order,omitempty"`
	ComputedAt    time.Time `json:"computed_at"`
}

// Exceeded reports whether the spend overshoots its target
func (s *PrivacySpend) Exceeded() bool {
	return s.Epsilon > s.TargetEpsilon
}

// PrivacyAssessment is the qualitative reading of an epsilon value.
type PrivacyAssessment struct {
	Level          string `json:"level"`
	Score          int    `json:"score"`
	Interpretation string `json:"interpretation"`
}

// ComplianceNotes are fixed framework notes keyed to epsilon thresholds.
type ComplianceNotes struct {
	SuitableForSensitiveData bool     `json:"suitable_for_sensitive_data"`
	SuitableForPublicRelease bool     `json:"suitable_for_public_release"`
	GDPR                     string   `json:"gdpr"`
	HIPAA                    string   `json:"hipaa"`
	CCPA                     string   `json:"ccpa"`
	Notes                    []string `json:"notes"`
}

// TradeoffAnalysis describes how the run used its budget.
type TradeoffAnalysis struct {
	BudgetUtilization float64  `json:"budget_utilization"`
	BudgetStatus      string   `json:"budget_status"`
	OverspendPercent  float64  `json:"overspend_percent,omitempty"`
	NoiseMultiplier   float64  `json:"noise_multiplier,omitempty"`
	SamplingRate      float64  `json:"sampling_rate"`
	Narrative         string   `json:"narrative"`
	TuningSuggestions []string `json:"tuning_suggestions"`
}

// PrivacyBudgetSummary is the spend section of a privacy report.
type PrivacyBudgetSummary struct {
	EpsilonSpent  float64 `json:"epsilon_spent"`
	Delta         float64 `json:"delta"`
	TargetEpsilon float64 `json:"target_epsilon"`
	TargetDelta   float64 `json:"target_delta"`
	Steps         int     `json:"steps"`
	StepsCapped   bool    `json:"steps_capped"`
}

// PrivacyReport explains a privacy spend.
type PrivacyReport struct {
	ID               string                 `json:"id"`
	GeneratedAt      time.Time              `json:"generated_at"`
	PrivacyBudget    PrivacyBudgetSummary   `json:"privacy_budget"`
	Assessment       PrivacyAssessment      `json:"privacy_assessment"`
	Compliance       ComplianceNotes        `json:"compliance"`
	Tradeoff         TradeoffAnalysis       `json:"privacy_utility_tradeoff"`
	Configuration    PrivacyConfig          `json:"configuration"`
	TrainingMetadata map[string]interface{} `json:"training_metadata,omitempty"`
	Recommendations  []string               `json:"recommendations"`
}

// Training run statuses
const (
	RunStatusTraining  = "training"
	RunStatusCompleted = "completed"
	RunStatusViolated  = "budget_violated"
)

// TrainingRun is the persisted record of a DP training run. Spend is frozen
// once set.
type TrainingRun struct {
	ID             string        `json:"id"`
	Config         PrivacyConfig `json:"config"`
	Status         string        `json:"status"`
	Spend          *PrivacySpend `json:"spend,omitempty"`
	Override       bool          `json:"override"`
	OverrideReason string        `json:"override_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	FinalizedAt    *time.Time    `json:"finalized_at,omitempty"`
}
