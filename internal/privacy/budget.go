package privacy

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/interfaces"
	"github.com/inferloop/synthcert/pkg/models"
)

// BudgetPolicy controls what happens when a run overspends its target
type BudgetPolicy struct {
	// ViolationFactor is the multiple of the target epsilon above which
	// Finalize fails. Zero selects the default.
	ViolationFactor float64 `mapstructure:"violation_factor" json:"violation_factor"`
	Override        bool    `mapstructure:"override" json:"override"`
	OverrideReason  string  `mapstructure:"override_reason" json:"override_reason,omitempty"`
}

// DefaultBudgetPolicy returns the strict overspend policy
func DefaultBudgetPolicy() BudgetPolicy {
	return BudgetPolicy{ViolationFactor: constants.OverspendViolationFactor}
}

// TrainingBudget tracks the privacy spend of one training run. It receives
// one observation per optimizer step from the training loop and freezes the
// spend exactly once.
//
// Like the Ledger it wraps, a TrainingBudget has a single owner.
type TrainingBudget struct {
	run     *models.TrainingRun
	policy  BudgetPolicy
	ledger  *Ledger
	logger  *logrus.Logger
	metrics interfaces.MetricsRecorder

	ledgerOpts []LedgerOption
}

// BudgetOption configures a TrainingBudget
type BudgetOption func(*TrainingBudget)

// WithMetrics attaches a metrics recorder
func WithMetrics(m interfaces.MetricsRecorder) BudgetOption {
	return func(b *TrainingBudget) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithLedgerOptions passes options to the underlying ledger
func WithLedgerOptions(opts ...LedgerOption) BudgetOption {
	return func(b *TrainingBudget) {
		b.ledgerOpts = append(b.ledgerOpts, opts...)
	}
}

// WithRunID sets the run identifier instead of generating one
func WithRunID(id string) BudgetOption {
	return func(b *TrainingBudget) {
		if id != "" {
			b.run.ID = id
		}
	}
}

// NewTrainingBudget starts tracking a run with the given configuration
func NewTrainingBudget(cfg models.PrivacyConfig, policy BudgetPolicy, logger *logrus.Logger, opts ...BudgetOption) (*TrainingBudget, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	if policy.ViolationFactor <= 0 {
		policy.ViolationFactor = constants.OverspendViolationFactor
	}
	if policy.Override && policy.OverrideReason == "" {
		return nil, errors.NewConfigurationError("budget override requires a reason",
			"set override_reason to a short justification such as the approving reviewer")
	}

	b := &TrainingBudget{
		run: &models.TrainingRun{
			ID:             uuid.New().String(),
			Config:         cfg,
			Status:         models.RunStatusTraining,
			Override:       policy.Override,
			OverrideReason: policy.OverrideReason,
			CreatedAt:      time.Now().UTC(),
		},
		policy:  policy,
		logger:  logger,
		metrics: interfaces.NopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ledger = NewLedger(b.ledgerOpts...)

	return b, nil
}

// ID returns the run identifier
func (b *TrainingBudget) ID() string {
	return b.run.ID
}

// Record ingests one optimizer step
func (b *TrainingBudget) Record(step models.TrainingStep) error {
	return b.RecordN(step, 1)
}

// RecordN ingests n identical optimizer steps
func (b *TrainingBudget) RecordN(step models.TrainingStep, n int) error {
	if b.run.Spend != nil {
		return errors.NewBudgetFinalizedError(b.run.ID)
	}

	wasCapped := b.ledger.StepsCapped()
	if err := b.ledger.StepN(step.NoiseMultiplier, step.SamplingRate, n); err != nil {
		return err
	}
	if !wasCapped && b.ledger.StepsCapped() {
		b.logger.WithFields(logrus.Fields{
			"run_id":   b.run.ID,
			"step_cap": b.ledger.Steps(),
		}).Warn("Step cap reached; further steps are not accounted")
	}
	return nil
}

// RecordSchedule ingests the full configured schedule at a fixed noise
// multiplier
func (b *TrainingBudget) RecordSchedule(noiseMultiplier float64) error {
	return b.RecordN(models.TrainingStep{
		NoiseMultiplier: noiseMultiplier,
		SamplingRate:    b.run.Config.SamplingRate(),
	}, b.run.Config.TotalSteps())
}

// Steps returns the number of accounted steps
func (b *TrainingBudget) Steps() int {
	return b.ledger.Steps()
}

// CurrentEpsilon returns the epsilon spent so far at the run's delta
func (b *TrainingBudget) CurrentEpsilon() (float64, error) {
	return b.ledger.EpsilonAt(b.run.Config.EffectiveDelta())
}

// Finalize freezes the spend. It may be called once; later calls return the
// frozen spend. A spend beyond the violation factor fails with a
// PrivacyBudgetViolation unless the policy carries an override. The spend
// is returned in both cases.
func (b *TrainingBudget) Finalize() (*models.PrivacySpend, error) {
	if s := b.run.Spend; s != nil {
		if b.run.Status == models.RunStatusViolated {
			return s, errors.NewPrivacyBudgetViolation(s.Epsilon, s.TargetEpsilon, b.policy.ViolationFactor)
		}
		return s, nil
	}

	cfg := b.run.Config
	spend, err := b.ledger.Spend(cfg.TargetEpsilon, cfg.EffectiveDelta())
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	b.run.Spend = spend
	b.run.FinalizedAt = &now
	b.run.Status = models.RunStatusCompleted
	b.metrics.RecordPrivacySpend(spend.Epsilon, spend.Exceeded())

	fields := logrus.Fields{
		"run_id":         b.run.ID,
		"epsilon":        spend.Epsilon,
		"target_epsilon": spend.TargetEpsilon,
		"delta":          spend.Delta,
		"steps":          spend.Steps,
		"steps_capped":   spend.StepsCapped,
	}

	if spend.Epsilon <= spend.TargetEpsilon*b.policy.ViolationFactor {
		if spend.Exceeded() {
			b.logger.WithFields(fields).Warn("Privacy budget exceeded")
		} else {
			b.logger.WithFields(fields).Info("Privacy budget finalized")
		}
		return spend, nil
	}

	b.metrics.RecordBudgetViolation()
	fields["severity"] = "critical"
	fields["factor"] = b.policy.ViolationFactor
	if b.policy.Override {
		fields["override_reason"] = b.policy.OverrideReason
		b.logger.WithFields(fields).Error("Privacy budget violated; accepted under override")
		return spend, nil
	}

	b.run.Status = models.RunStatusViolated
	b.logger.WithFields(fields).Error("Privacy budget violated")
	return spend, errors.NewPrivacyBudgetViolation(spend.Epsilon, spend.TargetEpsilon, b.policy.ViolationFactor)
}

// Run returns a copy of the run record
func (b *TrainingBudget) Run() *models.TrainingRun {
	run := *b.run
	if b.run.Spend != nil {
		spend := *b.run.Spend
		run.Spend = &spend
	}
	return &run
}
