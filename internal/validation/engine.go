package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/inferloop/synthcert/internal/dataset"
	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/interfaces"
	"github.com/inferloop/synthcert/pkg/models"
)

// EngineConfig configures the evaluation engine and its three evaluators
type EngineConfig struct {
	Sections    []string                    `mapstructure:"sections" json:"sections"`
	Timeout     time.Duration               `mapstructure:"timeout" json:"timeout"`
	Statistical *StatisticalEvaluatorConfig `mapstructure:"statistical" json:"statistical"`
	Utility     *UtilityEvaluatorConfig     `mapstructure:"utility" json:"utility"`
	Privacy     *PrivacyEvaluatorConfig     `mapstructure:"privacy" json:"privacy"`
}

// EvaluationRequest names the datasets to compare and the columns the
// utility and attribute inference tests need
type EvaluationRequest struct {
	Real             *dataset.Frame
	Synthetic        *dataset.Frame
	TargetColumn     string
	SensitiveColumns []string
	// PrivacySpend is the frozen spend of the training run that produced the
	// synthetic data, if it was trained with differential privacy
	PrivacySpend *models.PrivacySpend
}

// Engine runs the statistical, utility and privacy evaluators concurrently
// and assembles their sections into one report. A section that fails or
// times out is recorded in its own slot and never aborts its siblings.
type Engine struct {
	config      *EngineConfig
	logger      *logrus.Logger
	metrics     interfaces.MetricsRecorder
	statistical *StatisticalEvaluator
	utility     *UtilityEvaluator
	privacy     *PrivacyEvaluator
}

// NewEngine creates an evaluation engine. A nil recorder discards metrics.
func NewEngine(config *EngineConfig, logger *logrus.Logger, recorder interfaces.MetricsRecorder) *Engine {
	if config == nil {
		config = getDefaultEngineConfig()
	}
	if len(config.Sections) == 0 {
		config.Sections = getDefaultEngineConfig().Sections
	}
	if logger == nil {
		logger = logrus.New()
	}
	if recorder == nil {
		recorder = interfaces.NopRecorder{}
	}

	return &Engine{
		config:      config,
		logger:      logger,
		metrics:     recorder,
		statistical: NewStatisticalEvaluator(config.Statistical, logger),
		utility:     NewUtilityEvaluator(config.Utility, logger),
		privacy:     NewPrivacyEvaluator(config.Privacy, logger),
	}
}

// Evaluate produces a new evaluation report. It only fails on a malformed
// request; every evaluation problem is reported inside the report.
func (e *Engine) Evaluate(ctx context.Context, req *EvaluationRequest) (*models.EvaluationReport, error) {
	if req == nil || req.Real == nil || req.Synthetic == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "real and synthetic datasets are required")
	}

	report := &models.EvaluationReport{
		ID:                  uuid.New().String(),
		CreatedAt:           time.Now().UTC(),
		RealRows:            req.Real.Rows(),
		SyntheticRows:       req.Synthetic.Rows(),
		DifferentialPrivacy: req.PrivacySpend,
	}

	e.logger.WithFields(logrus.Fields{
		"report_id":      report.ID,
		"sections":       e.config.Sections,
		"real_rows":      report.RealRows,
		"synthetic_rows": report.SyntheticRows,
	}).Info("Starting evaluation")

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	var g errgroup.Group

	for _, section := range e.config.Sections {
		section := section
		g.Go(func() error {
			e.runSection(ctx, section, req, report)
			return nil
		})
	}
	_ = g.Wait()

	report.DurationMS = time.Since(start).Milliseconds()

	e.logger.WithFields(logrus.Fields{
		"report_id":   report.ID,
		"duration_ms": report.DurationMS,
	}).Info("Evaluation completed")

	return report, nil
}

// runSection evaluates one section and stores it in its own report field
func (e *Engine) runSection(ctx context.Context, section string, req *EvaluationRequest, report *models.EvaluationReport) {
	start := time.Now()
	var status models.TestStatus

	defer func() {
		if r := recover(); r != nil {
			status = models.Errored(errors.NewEvaluationFailure(section, fmt.Errorf("panic: %v", r)))
			setSectionStatus(report, section, status)
		}
		e.metrics.RecordEvaluation(section, status.Status, time.Since(start))
		e.logger.WithFields(logrus.Fields{
			"section":  section,
			"status":   status.Status,
			"duration": time.Since(start),
		}).Info("Evaluation section finished")
	}()

	switch section {
	case constants.SectionStatistical:
		r, err := e.statistical.Evaluate(ctx, req.Real, req.Synthetic)
		if err != nil {
			r = &models.StatisticalReport{}
			r.TestStatus = subTestStatus(section, err)
		}
		report.StatisticalSimilarity = r
		status = r.TestStatus

	case constants.SectionMLUtility:
		if req.TargetColumn == "" {
			r := &models.MLUtilityReport{TestStatus: models.Skipped("no target column was given")}
			r.Summary.QualityLevel = constants.LevelUnknown
			report.MLUtility = r
			status = r.TestStatus
			return
		}
		r, err := e.utility.Evaluate(ctx, req.Real, req.Synthetic, req.TargetColumn)
		if err != nil {
			r = &models.MLUtilityReport{TargetColumn: req.TargetColumn}
			r.TestStatus = subTestStatus(section, err)
		}
		report.MLUtility = r
		status = r.TestStatus

	case constants.SectionPrivacy:
		r, err := e.privacy.Evaluate(ctx, req.Real, req.Synthetic, req.SensitiveColumns)
		if err != nil {
			r = &models.PrivacyEvaluation{}
			r.TestStatus = subTestStatus(section, err)
			r.Summary.OverallPrivacyLevel = constants.LevelUnknown
		}
		report.Privacy = r
		status = r.TestStatus

	default:
		status = models.Errored(errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("unknown evaluation section %q", section)))
		e.logger.WithField("section", section).Warn("Unknown evaluation section")
	}
}

func setSectionStatus(report *models.EvaluationReport, section string, status models.TestStatus) {
	switch section {
	case constants.SectionStatistical:
		if report.StatisticalSimilarity == nil {
			report.StatisticalSimilarity = &models.StatisticalReport{}
		}
		report.StatisticalSimilarity.TestStatus = status
	case constants.SectionMLUtility:
		if report.MLUtility == nil {
			report.MLUtility = &models.MLUtilityReport{}
		}
		report.MLUtility.TestStatus = status
	case constants.SectionPrivacy:
		if report.Privacy == nil {
			report.Privacy = &models.PrivacyEvaluation{}
		}
		report.Privacy.TestStatus = status
	}
}

func getDefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Sections: []string{
			constants.SectionStatistical,
			constants.SectionMLUtility,
			constants.SectionPrivacy,
		},
		Timeout: constants.DefaultEvaluationTimeout,
	}
}
