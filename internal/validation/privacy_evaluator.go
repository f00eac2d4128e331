package validation

import (
	"context"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/internal/dataset"
	"github.com/inferloop/synthcert/internal/ml"
	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// PrivacyEvaluatorConfig contains configuration for the attack simulations
type PrivacyEvaluatorConfig struct {
	// MaxRows caps each dataset before the quadratic distance computations
	MaxRows      int     `mapstructure:"max_rows" json:"max_rows"`
	TestFraction float64 `mapstructure:"test_fraction" json:"test_fraction"`
	// AttributeBins is the number of quantile bins used for numeric
	// sensitive columns with more than HighCardinality distinct values
	AttributeBins   int             `mapstructure:"attribute_bins" json:"attribute_bins"`
	HighCardinality int             `mapstructure:"high_cardinality" json:"high_cardinality"`
	Forest          ml.ForestConfig `mapstructure:"forest" json:"forest"`
	Workers         int             `mapstructure:"workers" json:"workers"`
	Seed            int64           `mapstructure:"seed" json:"seed"`
	SubTestTimeout  time.Duration   `mapstructure:"sub_test_timeout" json:"sub_test_timeout"`
}

// PrivacyEvaluator simulates distance, membership and attribute inference
// attacks against the synthetic data
type PrivacyEvaluator struct {
	config *PrivacyEvaluatorConfig
	logger *logrus.Logger
}

// NewPrivacyEvaluator creates a new privacy attack evaluator
func NewPrivacyEvaluator(config *PrivacyEvaluatorConfig, logger *logrus.Logger) *PrivacyEvaluator {
	if config == nil {
		config = getDefaultPrivacyEvaluatorConfig()
	}
	defaults := getDefaultPrivacyEvaluatorConfig()
	if config.MaxRows <= 0 {
		config.MaxRows = defaults.MaxRows
	}
	if config.TestFraction <= 0 || config.TestFraction >= 1 {
		config.TestFraction = defaults.TestFraction
	}
	if config.AttributeBins < 2 {
		config.AttributeBins = defaults.AttributeBins
	}
	if config.HighCardinality <= 0 {
		config.HighCardinality = defaults.HighCardinality
	}
	if config.Forest.Trees <= 0 {
		config.Forest = defaults.Forest
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PrivacyEvaluator{config: config, logger: logger}
}

// attackData is the encoded projection both datasets are attacked on
type attackData struct {
	realData, synthetic *dataset.Frame
	columns             []string
	realX, synthX       [][]float64
}

// Evaluate runs the distance-to-closest-record and membership inference
// attacks, plus attribute inference for each sensitive column
func (v *PrivacyEvaluator) Evaluate(ctx context.Context, realData, synthetic *dataset.Frame, sensitive []string) (*models.PrivacyEvaluation, error) {
	if realData == nil || synthetic == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "real and synthetic datasets are required")
	}

	result := &models.PrivacyEvaluation{TestStatus: models.Completed()}

	v.logger.WithFields(logrus.Fields{
		"real_rows":         realData.Rows(),
		"synthetic_rows":    synthetic.Rows(),
		"sensitive_columns": sensitive,
	}).Info("Starting privacy evaluation")

	data, err := v.prepare(realData, synthetic)
	if err != nil {
		result.TestStatus = subTestStatus(constants.SectionPrivacy, err)
		result.Summary = summarizePrivacy(result.Tests)
		v.logger.WithError(err).Warn("Privacy evaluation not run")
		return result, nil
	}

	result.Tests.DistanceToClosestRecord = v.distanceToClosestRecord(ctx, data)
	result.Tests.MembershipInference = v.membershipInference(ctx, data)
	if len(sensitive) > 0 {
		result.Tests.AttributeInference = v.attributeInference(ctx, data, sensitive)
	}
	result.Summary = summarizePrivacy(result.Tests)

	v.logger.WithFields(logrus.Fields{
		"overall_privacy_level": result.Summary.OverallPrivacyLevel,
		"completed_tests":       result.Summary.CompletedTests,
		"high_risk_tests":       result.Summary.HighRiskTests,
	}).Info("Privacy evaluation completed")

	return result, nil
}

func (v *PrivacyEvaluator) prepare(realData, synthetic *dataset.Frame) (*attackData, error) {
	columns := realData.SharedColumns(synthetic)
	if len(columns) == 0 {
		return nil, errors.NewInsufficientDataError(constants.SectionPrivacy, 1, 0, "shared columns")
	}
	if realData.Rows() == 0 || synthetic.Rows() == 0 {
		return nil, errors.NewInsufficientDataError(constants.SectionPrivacy, 1, 0, "rows in each dataset")
	}

	if realData.Rows() > v.config.MaxRows || synthetic.Rows() > v.config.MaxRows {
		v.logger.WithFields(logrus.Fields{
			"max_rows":       v.config.MaxRows,
			"real_rows":      realData.Rows(),
			"synthetic_rows": synthetic.Rows(),
		}).Info("Sampling datasets for privacy attacks")
	}

	data := &attackData{
		realData:  dataset.Sample(realData, v.config.MaxRows, v.config.Seed),
		synthetic: dataset.Sample(synthetic, v.config.MaxRows, v.config.Seed),
		columns:   columns,
	}

	enc, err := dataset.FitEncoder(columns, data.realData, data.synthetic)
	if err != nil {
		return nil, err
	}
	if data.realX, err = enc.Transform(data.realData); err != nil {
		return nil, err
	}
	if data.synthX, err = enc.Transform(data.synthetic); err != nil {
		return nil, err
	}
	return data, nil
}

// summarizePrivacy reduces the completed sub-tests to one level: Poor if
// any is high risk, Fair if any is medium risk, Good otherwise and Unknown
// when nothing completed
func summarizePrivacy(t models.PrivacyTests) models.PrivacySummary {
	summary := models.PrivacySummary{OverallPrivacyLevel: constants.LevelUnknown}

	record := func(name, level string) {
		summary.CompletedTests++
		switch level {
		case constants.RiskHigh:
			summary.HighRiskTests = append(summary.HighRiskTests, name)
		case constants.RiskMedium:
			summary.MediumRiskTests = append(summary.MediumRiskTests, name)
		}
	}

	if d := t.DistanceToClosestRecord; d != nil && d.IsCompleted() {
		record(constants.TestDistanceToClosestRecord, d.RiskLevel)
	}
	if m := t.MembershipInference; m != nil && m.IsCompleted() {
		record(constants.TestMembershipInference, m.Vulnerability)
	}
	if a := t.AttributeInference; a != nil && a.IsCompleted() {
		record(constants.TestAttributeInference, a.Vulnerability)
	}

	switch {
	case summary.CompletedTests == 0:
	case len(summary.HighRiskTests) > 0:
		summary.OverallPrivacyLevel = constants.QualityPoor
	case len(summary.MediumRiskTests) > 0:
		summary.OverallPrivacyLevel = constants.QualityFair
	default:
		summary.OverallPrivacyLevel = constants.QualityGood
	}
	return summary
}

func getDefaultPrivacyEvaluatorConfig() *PrivacyEvaluatorConfig {
	return &PrivacyEvaluatorConfig{
		MaxRows:         constants.DefaultMaxAttackRows,
		TestFraction:    0.3,
		AttributeBins:   constants.DefaultAttributeBins,
		HighCardinality: 10,
		Forest:          ml.DefaultForestConfig(),
		Workers:         runtime.NumCPU(),
		Seed:            constants.DefaultRandomSeed,
	}
}
