package validation

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/internal/dataset"
	"github.com/inferloop/synthcert/internal/validation/metrics"
	"github.com/inferloop/synthcert/internal/validation/tests"
	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// StatisticalEvaluatorConfig contains configuration for statistical comparison
type StatisticalEvaluatorConfig struct {
	Thresholds     tests.Thresholds      `mapstructure:"thresholds" json:"thresholds"`
	DistanceBands  metrics.DistanceBands `mapstructure:"distance_bands" json:"distance_bands"`
	HistogramBins  int                   `mapstructure:"histogram_bins" json:"histogram_bins"`
	SubTestTimeout time.Duration         `mapstructure:"sub_test_timeout" json:"sub_test_timeout"`
}

// StatisticalEvaluator compares the marginal distributions and the
// correlation structure of the shared columns
type StatisticalEvaluator struct {
	config *StatisticalEvaluatorConfig
	logger *logrus.Logger
}

// NewStatisticalEvaluator creates a new statistical evaluator
func NewStatisticalEvaluator(config *StatisticalEvaluatorConfig, logger *logrus.Logger) *StatisticalEvaluator {
	if config == nil {
		config = getDefaultStatisticalEvaluatorConfig()
	}
	if config.HistogramBins <= 0 {
		config.HistogramBins = constants.DefaultHistogramBins
	}
	if config.Thresholds.Significance <= 0 {
		config.Thresholds = tests.DefaultThresholds()
	}
	if config.DistanceBands.Excellent <= 0 {
		config.DistanceBands = metrics.DefaultDistanceBands()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &StatisticalEvaluator{config: config, logger: logger}
}

// Evaluate runs a hypothesis test and two distances for every shared column
// and compares the correlation matrices of the shared numeric columns.
// Individual tests that cannot run are reported as skipped or errored in
// their own slot.
func (v *StatisticalEvaluator) Evaluate(ctx context.Context, realData, synthetic *dataset.Frame) (*models.StatisticalReport, error) {
	if realData == nil || synthetic == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "real and synthetic datasets are required")
	}

	shared := realData.SharedColumns(synthetic)
	report := &models.StatisticalReport{
		TestStatus:  models.Completed(),
		ColumnTests: make(map[string]*models.ColumnTest, len(shared)),
	}

	v.logger.WithFields(logrus.Fields{
		"real_rows":      realData.Rows(),
		"synthetic_rows": synthetic.Rows(),
		"shared_columns": len(shared),
	}).Info("Starting statistical evaluation")

	if len(shared) == 0 {
		report.TestStatus = models.Skipped("real and synthetic data share no columns of the same type")
		report.OverallTests.Correlation = &models.CorrelationTest{TestStatus: models.Skipped("no shared columns")}
		report.Summary = v.summarize(report, realData, synthetic, shared)
		return report, nil
	}

	for _, name := range shared {
		realCol, _ := realData.Column(name)
		synthCol, _ := synthetic.Column(name)

		test := &models.ColumnTest{
			ColumnType:       string(realCol.Kind),
			RealMissing:      realCol.MissingRate(),
			SyntheticMissing: synthCol.MissingRate(),
		}
		err := runSubTest(ctx, v.config.SubTestTimeout, name, func(ctx context.Context) error {
			if realCol.Kind == dataset.KindNumeric {
				return v.compareNumeric(test, realCol, synthCol)
			}
			return v.compareCategorical(test, realCol, synthCol)
		})
		test.TestStatus = subTestStatus(name, err)
		report.ColumnTests[name] = test

		v.logger.WithFields(logrus.Fields{
			"column": name,
			"type":   test.ColumnType,
			"status": test.Status,
		}).Debug("Column compared")
	}

	report.OverallTests.Correlation = v.compareCorrelations(ctx, realData, synthetic)
	report.Summary = v.summarize(report, realData, synthetic, shared)

	v.logger.WithFields(logrus.Fields{
		"total_tests":     report.Summary.TotalTests,
		"pass_rate":       report.Summary.PassRate,
		"overall_quality": report.Summary.OverallQuality,
		"completeness":    report.Summary.Completeness,
	}).Info("Statistical evaluation completed")

	return report, nil
}

func (v *StatisticalEvaluator) compareNumeric(test *models.ColumnTest, realCol, synthCol *dataset.Column) error {
	realValues, synthValues := realCol.Values(), synthCol.Values()

	ks, err := tests.TwoSampleKSTest(realValues, synthValues, v.config.Thresholds.Significance)
	if err != nil {
		return err
	}
	test.KSTest = ks.Hypothesis(v.config.Thresholds)

	w := metrics.NormalizedWasserstein(realValues, synthValues)
	test.Wasserstein = &models.DistanceMetric{Value: w, Similarity: v.config.DistanceBands.Classify(w)}

	js := metrics.JensenShannonDistance(realValues, synthValues, v.config.HistogramBins)
	test.JensenShannon = &models.DistanceMetric{Value: js, Similarity: v.config.DistanceBands.Classify(js)}
	return nil
}

func (v *StatisticalEvaluator) compareCategorical(test *models.ColumnTest, realCol, synthCol *dataset.Column) error {
	chi, err := tests.ChiSquareHomogeneityTest(realCol.Counts(), synthCol.Counts(), v.config.Thresholds.Significance)
	if err != nil {
		return err
	}
	test.ChiSquareTest = chi.Hypothesis(v.config.Thresholds)
	return nil
}

// compareCorrelations uses the rows that are complete across all shared
// numeric columns of each dataset
func (v *StatisticalEvaluator) compareCorrelations(ctx context.Context, realData, synthetic *dataset.Frame) *models.CorrelationTest {
	var numeric []string
	for _, name := range realData.SharedColumns(synthetic) {
		if c, _ := realData.Column(name); c.Kind == dataset.KindNumeric {
			numeric = append(numeric, name)
		}
	}

	result := &models.CorrelationTest{Columns: numeric}
	err := runSubTest(ctx, v.config.SubTestTimeout, constants.TestCorrelation, func(ctx context.Context) error {
		cmp, err := metrics.CompareCorrelations(numeric,
			completeColumns(realData, numeric), completeColumns(synthetic, numeric))
		if err != nil {
			return err
		}
		result.MeanAbsoluteDifference = cmp.MeanAbsoluteDifference
		result.MaxAbsoluteDifference = cmp.MaxAbsoluteDifference
		result.Similarity = v.config.DistanceBands.Classify(cmp.MeanAbsoluteDifference)
		return nil
	})
	result.TestStatus = subTestStatus(constants.TestCorrelation, err)
	return result
}

func completeColumns(f *dataset.Frame, names []string) [][]float64 {
	rows := f.CompleteRows(names...)
	out := make([][]float64, len(names))
	for j, name := range names {
		col, _ := f.Column(name)
		values := make([]float64, len(rows))
		for i, r := range rows {
			values[i] = col.Numeric[r]
		}
		out[j] = values
	}
	return out
}

func (v *StatisticalEvaluator) summarize(report *models.StatisticalReport, realData, synthetic *dataset.Frame, shared []string) models.StatisticalSummary {
	summary := models.StatisticalSummary{ColumnsCompared: len(shared)}

	for _, test := range report.ColumnTests {
		h := test.Hypothesis()
		if !test.IsCompleted() || h == nil {
			continue
		}
		summary.TotalTests++
		if h.Passed {
			summary.TestsPassed++
		}
	}

	if summary.TotalTests > 0 {
		summary.PassRate = float64(summary.TestsPassed) / float64(summary.TotalTests) * 100
		summary.OverallQuality = QualityFromPassRate(summary.PassRate)
	} else {
		summary.OverallQuality = constants.LevelUnknown
	}

	sharedSet := make(map[string]struct{}, len(shared))
	for _, name := range shared {
		sharedSet[name] = struct{}{}
	}
	for _, name := range realData.Names() {
		if _, ok := sharedSet[name]; !ok {
			summary.MissingColumns = append(summary.MissingColumns, name)
		}
	}

	summary.Completeness = assessCompleteness(realData, synthetic, shared)
	return summary
}

// QualityFromPassRate maps a pass rate in percent to a quality label
func QualityFromPassRate(passRate float64) string {
	switch {
	case passRate >= 90:
		return constants.QualityExcellent
	case passRate >= 75:
		return constants.QualityGood
	case passRate >= 60:
		return constants.QualityFair
	default:
		return constants.QualityPoor
	}
}

// assessCompleteness labels how much of the real schema the synthetic data
// reproduces, combining column coverage with the largest gap between real
// and synthetic missing-value rates
func assessCompleteness(realData, synthetic *dataset.Frame, shared []string) string {
	if len(realData.Names()) == 0 {
		return constants.CompletenessIncomplete
	}
	coverage := float64(len(shared)) / float64(len(realData.Names()))

	gap := 0.0
	for _, name := range shared {
		realCol, _ := realData.Column(name)
		synthCol, _ := synthetic.Column(name)
		gap = math.Max(gap, math.Abs(realCol.MissingRate()-synthCol.MissingRate()))
	}

	switch {
	case coverage >= 1 && gap <= 0.01:
		return constants.CompletenessComplete
	case coverage >= 0.9 && gap <= 0.05:
		return constants.CompletenessMostly
	case coverage >= 0.5 && gap <= 0.2:
		return constants.CompletenessPartial
	default:
		return constants.CompletenessIncomplete
	}
}

func getDefaultStatisticalEvaluatorConfig() *StatisticalEvaluatorConfig {
	return &StatisticalEvaluatorConfig{
		Thresholds:    tests.DefaultThresholds(),
		DistanceBands: metrics.DefaultDistanceBands(),
		HistogramBins: constants.DefaultHistogramBins,
	}
}
