package validation

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/internal/dataset"
	"github.com/inferloop/synthcert/internal/ml"
	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// MinUtilityRows is the smallest real dataset the utility models are trained on
const MinUtilityRows = 10

// UtilityEvaluatorConfig contains configuration for the ML utility
// comparison. MixRatio is the share of synthetic rows in the mixed training
// set.
type UtilityEvaluatorConfig struct {
	Forest                ml.ForestConfig `mapstructure:"forest" json:"forest"`
	TestFraction          float64         `mapstructure:"test_fraction" json:"test_fraction"`
	MixRatio              float64         `mapstructure:"mix_ratio" json:"mix_ratio"`
	RegressionUniqueRatio float64         `mapstructure:"regression_unique_ratio" json:"regression_unique_ratio"`
	Seed                  int64           `mapstructure:"seed" json:"seed"`
	SubTestTimeout        time.Duration   `mapstructure:"sub_test_timeout" json:"sub_test_timeout"`
}

// UtilityEvaluator measures how well models trained on synthetic data
// perform on real data compared with models trained on real data
type UtilityEvaluator struct {
	config *UtilityEvaluatorConfig
	logger *logrus.Logger
}

// NewUtilityEvaluator creates a new ML utility evaluator
func NewUtilityEvaluator(config *UtilityEvaluatorConfig, logger *logrus.Logger) *UtilityEvaluator {
	if config == nil {
		config = getDefaultUtilityEvaluatorConfig()
	}
	if config.TestFraction <= 0 || config.TestFraction >= 1 {
		config.TestFraction = constants.DefaultTestFraction
	}
	if config.MixRatio < 0 || config.MixRatio >= 1 {
		config.MixRatio = constants.DefaultMixRatio
	}
	if config.RegressionUniqueRatio <= 0 {
		config.RegressionUniqueRatio = constants.RegressionUniqueRatio
	}
	if config.Forest.Trees <= 0 {
		config.Forest = ml.DefaultForestConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &UtilityEvaluator{config: config, logger: logger}
}

// utilityProblem is the encoded learning problem shared by the three models
type utilityProblem struct {
	task     ml.Task
	nClasses int

	realX, synthX       [][]float64
	realYc, synthYc     []int
	realYr, synthYr     []float64
	trainRows, testRows []int
}

// Evaluate trains the baseline, synthetic and mixed models to predict target
func (v *UtilityEvaluator) Evaluate(ctx context.Context, realData, synthetic *dataset.Frame, target string) (*models.MLUtilityReport, error) {
	if realData == nil || synthetic == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "real and synthetic datasets are required")
	}

	report := &models.MLUtilityReport{TestStatus: models.Completed(), TargetColumn: target}

	v.logger.WithFields(logrus.Fields{
		"target":         target,
		"real_rows":      realData.Rows(),
		"synthetic_rows": synthetic.Rows(),
	}).Info("Starting ML utility evaluation")

	problem, err := v.prepare(realData, synthetic, target)
	if err != nil {
		report.TestStatus = subTestStatus(constants.SectionMLUtility, err)
		report.Summary.QualityLevel = constants.LevelUnknown
		v.logger.WithError(err).Warn("ML utility evaluation not run")
		return report, nil
	}
	report.TaskType = string(problem.task)

	report.Models.Baseline = v.trainModel(ctx, "baseline", problem, problem.trainRows, nil, 0)
	report.Models.Synthetic = v.trainModel(ctx, "synthetic", problem, nil, allIndices(len(problem.synthX)), 0)

	nSynth := mixedSyntheticRows(len(problem.trainRows), len(problem.synthX), v.config.MixRatio)
	mixedSynth := dataset.SampleIndices(len(problem.synthX), nSynth, v.config.Seed)
	report.Models.Mixed = v.trainModel(ctx, "mixed", problem, problem.trainRows, mixedSynth, v.config.MixRatio)

	report.Summary = v.summarize(problem.task, report.Models)

	v.logger.WithFields(logrus.Fields{
		"task":          report.TaskType,
		"utility_ratio": report.Summary.UtilityRatio,
		"quality_level": report.Summary.QualityLevel,
	}).Info("ML utility evaluation completed")

	return report, nil
}

func (v *UtilityEvaluator) prepare(realData, synthetic *dataset.Frame, target string) (*utilityProblem, error) {
	if target == "" {
		return nil, errors.NewValidationError(errors.CodeMissingField, "a target column is required for ML utility evaluation")
	}
	if !realData.Has(target) {
		return nil, errors.NewColumnNotFoundError(target, "real")
	}
	if !synthetic.Has(target) {
		return nil, errors.NewColumnNotFoundError(target, "synthetic")
	}

	var features []string
	targetShared := false
	for _, name := range realData.SharedColumns(synthetic) {
		if name == target {
			targetShared = true
			continue
		}
		features = append(features, name)
	}
	if !targetShared {
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("target column %q has different types in real and synthetic data", target))
	}
	if len(features) == 0 {
		return nil, errors.NewInsufficientDataError(constants.SectionMLUtility, 1, 0, "shared feature columns")
	}

	realData = realData.Select(realData.CompleteRows(target))
	synthetic = synthetic.Select(synthetic.CompleteRows(target))
	if realData.Rows() < MinUtilityRows {
		return nil, errors.NewInsufficientDataError(constants.SectionMLUtility, MinUtilityRows, realData.Rows(), "real rows with a target value")
	}
	if synthetic.Rows() < 2 {
		return nil, errors.NewInsufficientDataError(constants.SectionMLUtility, 2, synthetic.Rows(), "synthetic rows with a target value")
	}

	enc, err := dataset.FitEncoder(features, realData, synthetic)
	if err != nil {
		return nil, err
	}
	p := &utilityProblem{}
	if p.realX, err = enc.Transform(realData); err != nil {
		return nil, err
	}
	if p.synthX, err = enc.Transform(synthetic); err != nil {
		return nil, err
	}

	realTarget, _ := realData.Column(target)
	synthTarget, _ := synthetic.Column(target)
	p.task = DetectTask(realTarget, v.config.RegressionUniqueRatio)

	if p.task == ml.Regression {
		p.realYr, p.synthYr = realTarget.Numeric, synthTarget.Numeric
		p.trainRows, p.testRows = dataset.SplitIndices(realData.Rows(), v.config.TestFraction, v.config.Seed)
		return p, nil
	}

	realLabels, synthLabels := classLabels(realTarget), classLabels(synthTarget)
	le := dataset.FitLabels(realLabels, synthLabels)
	if len(le.Classes) < 2 {
		return nil, errors.NewInsufficientDataError(constants.SectionMLUtility, 2, len(le.Classes), "target classes")
	}
	p.nClasses = len(le.Classes)
	p.realYc, p.synthYc = le.Encode(realLabels), le.Encode(synthLabels)
	p.trainRows, p.testRows = dataset.StratifiedSplitIndices(realLabels, v.config.TestFraction, v.config.Seed)
	return p, nil
}

// DetectTask treats a numeric target as continuous when more than ratio of
// its non-missing values are distinct
func DetectTask(target *dataset.Column, ratio float64) ml.Task {
	if target.Kind != dataset.KindNumeric {
		return ml.Classification
	}
	n := target.Len() - target.MissingCount()
	if n == 0 {
		return ml.Classification
	}
	if float64(target.UniqueCount())/float64(n) > ratio {
		return ml.Regression
	}
	return ml.Classification
}

func classLabels(c *dataset.Column) []string {
	if c.Kind == dataset.KindCategorical {
		return c.Categorical
	}
	out := make([]string, len(c.Numeric))
	for i, v := range c.Numeric {
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}

// mixedSyntheticRows returns how many synthetic rows join realTrain real
// rows so that synthetic rows make up ratio of the mixed set
func mixedSyntheticRows(realTrain, available int, ratio float64) int {
	if ratio <= 0 {
		return 0
	}
	n := int(math.Round(ratio / (1 - ratio) * float64(realTrain)))
	if n > available {
		n = available
	}
	return n
}

// trainModel fits a forest on the given real and synthetic training rows and
// scores it on the real test rows
func (v *UtilityEvaluator) trainModel(ctx context.Context, name string, p *utilityProblem, realRows, synthRows []int, mixRatio float64) *models.ModelScore {
	score := &models.ModelScore{
		TrainRows: len(realRows) + len(synthRows),
		TestRows:  len(p.testRows),
		MixRatio:  mixRatio,
	}

	X := make([][]float64, 0, score.TrainRows)
	for _, r := range realRows {
		X = append(X, p.realX[r])
	}
	for _, r := range synthRows {
		X = append(X, p.synthX[r])
	}
	testX := make([][]float64, len(p.testRows))
	for i, r := range p.testRows {
		testX[i] = p.realX[r]
	}

	err := runSubTest(ctx, v.config.SubTestTimeout, name, func(ctx context.Context) error {
		if len(X) == 0 {
			return errors.NewInsufficientDataError(name, 1, 0, "training rows")
		}

		if p.task == ml.Regression {
			y := make([]float64, 0, len(X))
			for _, r := range realRows {
				y = append(y, p.realYr[r])
			}
			for _, r := range synthRows {
				y = append(y, p.synthYr[r])
			}
			testY := make([]float64, len(p.testRows))
			for i, r := range p.testRows {
				testY[i] = p.realYr[r]
			}

			forest := ml.NewRandomForestRegressor(v.config.Forest)
			if err := forest.FitRegressor(ctx, X, y); err != nil {
				return err
			}
			s := ml.ScoreRegression(testY, forest.Predict(testX))
			score.R2Score, score.MSE, score.RMSE, score.MAE = &s.R2, &s.MSE, &s.RMSE, &s.MAE
			return nil
		}

		y := make([]int, 0, len(X))
		for _, r := range realRows {
			y = append(y, p.realYc[r])
		}
		for _, r := range synthRows {
			y = append(y, p.synthYc[r])
		}
		testY := make([]int, len(p.testRows))
		for i, r := range p.testRows {
			testY[i] = p.realYc[r]
		}

		forest := ml.NewRandomForestClassifier(v.config.Forest, p.nClasses)
		if err := forest.FitClassifier(ctx, X, y); err != nil {
			return err
		}
		s := ml.ScoreClassification(testY, forest.PredictClass(testX), p.nClasses)
		score.Accuracy, score.Precision, score.Recall, score.F1Score = &s.Accuracy, &s.Precision, &s.Recall, &s.F1
		return nil
	})
	score.TestStatus = subTestStatus(name, err)

	v.logger.WithFields(logrus.Fields{
		"model":      name,
		"train_rows": score.TrainRows,
		"status":     score.Status,
	}).Debug("Utility model trained")

	return score
}

func (v *UtilityEvaluator) summarize(task ml.Task, m models.MLModels) models.MLUtilitySummary {
	summary := models.MLUtilitySummary{ComparisonMetric: "f1_score", QualityLevel: constants.LevelUnknown}
	if task == ml.Regression {
		summary.ComparisonMetric = "r2_score"
	}

	if mixed, ok := m.Mixed.PrimaryScore(); ok {
		summary.MixedScore = &mixed
	}

	baseline, okBase := m.Baseline.PrimaryScore()
	synth, okSynth := m.Synthetic.PrimaryScore()
	if !okBase || !okSynth {
		summary.Notes = append(summary.Notes, "baseline or synthetic model did not complete; utility ratio not computed")
		return summary
	}

	summary.BaselineScore = baseline
	summary.SyntheticScore = synth
	summary.ScoreDifference = baseline - synth

	if baseline <= 0 {
		summary.Notes = append(summary.Notes, "baseline model has no predictive skill; utility ratio is undefined")
		return summary
	}

	summary.UtilityRatio = math.Max(0, synth/baseline)
	summary.QualityLevel = QualityFromUtilityRatio(summary.UtilityRatio)
	return summary
}

// QualityFromUtilityRatio maps a synthetic/baseline score ratio to a label
func QualityFromUtilityRatio(ratio float64) string {
	switch {
	case ratio >= 0.95:
		return constants.QualityExcellent
	case ratio >= 0.85:
		return constants.QualityGood
	case ratio >= 0.70:
		return constants.QualityFair
	default:
		return constants.QualityPoor
	}
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func getDefaultUtilityEvaluatorConfig() *UtilityEvaluatorConfig {
	return &UtilityEvaluatorConfig{
		Forest:                ml.DefaultForestConfig(),
		TestFraction:          constants.DefaultTestFraction,
		MixRatio:              constants.DefaultMixRatio,
		RegressionUniqueRatio: constants.RegressionUniqueRatio,
		Seed:                  constants.DefaultRandomSeed,
	}
}
