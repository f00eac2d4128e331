package validation

import (
	"context"
	"math"
	"strconv"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/inferloop/synthcert/internal/dataset"
	"github.com/inferloop/synthcert/internal/ml"
	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// MinAttackRows is the smallest per-class sample the membership inference
// attack is trained on
const MinAttackRows = 5

const dcrChunkSize = 256

// distanceToClosestRecord measures how close each synthetic row lies to its
// nearest real row. Rows within 5% of the observed distance range above the
// minimum are high risk, within 10% medium risk; exact copies are always
// high risk.
func (v *PrivacyEvaluator) distanceToClosestRecord(ctx context.Context, data *attackData) *models.DCRResult {
	result := &models.DCRResult{}
	err := runSubTest(ctx, v.config.SubTestTimeout, constants.TestDistanceToClosestRecord, func(ctx context.Context) error {
		if len(data.realX) < 2 {
			return errors.NewInsufficientDataError(constants.TestDistanceToClosestRecord, 2, len(data.realX), "real rows")
		}

		dcr, err := v.nearestDistances(ctx, data.synthX, data.realX, false)
		if err != nil {
			return err
		}
		baseline, err := v.nearestDistances(ctx, data.realX, data.realX, true)
		if err != nil {
			return err
		}
		return scoreDCR(result, dcr, baseline)
	})
	result.TestStatus = subTestStatus(constants.TestDistanceToClosestRecord, err)
	return result
}

func scoreDCR(result *models.DCRResult, dcr, baseline []float64) error {
	var err error
	if result.MinDistance, err = stats.Min(dcr); err != nil {
		return err
	}
	if result.MaxDistance, err = stats.Max(dcr); err != nil {
		return err
	}
	if result.MeanDistance, err = stats.Mean(dcr); err != nil {
		return err
	}
	if result.MedianDistance, err = stats.Median(dcr); err != nil {
		return err
	}
	// Percentile rejects samples too small to place the 5th percentile
	if result.Percentile5Distance, err = stats.Percentile(dcr, 5); err != nil {
		result.Percentile5Distance = result.MinDistance
	}
	if result.RealBaselineDistance, err = stats.Median(baseline); err != nil {
		return err
	}
	if result.RealBaselineDistance <= 0 {
		result.RealBaselineDistance, _ = stats.Mean(baseline)
	}

	switch {
	case result.RealBaselineDistance > 0:
		result.DistanceRatio = result.MedianDistance / result.RealBaselineDistance
	case result.MedianDistance > 0:
		result.DistanceRatio = 1
	}

	span := result.MaxDistance - result.MinDistance
	highThreshold := result.MinDistance + 0.05*span
	mediumThreshold := result.MinDistance + 0.10*span

	for _, d := range dcr {
		switch {
		case d <= constants.ExactMatchTolerance:
			result.ExactMatches++
			result.HighRiskRecords++
		case d < highThreshold:
			result.HighRiskRecords++
		case d < mediumThreshold:
			result.MediumRiskRecords++
		}
	}

	n := float64(len(dcr))
	result.RecordsEvaluated = len(dcr)
	result.HighRiskPercentage = float64(result.HighRiskRecords) / n * 100
	result.MediumRiskPercentage = float64(result.MediumRiskRecords) / n * 100

	switch {
	case result.HighRiskPercentage > 10:
		result.RiskLevel = constants.RiskHigh
	case result.HighRiskPercentage > 5:
		result.RiskLevel = constants.RiskMedium
	default:
		result.RiskLevel = constants.RiskLow
	}
	return nil
}

// nearestDistances returns, for every row of queries, the Euclidean distance
// to the closest row of candidates. With excludeSelf the candidate with the
// same index is skipped, which is used to measure real-to-real spacing.
func (v *PrivacyEvaluator) nearestDistances(ctx context.Context, queries, candidates [][]float64, excludeSelf bool) ([]float64, error) {
	out := make([]float64, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.config.Workers)

	for start := 0; start < len(queries); start += dcrChunkSize {
		start := start
		end := start + dcrChunkSize
		if end > len(queries) {
			end = len(queries)
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				skip := -1
				if excludeSelf {
					skip = i
				}
				out[i] = nearestDistance(queries[i], candidates, skip)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func nearestDistance(x []float64, candidates [][]float64, skip int) float64 {
	best := math.Inf(1)
	for j, c := range candidates {
		if j == skip {
			continue
		}
		sum := 0.0
		for k := range x {
			d := x[k] - c[k]
			sum += d * d
			if sum >= best {
				break
			}
		}
		if sum < best {
			best = sum
		}
	}
	return math.Sqrt(best)
}

// membershipInference trains a real-vs-synthetic discriminator on balanced
// samples. Real and synthetic rows are split with the same seeded index
// split so paired datasets stay paired across train and test.
func (v *PrivacyEvaluator) membershipInference(ctx context.Context, data *attackData) *models.MembershipInferenceResult {
	result := &models.MembershipInferenceResult{}
	err := runSubTest(ctx, v.config.SubTestTimeout, constants.TestMembershipInference, func(ctx context.Context) error {
		n := len(data.realX)
		if len(data.synthX) < n {
			n = len(data.synthX)
		}
		if n < MinAttackRows {
			return errors.NewInsufficientDataError(constants.TestMembershipInference, MinAttackRows, n, "rows in each dataset")
		}

		realIdx := dataset.SampleIndices(len(data.realX), n, v.config.Seed)
		synthIdx := dataset.SampleIndices(len(data.synthX), n, v.config.Seed)
		train, test := dataset.SplitIndices(n, v.config.TestFraction, v.config.Seed)

		build := func(positions []int) ([][]float64, []int) {
			X := make([][]float64, 0, 2*len(positions))
			y := make([]int, 0, 2*len(positions))
			for _, p := range positions {
				X = append(X, data.realX[realIdx[p]], data.synthX[synthIdx[p]])
				y = append(y, 1, 0)
			}
			return X, y
		}
		trainX, trainY := build(train)
		testX, testY := build(test)

		forest := ml.NewRandomForestClassifier(v.config.Forest, 2)
		if err := forest.FitClassifier(ctx, trainX, trainY); err != nil {
			return err
		}

		result.AttackAccuracy = ml.Accuracy(testY, forest.PredictClass(testX))
		result.Advantage = (result.AttackAccuracy - 0.5) * 2
		result.TrainRows = len(trainX)
		result.TestRows = len(testX)

		switch {
		case result.Advantage > 0.3:
			result.Vulnerability = constants.RiskHigh
		case result.Advantage > 0.15:
			result.Vulnerability = constants.RiskMedium
		default:
			result.Vulnerability = constants.RiskLow
		}
		return nil
	})
	result.TestStatus = subTestStatus(constants.TestMembershipInference, err)
	return result
}

// attributeInference trains on synthetic rows to predict each sensitive
// column from the other shared columns and measures accuracy on real rows
func (v *PrivacyEvaluator) attributeInference(ctx context.Context, data *attackData, sensitive []string) *models.AttributeInferenceResult {
	result := &models.AttributeInferenceResult{
		TestStatus:    models.Completed(),
		Attributes:    make(map[string]*models.AttributeRisk, len(sensitive)),
		Vulnerability: constants.RiskLow,
	}

	completed := 0
	for _, column := range sensitive {
		risk := &models.AttributeRisk{}
		err := runSubTest(ctx, v.config.SubTestTimeout, column, func(ctx context.Context) error {
			return v.inferAttribute(ctx, data, column, risk)
		})
		risk.TestStatus = subTestStatus(column, err)
		result.Attributes[column] = risk

		if !risk.IsCompleted() {
			continue
		}
		completed++
		result.MaxAccuracy = math.Max(result.MaxAccuracy, risk.Accuracy)
	}

	switch {
	case completed == 0:
		result.TestStatus = models.Skipped("no sensitive column could be attacked")
		result.Vulnerability = ""
	case result.MaxAccuracy > 0.8:
		result.Vulnerability = constants.RiskHigh
	case result.MaxAccuracy > 0.7:
		result.Vulnerability = constants.RiskMedium
	}
	return result
}

func (v *PrivacyEvaluator) inferAttribute(ctx context.Context, data *attackData, column string, risk *models.AttributeRisk) error {
	position := -1
	for j, name := range data.columns {
		if name == column {
			position = j
		}
	}
	if position < 0 {
		if !data.realData.Has(column) {
			return errors.NewColumnNotFoundError(column, "real")
		}
		return errors.NewColumnNotFoundError(column, "synthetic")
	}
	if len(data.columns) < 2 {
		return errors.NewInsufficientDataError(constants.TestAttributeInference, 1, 0, "feature columns besides the sensitive column")
	}

	realCol, _ := data.realData.Column(column)
	synthCol, _ := data.synthetic.Column(column)
	realLabels, synthLabels, binned := v.attributeLabels(realCol, synthCol)
	risk.Binned = binned

	le := dataset.FitLabels(realLabels, synthLabels)
	if len(le.Classes) < 2 {
		return errors.NewInsufficientDataError(constants.TestAttributeInference, 2, len(le.Classes), "distinct values in the sensitive column")
	}
	realY, synthY := le.Encode(realLabels), le.Encode(synthLabels)

	forest := ml.NewRandomForestClassifier(v.config.Forest, len(le.Classes))
	if err := forest.FitClassifier(ctx, dropColumn(data.synthX, position), synthY); err != nil {
		return err
	}

	risk.Accuracy = ml.Accuracy(realY, forest.PredictClass(dropColumn(data.realX, position)))
	risk.BaselineAccuracy = majorityShare(realY, len(le.Classes))

	switch {
	case risk.Accuracy > 0.8:
		risk.Vulnerability = constants.RiskHigh
	case risk.Accuracy > 0.7:
		risk.Vulnerability = constants.RiskMedium
	default:
		risk.Vulnerability = constants.RiskLow
	}
	return nil
}

// attributeLabels turns a sensitive column into class labels. Numeric
// columns with many distinct values are cut into quantile bins of the real
// distribution.
func (v *PrivacyEvaluator) attributeLabels(realCol, synthCol *dataset.Column) ([]string, []string, bool) {
	if realCol.Kind == dataset.KindCategorical {
		return withMissing(realCol.Categorical), withMissing(synthCol.Categorical), false
	}
	if realCol.UniqueCount() > v.config.HighCardinality {
		bins := v.config.AttributeBins
		return dataset.QuantileBins(realCol.Numeric, realCol.Numeric, bins),
			dataset.QuantileBins(synthCol.Numeric, realCol.Numeric, bins), true
	}
	return formatNumeric(realCol.Numeric), formatNumeric(synthCol.Numeric), false
}

func withMissing(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if v == "" {
			v = constants.MissingCategory
		}
		out[i] = v
	}
	return out
}

func formatNumeric(values []float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = constants.MissingCategory
			continue
		}
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}

func dropColumn(X [][]float64, j int) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		r := make([]float64, 0, len(row)-1)
		r = append(r, row[:j]...)
		r = append(r, row[j+1:]...)
		out[i] = r
	}
	return out
}

func majorityShare(y []int, nClasses int) float64 {
	if len(y) == 0 {
		return 0
	}
	counts := make([]int, nClasses)
	best := 0
	for _, c := range y {
		counts[c]++
		if counts[c] > best {
			best = counts[c]
		}
	}
	return float64(best) / float64(len(y))
}
