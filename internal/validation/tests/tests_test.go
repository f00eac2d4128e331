package tests

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
)

func seq(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, float64(i))
	}
	return out
}

func TestTwoSampleKSIdenticalSamples(t *testing.T) {
	sample := seq(1, 50)
	result, err := TwoSampleKSTest(sample, sample, 0.05)
	require.NoError(t, err)

	assert.Zero(t, result.Statistic)
	assert.Equal(t, 1.0, result.PValue)
	assert.False(t, result.IsSignificant)
}

func TestTwoSampleKSDisjointSamples(t *testing.T) {
	result, err := TwoSampleKSTest(seq(1, 10), seq(11, 20), 0.05)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.Statistic, 1e-12)
	assert.Less(t, result.PValue, 0.001)
	assert.True(t, result.IsSignificant)

	h := result.Hypothesis(DefaultThresholds())
	assert.Equal(t, constants.TestFailed, h.Result)
	assert.False(t, h.Passed)
}

func TestTwoSampleKSStatistic(t *testing.T) {
	// CDFs differ by 0.4 from x=2 to x=5
	result, err := TwoSampleKSTest([]float64{5, 4, 3, 2, 1}, []float64{3, 4, 5, 6, 7}, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, result.Statistic, 1e-12)

	// tied values are stepped over together
	result, err = TwoSampleKSTest([]float64{1, 2, 2, 3, 4}, []float64{2, 2, 3, 4, 5}, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, result.Statistic, 1e-12)
}

func TestTwoSampleKSDropsNaN(t *testing.T) {
	a := append(seq(1, 10), math.NaN(), math.NaN())
	result, err := TwoSampleKSTest(a, seq(1, 10), 0.05)
	require.NoError(t, err)
	assert.Equal(t, 10, result.SampleSize1)
	assert.Zero(t, result.Statistic)
}

func TestTwoSampleKSRequiresObservations(t *testing.T) {
	_, err := TwoSampleKSTest([]float64{1, 2}, seq(1, 10), 0.05)
	require.Error(t, err)

	var insufficient *errors.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}

func TestKolmogorovQ(t *testing.T) {
	assert.Equal(t, 1.0, kolmogorovQ(0))
	// Q(1.36) is the classic 5% critical point
	assert.InDelta(t, 0.05, kolmogorovQ(1.36), 2e-3)
	assert.InDelta(t, 0.01, kolmogorovQ(1.63), 1e-3)
}

func TestChiSquareIdenticalCounts(t *testing.T) {
	counts := map[string]int{"a": 10, "b": 20, "c": 5}
	result, err := ChiSquareHomogeneityTest(counts, counts, 0.05)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, result.Statistic, 1e-12)
	assert.InDelta(t, 1.0, result.PValue, 1e-12)
	assert.Equal(t, 2, result.DegreesOfFreedom)
}

func TestChiSquareYatesCorrection(t *testing.T) {
	result, err := ChiSquareHomogeneityTest(
		map[string]int{"a": 30, "b": 10},
		map[string]int{"a": 10, "b": 30},
		0.05,
	)
	require.NoError(t, err)

	// expected 20 per cell, |o-e| = 10 reduced to 9.5
	assert.InDelta(t, 4*9.5*9.5/20, result.Statistic, 1e-9)
	assert.Equal(t, 1, result.DegreesOfFreedom)
	assert.Less(t, result.PValue, 0.001)
}

func TestChiSquareWithoutCorrection(t *testing.T) {
	result, err := ChiSquareHomogeneityTest(
		map[string]int{"a": 10, "b": 20, "c": 30},
		map[string]int{"a": 20, "b": 20, "c": 20},
		0.05,
	)
	require.NoError(t, err)

	assert.InDelta(t, 16.0/3, result.Statistic, 1e-9)
	// survival of chi2(2) is exp(-x/2)
	assert.InDelta(t, math.Exp(-8.0/3), result.PValue, 1e-9)
	assert.Equal(t, constants.TestModerate, DefaultThresholds().Classify(result.PValue))
}

func TestChiSquareSingleCategory(t *testing.T) {
	result, err := ChiSquareHomogeneityTest(
		map[string]int{"a": 10, "b": 0},
		map[string]int{"a": 3},
		0.05,
	)
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.PValue)
	assert.Zero(t, result.DegreesOfFreedom)
}

func TestChiSquareEmptySample(t *testing.T) {
	_, err := ChiSquareHomogeneityTest(map[string]int{}, map[string]int{"a": 3}, 0.05)
	assert.Error(t, err)
}

func TestThresholdsClassify(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, constants.TestPassed, th.Classify(0.06))
	assert.Equal(t, constants.TestModerate, th.Classify(0.05))
	assert.Equal(t, constants.TestModerate, th.Classify(0.02))
	assert.Equal(t, constants.TestFailed, th.Classify(0.01))
}
