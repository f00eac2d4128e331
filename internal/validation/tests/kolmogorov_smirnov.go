package tests

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/synthcert/pkg/errors"
)

// MinKSObservations is the smallest sample the KS test accepts on either side
const MinKSObservations = 5

// TwoSampleKSTest performs the two-sample Kolmogorov-Smirnov test. NaN values
// are dropped before testing.
func TwoSampleKSTest(sample1, sample2 []float64, alpha float64) (*StatisticalTestResult, error) {
	sorted1 := sortedFinite(sample1)
	sorted2 := sortedFinite(sample2)

	if len(sorted1) < MinKSObservations {
		return nil, errors.NewInsufficientDataError("ks_test", MinKSObservations, len(sorted1), "real observations")
	}
	if len(sorted2) < MinKSObservations {
		return nil, errors.NewInsufficientDataError("ks_test", MinKSObservations, len(sorted2), "synthetic observations")
	}

	n1, n2 := len(sorted1), len(sorted2)
	maxDiff := stat.KolmogorovSmirnov(sorted1, nil, sorted2, nil)
	pValue := calculateTwoSampleKSPValue(maxDiff, n1, n2)

	return &StatisticalTestResult{
		TestName:      "Two-Sample Kolmogorov-Smirnov Test",
		Statistic:     maxDiff,
		PValue:        pValue,
		IsSignificant: pValue <= alpha,
		AlphaLevel:    alpha,
		SampleSize1:   n1,
		SampleSize2:   n2,
	}, nil
}

func sortedFinite(sample []float64) []float64 {
	out := make([]float64, 0, len(sample))
	for _, v := range sample {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// calculateTwoSampleKSPValue evaluates the Kolmogorov distribution with the
// Stephens small-sample correction
func calculateTwoSampleKSPValue(dMax float64, n1, n2 int) float64 {
	if dMax <= 0 {
		return 1.0
	}

	en := math.Sqrt(float64(n1) * float64(n2) / float64(n1+n2))
	lambda := (en + 0.12 + 0.11/en) * dMax
	return clampProbability(kolmogorovQ(lambda))
}

// kolmogorovQ is the survival function of the Kolmogorov distribution,
// 2 Σ (-1)^(j-1) exp(-2 j² λ²). The series does not converge for small λ,
// where the probability is 1.
func kolmogorovQ(lambda float64) float64 {
	a2 := -2 * lambda * lambda
	fac := 2.0
	sum := 0.0
	prev := 0.0

	for j := 1; j <= 100; j++ {
		term := fac * math.Exp(a2*float64(j*j))
		sum += term
		if math.Abs(term) <= 0.001*prev || math.Abs(term) <= 1e-8*sum {
			return sum
		}
		fac = -fac
		prev = math.Abs(term)
	}
	return 1.0
}
