package tests

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inferloop/synthcert/pkg/errors"
)

// ChiSquareHomogeneityTest compares the category frequencies of two samples
// with a 2×k contingency table. Categories absent from both samples are
// ignored. Fewer than two categories gives a statistic of 0 and a p-value
// of 1; one degree of freedom applies the Yates continuity correction.
func ChiSquareHomogeneityTest(counts1, counts2 map[string]int, alpha float64) (*StatisticalTestResult, error) {
	categories := alignCategories(counts1, counts2)

	var total1, total2 float64
	for _, c := range categories {
		total1 += float64(counts1[c])
		total2 += float64(counts2[c])
	}
	if total1 == 0 {
		return nil, errors.NewInsufficientDataError("chi_square_test", 1, 0, "real observations")
	}
	if total2 == 0 {
		return nil, errors.NewInsufficientDataError("chi_square_test", 1, 0, "synthetic observations")
	}

	result := &StatisticalTestResult{
		TestName:    "Chi-Square Test of Homogeneity",
		PValue:      1.0,
		AlphaLevel:  alpha,
		SampleSize1: int(total1),
		SampleSize2: int(total2),
	}
	if len(categories) < 2 {
		return result, nil
	}

	df := len(categories) - 1
	total := total1 + total2
	statistic := 0.0
	for _, c := range categories {
		colTotal := float64(counts1[c] + counts2[c])
		for _, row := range [2]struct{ observed, rowTotal float64 }{
			{float64(counts1[c]), total1},
			{float64(counts2[c]), total2},
		} {
			expected := row.rowTotal * colTotal / total
			diff := math.Abs(row.observed - expected)
			if df == 1 {
				diff = math.Max(0, diff-0.5)
			}
			statistic += diff * diff / expected
		}
	}

	result.Statistic = statistic
	result.DegreesOfFreedom = df
	result.PValue = clampProbability(distuv.ChiSquared{K: float64(df)}.Survival(statistic))
	result.IsSignificant = result.PValue <= alpha
	return result, nil
}

// alignCategories returns the sorted union of categories observed at least
// once in either sample
func alignCategories(counts1, counts2 map[string]int) []string {
	seen := make(map[string]struct{}, len(counts1)+len(counts2))
	for _, m := range []map[string]int{counts1, counts2} {
		for c, n := range m {
			if n > 0 {
				seen[c] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
