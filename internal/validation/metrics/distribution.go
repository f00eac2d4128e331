// Package metrics implements the distance measures used to compare real and
// synthetic columns.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/synthcert/pkg/constants"
)

// HistogramBins represents a histogram with bins and probabilities
type HistogramBins struct {
	Bins          []float64 `json:"bins"`
	Counts        []int     `json:"counts"`
	Probabilities []float64 `json:"probabilities"`
}

// DistanceBands are the upper bounds of the excellent, good and fair labels
type DistanceBands struct {
	Excellent float64 `mapstructure:"excellent" json:"excellent"`
	Good      float64 `mapstructure:"good" json:"good"`
	Fair      float64 `mapstructure:"fair" json:"fair"`
}

// DefaultDistanceBands returns the 0.1 / 0.2 / 0.3 bands
func DefaultDistanceBands() DistanceBands {
	return DistanceBands{Excellent: 0.1, Good: 0.2, Fair: 0.3}
}

// Classify labels a distance, smaller being more similar
func (b DistanceBands) Classify(distance float64) string {
	switch {
	case distance < b.Excellent:
		return constants.SimilarityExcellent
	case distance < b.Good:
		return constants.SimilarityGood
	case distance < b.Fair:
		return constants.SimilarityFair
	default:
		return constants.SimilarityPoor
	}
}

// WassersteinDistance is the first-order earth mover's distance between the
// empirical distributions of the two samples. NaN values are ignored.
func WassersteinDistance(u, v []float64) float64 {
	us, vs := sortedFinite(u), sortedFinite(v)
	if len(us) == 0 || len(vs) == 0 {
		return math.NaN()
	}

	all := make([]float64, 0, len(us)+len(vs))
	all = append(all, us...)
	all = append(all, vs...)
	sort.Float64s(all)

	nu, nv := float64(len(us)), float64(len(vs))
	var distance float64
	for i := 0; i < len(all)-1; i++ {
		delta := all[i+1] - all[i]
		if delta == 0 {
			continue
		}
		cu := float64(countAtMost(us, all[i])) / nu
		cv := float64(countAtMost(vs, all[i])) / nv
		distance += math.Abs(cu-cv) * delta
	}
	return distance
}

// NormalizedWasserstein divides the Wasserstein distance by the range of the
// real sample. A constant real column is not normalized.
func NormalizedWasserstein(realValues, syntheticValues []float64) float64 {
	d := WassersteinDistance(realValues, syntheticValues)
	lo, hi := findMinMax(realValues)
	if span := hi - lo; span > 0 {
		return d / span
	}
	return d
}

// JensenShannonDistance is the square root of the base-2 Jensen-Shannon
// divergence between histograms of the two samples over their shared range.
// It lies in [0, 1].
func JensenShannonDistance(p, q []float64, bins int) float64 {
	if bins <= 0 {
		bins = constants.DefaultHistogramBins
	}
	lo1, hi1 := findMinMax(p)
	lo2, hi2 := findMinMax(q)
	if math.IsNaN(lo1) || math.IsNaN(lo2) {
		return math.NaN()
	}
	lo, hi := math.Min(lo1, lo2), math.Max(hi1, hi2)

	hp := CreateHistogram(p, lo, hi, bins)
	hq := CreateHistogram(q, lo, hi, bins)
	js := stat.JensenShannon(hp.Probabilities, hq.Probabilities) / math.Ln2
	return math.Sqrt(math.Max(0, math.Min(1, js)))
}

// CreateHistogram bins data into equal-width bins over [lo, hi]. Values
// outside the range fall into the end bins and NaN values are ignored; a
// zero-width range puts everything in the first bin.
func CreateHistogram(data []float64, lo, hi float64, bins int) *HistogramBins {
	binEdges := make([]float64, bins+1)
	counts := make([]int, bins)
	probabilities := make([]float64, bins)

	values := sortedFinite(data)
	if hi > lo {
		floats.Span(binEdges, lo, hi)
	} else {
		for i := range binEdges {
			binEdges[i] = lo
		}
	}
	if len(values) == 0 {
		return &HistogramBins{Bins: binEdges, Counts: counts, Probabilities: probabilities}
	}

	if hi > lo {
		for i, v := range values {
			values[i] = math.Min(math.Max(v, lo), hi)
		}
		// stat.Histogram bins are half-open; widen the last edge so hi counts
		dividers := append([]float64(nil), binEdges...)
		dividers[bins] = math.Nextafter(hi, math.Inf(1))
		for i, w := range stat.Histogram(nil, dividers, values, nil) {
			counts[i] = int(w)
		}
	} else {
		counts[0] = len(values)
	}

	for i, count := range counts {
		probabilities[i] = float64(count) / float64(len(values))
	}
	return &HistogramBins{
		Bins:          binEdges,
		Counts:        counts,
		Probabilities: probabilities,
	}
}

func countAtMost(sorted []float64, x float64) int {
	return sort.Search(len(sorted), func(i int) bool { return sorted[i] > x })
}

func sortedFinite(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// findMinMax ignores NaN values and returns NaN for an empty sample
func findMinMax(data []float64) (float64, float64) {
	lo, hi := math.NaN(), math.NaN()
	for _, v := range data {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(lo) || v < lo {
			lo = v
		}
		if math.IsNaN(hi) || v > hi {
			hi = v
		}
	}
	return lo, hi
}
