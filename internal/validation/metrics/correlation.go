package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/synthcert/pkg/errors"
)

// MinCorrelationRows is the smallest number of complete rows a correlation
// matrix is computed from
const MinCorrelationRows = 3

// CorrelationComparison summarises the element-wise difference between two
// Pearson correlation matrices, over the off-diagonal entries only
type CorrelationComparison struct {
	Columns                []string
	MeanAbsoluteDifference float64
	MaxAbsoluteDifference  float64
}

// CorrelationMatrix computes the Pearson correlation matrix of columns, each
// holding one variable. Columns must share a length and contain no NaN;
// undefined entries (constant columns) are reported as 0.
func CorrelationMatrix(columns [][]float64) (*mat.SymDense, error) {
	if len(columns) == 0 {
		return nil, errors.NewInsufficientDataError("correlation", 1, 0, "columns")
	}
	rows := len(columns[0])
	if rows < MinCorrelationRows {
		return nil, errors.NewInsufficientDataError("correlation", MinCorrelationRows, rows, "complete rows")
	}

	data := mat.NewDense(rows, len(columns), nil)
	for j, col := range columns {
		if len(col) != rows {
			return nil, errors.NewValidationError(errors.CodeInvalidInput, "correlation columns must share a length")
		}
		data.SetCol(j, col)
	}

	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, data, nil)

	n := corr.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if math.IsNaN(corr.At(i, j)) {
				corr.SetSym(i, j, 0)
			}
		}
	}
	return &corr, nil
}

// CompareCorrelations compares the correlation structure of the same named
// columns in two datasets. At least two columns are required.
func CompareCorrelations(names []string, realColumns, syntheticColumns [][]float64) (*CorrelationComparison, error) {
	if len(names) < 2 {
		return nil, errors.NewInsufficientDataError("correlation", 2, len(names), "shared numeric columns")
	}

	realCorr, err := CorrelationMatrix(realColumns)
	if err != nil {
		return nil, err
	}
	synthCorr, err := CorrelationMatrix(syntheticColumns)
	if err != nil {
		return nil, err
	}

	var diff mat.Dense
	diff.Sub(realCorr, synthCorr)

	n := len(names)
	sum, maxDiff := 0.0, 0.0
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := math.Abs(diff.At(i, j))
			sum += d
			maxDiff = math.Max(maxDiff, d)
			pairs++
		}
	}

	return &CorrelationComparison{
		Columns:                append([]string(nil), names...),
		MeanAbsoluteDifference: sum / float64(pairs),
		MaxAbsoluteDifference:  maxDiff,
	}, nil
}
