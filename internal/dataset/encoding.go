package dataset

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
)

// featureSpec is the fitted transform of one column
type featureSpec struct {
	name string
	kind ColumnKind

	min, max, mean float64

	levels map[string]int
}

// Encoder maps mixed-type rows onto [0, 1]^d. Numeric columns are min-max
// scaled with missing values imputed by the mean; categorical columns are
// label encoded with missing values as their own level, then scaled by the
// number of levels. Fit it on every frame that will be compared so that the
// scales agree.
type Encoder struct {
	specs []featureSpec
}

// FitEncoder fits an encoder for the named columns over all frames
func FitEncoder(columns []string, frames ...*Frame) (*Encoder, error) {
	enc := &Encoder{specs: make([]featureSpec, 0, len(columns))}

	for _, name := range columns {
		var kind ColumnKind
		var cols []*Column
		for i, f := range frames {
			c, ok := f.Column(name)
			if !ok {
				return nil, errors.NewColumnNotFoundError(name, fmt.Sprintf("frame %d", i))
			}
			if kind != "" && c.Kind != kind {
				return nil, errors.NewValidationError(errors.CodeInvalidInput,
					fmt.Sprintf("column %q is %s in one frame and %s in another", name, kind, c.Kind))
			}
			kind = c.Kind
			cols = append(cols, c)
		}

		if kind == KindNumeric {
			enc.specs = append(enc.specs, fitNumeric(name, cols))
		} else {
			enc.specs = append(enc.specs, fitCategorical(name, cols))
		}
	}

	return enc, nil
}

func fitNumeric(name string, cols []*Column) featureSpec {
	var values []float64
	for _, c := range cols {
		values = append(values, c.Values()...)
	}

	spec := featureSpec{name: name, kind: KindNumeric}
	if len(values) == 0 {
		return spec
	}
	spec.min, _ = stats.Min(values)
	spec.max, _ = stats.Max(values)
	spec.mean, _ = stats.Mean(values)
	return spec
}

func fitCategorical(name string, cols []*Column) featureSpec {
	seen := make(map[string]struct{})
	for _, c := range cols {
		for _, v := range c.Categorical {
			if v == "" {
				v = constants.MissingCategory
			}
			seen[v] = struct{}{}
		}
	}
	levels := make([]string, 0, len(seen))
	for v := range seen {
		levels = append(levels, v)
	}
	sort.Strings(levels)

	spec := featureSpec{name: name, kind: KindCategorical, levels: make(map[string]int, len(levels))}
	for i, v := range levels {
		spec.levels[v] = i
	}
	return spec
}

// Width returns the number of encoded features
func (e *Encoder) Width() int {
	return len(e.specs)
}

// Names returns the encoded column names in feature order
func (e *Encoder) Names() []string {
	names := make([]string, len(e.specs))
	for i, s := range e.specs {
		names[i] = s.name
	}
	return names
}

// Transform encodes every row of f into a dense row-major matrix
func (e *Encoder) Transform(f *Frame) ([][]float64, error) {
	cols := make([]*Column, len(e.specs))
	for j, s := range e.specs {
		c, ok := f.Column(s.name)
		if !ok {
			return nil, errors.NewColumnNotFoundError(s.name, "encoded")
		}
		if c.Kind != s.kind {
			return nil, errors.NewValidationError(errors.CodeInvalidInput,
				fmt.Sprintf("column %q changed kind from %s to %s", s.name, s.kind, c.Kind))
		}
		cols[j] = c
	}

	out := make([][]float64, f.Rows())
	for i := range out {
		row := make([]float64, len(e.specs))
		for j, s := range e.specs {
			row[j] = s.encode(cols[j], i)
		}
		out[i] = row
	}
	return out, nil
}

func (s *featureSpec) encode(c *Column, i int) float64 {
	if s.kind == KindNumeric {
		v := c.Numeric[i]
		if math.IsNaN(v) {
			v = s.mean
		}
		span := s.max - s.min
		if span <= 0 {
			return 0
		}
		return (v - s.min) / span
	}

	v := c.Categorical[i]
	if v == "" {
		v = constants.MissingCategory
	}
	code, ok := s.levels[v]
	if !ok || len(s.levels) <= 1 {
		return 0
	}
	return float64(code) / float64(len(s.levels)-1)
}

// LabelEncoder maps class labels onto dense integer codes in sorted order
type LabelEncoder struct {
	Classes []string
	index   map[string]int
}

// FitLabels builds a label encoder over the union of the given label sets
func FitLabels(sets ...[]string) *LabelEncoder {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, v := range set {
			seen[v] = struct{}{}
		}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)

	le := &LabelEncoder{Classes: classes, index: make(map[string]int, len(classes))}
	for i, c := range classes {
		le.index[c] = i
	}
	return le
}

// Encode maps labels to codes. Unknown labels map to -1.
func (le *LabelEncoder) Encode(labels []string) []int {
	out := make([]int, len(labels))
	for i, l := range labels {
		code, ok := le.index[l]
		if !ok {
			code = -1
		}
		out[i] = code
	}
	return out
}

// QuantileBins discretises values into at most k bins with edges at the
// quantiles of reference. It returns the bin label of each value. Missing
// values get the missing category.
func QuantileBins(values, reference []float64, k int) []string {
	clean := make([]float64, 0, len(reference))
	for _, v := range reference {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}

	var edges []float64
	if len(clean) > 0 && k > 1 {
		for b := 1; b < k; b++ {
			q, err := stats.Percentile(clean, float64(b)*100/float64(k))
			if err != nil {
				continue
			}
			if len(edges) == 0 || q > edges[len(edges)-1] {
				edges = append(edges, q)
			}
		}
	}

	out := make([]string, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = constants.MissingCategory
			continue
		}
		out[i] = fmt.Sprintf("q%d", sort.SearchFloat64s(edges, v))
	}
	return out
}
