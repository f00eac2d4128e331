// Package dataset holds the in-memory tabular representation shared by the
// evaluators, plus CSV I/O, deterministic sampling and feature encoding.
package dataset

import (
	"fmt"
	"math"
	"sort"

	"github.com/inferloop/synthcert/pkg/errors"
)

// ColumnKind is the inferred type of a column
type ColumnKind string

const (
	KindNumeric     ColumnKind = "numeric"
	KindCategorical ColumnKind = "categorical"
)

// Column is a named, typed column. Missing numeric values are NaN, missing
// categorical values are the empty string.
type Column struct {
	Name        string
	Kind        ColumnKind
	Numeric     []float64
	Categorical []string
}

// Len returns the number of values
func (c *Column) Len() int {
	if c.Kind == KindNumeric {
		return len(c.Numeric)
	}
	return len(c.Categorical)
}

// IsMissing reports whether row i holds no value
func (c *Column) IsMissing(i int) bool {
	if c.Kind == KindNumeric {
		return math.IsNaN(c.Numeric[i])
	}
	return c.Categorical[i] == ""
}

// MissingCount returns the number of missing values
func (c *Column) MissingCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

// MissingRate returns the share of missing values in [0, 1]
func (c *Column) MissingRate() float64 {
	if c.Len() == 0 {
		return 0
	}
	return float64(c.MissingCount()) / float64(c.Len())
}

// Values returns the non-missing numeric values
func (c *Column) Values() []float64 {
	out := make([]float64, 0, len(c.Numeric))
	for _, v := range c.Numeric {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Levels returns the sorted distinct non-missing categorical values
func (c *Column) Levels() []string {
	seen := make(map[string]struct{})
	for _, v := range c.Categorical {
		if v != "" {
			seen[v] = struct{}{}
		}
	}
	levels := make([]string, 0, len(seen))
	for v := range seen {
		levels = append(levels, v)
	}
	sort.Strings(levels)
	return levels
}

// UniqueCount returns the number of distinct non-missing values
func (c *Column) UniqueCount() int {
	if c.Kind == KindCategorical {
		return len(c.Levels())
	}
	seen := make(map[float64]struct{})
	for _, v := range c.Numeric {
		if !math.IsNaN(v) {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}

// Counts returns the frequency of each non-missing categorical value
func (c *Column) Counts() map[string]int {
	counts := make(map[string]int)
	for _, v := range c.Categorical {
		if v != "" {
			counts[v]++
		}
	}
	return counts
}

func (c *Column) subset(rows []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Kind == KindNumeric {
		out.Numeric = make([]float64, len(rows))
		for i, r := range rows {
			out.Numeric[i] = c.Numeric[r]
		}
	} else {
		out.Categorical = make([]string, len(rows))
		for i, r := range rows {
			out.Categorical[i] = c.Categorical[r]
		}
	}
	return out
}

// Frame is an immutable-by-convention table of equally long columns
type Frame struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// NewFrame creates an empty frame
func NewFrame() *Frame {
	return &Frame{index: make(map[string]int)}
}

// AddNumeric appends a numeric column
func (f *Frame) AddNumeric(name string, values []float64) error {
	return f.add(&Column{Name: name, Kind: KindNumeric, Numeric: values})
}

// AddCategorical appends a categorical column
func (f *Frame) AddCategorical(name string, values []string) error {
	return f.add(&Column{Name: name, Kind: KindCategorical, Categorical: values})
}

func (f *Frame) add(col *Column) error {
	if col.Name == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "column name must not be empty")
	}
	if _, exists := f.index[col.Name]; exists {
		return errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("duplicate column %q", col.Name))
	}
	if len(f.columns) > 0 && col.Len() != f.rows {
		return errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("column %q has %d rows, frame has %d", col.Name, col.Len(), f.rows))
	}
	f.rows = col.Len()
	f.index[col.Name] = len(f.columns)
	f.columns = append(f.columns, col)
	return nil
}

// Rows returns the number of rows
func (f *Frame) Rows() int {
	return f.rows
}

// Columns returns the columns in insertion order
func (f *Frame) Columns() []*Column {
	return f.columns
}

// Column looks up a column by name
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.columns[i], true
}

// Has reports whether the frame has the named column
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Names returns the column names in insertion order
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

// NamesOfKind returns the names of columns of the given kind
func (f *Frame) NamesOfKind(kind ColumnKind) []string {
	var names []string
	for _, c := range f.columns {
		if c.Kind == kind {
			names = append(names, c.Name)
		}
	}
	return names
}

// SharedColumns returns the columns present in both frames with the same
// kind, in f's order
func (f *Frame) SharedColumns(other *Frame) []string {
	var shared []string
	for _, c := range f.columns {
		if oc, ok := other.Column(c.Name); ok && oc.Kind == c.Kind {
			shared = append(shared, c.Name)
		}
	}
	return shared
}

// Select returns a new frame holding the given rows in order
func (f *Frame) Select(rows []int) *Frame {
	out := NewFrame()
	for _, c := range f.columns {
		sub := c.subset(rows)
		out.index[sub.Name] = len(out.columns)
		out.columns = append(out.columns, sub)
	}
	out.rows = len(rows)
	return out
}

// Project returns a new frame restricted to the named columns. Column data
// is shared with f.
func (f *Frame) Project(names ...string) (*Frame, error) {
	out := NewFrame()
	for _, name := range names {
		c, ok := f.Column(name)
		if !ok {
			return nil, errors.NewColumnNotFoundError(name, "frame")
		}
		if err := out.add(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Without returns a new frame without the named column
func (f *Frame) Without(name string) *Frame {
	out := NewFrame()
	for _, c := range f.columns {
		if c.Name != name {
			out.index[c.Name] = len(out.columns)
			out.columns = append(out.columns, c)
		}
	}
	out.rows = f.rows
	if len(out.columns) == 0 {
		out.rows = 0
	}
	return out
}

// CompleteRows returns the indices of rows with no missing value in the
// named columns
func (f *Frame) CompleteRows(names ...string) []int {
	cols := make([]*Column, 0, len(names))
	for _, name := range names {
		if c, ok := f.Column(name); ok {
			cols = append(cols, c)
		}
	}
	rows := make([]int, 0, f.rows)
	for i := 0; i < f.rows; i++ {
		complete := true
		for _, c := range cols {
			if c.IsMissing(i) {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, i)
		}
	}
	return rows
}
