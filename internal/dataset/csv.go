package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/inferloop/synthcert/pkg/errors"
)

// CSVOptions controls CSV parsing
type CSVOptions struct {
	Delimiter rune
	// Categorical forces the named columns to be categorical even when every
	// value parses as a number.
	Categorical []string
	// NullValues are treated as missing in addition to the empty string
	NullValues []string
}

// DefaultCSVOptions returns comma-separated parsing with the usual null tokens
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:  ',',
		NullValues: []string{"NA", "N/A", "NaN", "nan", "null", "NULL", "None"},
	}
}

// LoadCSV reads a CSV file from disk
func LoadCSV(path string, opts CSVOptions) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeReadFailed,
			fmt.Sprintf("failed to open %s", path))
	}
	defer file.Close()

	frame, err := ReadCSV(file, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return frame, nil
}

// ReadCSV parses a CSV stream with a header row. A column is numeric when
// every non-missing value parses as a float.
func ReadCSV(r io.Reader, opts CSVOptions) (*Frame, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeReadFailed, "failed to parse CSV")
	}
	if len(records) == 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "CSV input has no header row")
	}

	header := records[0]
	rows := records[1:]

	nulls := make(map[string]struct{}, len(opts.NullValues))
	for _, v := range opts.NullValues {
		nulls[v] = struct{}{}
	}
	forced := make(map[string]struct{}, len(opts.Categorical))
	for _, v := range opts.Categorical {
		forced[v] = struct{}{}
	}

	frame := NewFrame()
	for j, rawName := range header {
		name := strings.TrimSpace(rawName)
		raw := make([]string, len(rows))
		for i, row := range rows {
			v := strings.TrimSpace(row[j])
			if _, isNull := nulls[v]; isNull {
				v = ""
			}
			raw[i] = v
		}

		_, isForced := forced[name]
		if values, ok := parseNumeric(raw); ok && !isForced {
			err = frame.AddNumeric(name, values)
		} else {
			err = frame.AddCategorical(name, raw)
		}
		if err != nil {
			return nil, err
		}
	}

	return frame, nil
}

func parseNumeric(raw []string) ([]float64, bool) {
	values := make([]float64, len(raw))
	seen := false
	for i, v := range raw {
		if v == "" {
			values[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, false
		}
		values[i] = f
		seen = true
	}
	return values, seen
}

// WriteCSV writes the frame with a header row. Missing values are written
// as empty fields.
func WriteCSV(w io.Writer, f *Frame) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(f.Names()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	cols := f.Columns()
	row := make([]string, len(cols))
	for i := 0; i < f.Rows(); i++ {
		for j, c := range cols {
			switch {
			case c.IsMissing(i):
				row[j] = ""
			case c.Kind == KindNumeric:
				row[j] = strconv.FormatFloat(c.Numeric[i], 'g', -1, 64)
			default:
				row[j] = c.Categorical[i]
			}
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
